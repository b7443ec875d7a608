package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// ListingReader reads the shared listing.
type ListingReader interface {
	Listing(ctx context.Context) domain.Listing
}

// StatusHandler reports the process mode and listing freshness.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	listing   ListingReader
}

// NewStatusHandler creates a StatusHandler. listing may be nil in modes that
// serve no market data.
func NewStatusHandler(mode string, startedAt time.Time, listing ListingReader) *StatusHandler {
	return &StatusHandler{mode: mode, startedAt: startedAt, listing: listing}
}

// GetStatus responds with the mode, uptime and listing state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}
	if h.listing != nil {
		l := h.listing.Listing(r.Context())
		resp["listing_coins"] = len(l.Coins)
		if !l.FetchedAt.IsZero() {
			resp["listing_fetched_at"] = l.FetchedAt.Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
