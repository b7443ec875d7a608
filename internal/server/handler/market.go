package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const (
	defaultPerPage     = 100
	defaultSearchLimit = 10
	maxSearchLimit     = 50
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error)
	RefreshListing(ctx context.Context) (domain.Listing, error)
	Listing(ctx context.Context) domain.Listing
}

// Searcher suggests listed coins for a search term.
type Searcher interface {
	Search(term string, pool []domain.Candidate, limit int) []domain.Candidate
}

// MarketHandler serves the anonymous market-data endpoints.
type MarketHandler struct {
	markets  MarketService
	searcher Searcher
	logger   *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, searcher Searcher, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets:  markets,
		searcher: searcher,
		logger:   logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	Markets []domain.MarketSnapshot `json:"markets"`
	Page    int                     `json:"page"`
	PerPage int                     `json:"per_page"`
}

// ListMarkets returns one page of the full market ordered by market cap, or
// the given coins when ids is set.
// GET /api/markets?page=1&per_page=100&ids=bitcoin,ethereum
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	perPage, err := intParam(r, "per_page", defaultPerPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := domain.MarketQuery{Page: page, PerPage: perPage}
	if ids := r.URL.Query().Get("ids"); ids != "" {
		q.IDs = strings.Split(ids, ",")
	}

	markets, err := h.markets.FetchMarkets(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.logger, "list markets", err)
		return
	}
	if markets == nil {
		markets = []domain.MarketSnapshot{}
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{Markets: markets, Page: page, PerPage: perPage})
}

// GetListing returns the shared listing as last refreshed.
// GET /api/listing
func (h *MarketHandler) GetListing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listingResponse(h.markets.Listing(r.Context())))
}

// RefreshListing pulls a fresh listing from the provider.
// POST /api/listing/refresh
func (h *MarketHandler) RefreshListing(w http.ResponseWriter, r *http.Request) {
	listing, err := h.markets.RefreshListing(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh listing", err)
		return
	}
	writeJSON(w, http.StatusOK, listingResponse(listing))
}

// Search suggests coins whose name contains q.
// GET /api/search?q=bit&limit=10
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	term := strings.TrimSpace(r.URL.Query().Get("q"))
	if term == "" {
		writeError(w, http.StatusBadRequest, "q query parameter required")
		return
	}
	limit, err := intParam(r, "limit", defaultSearchLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit = min(limit, maxSearchLimit)

	pool := h.markets.Listing(r.Context()).Candidates()
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   term,
		"results": h.searcher.Search(term, pool, limit),
	})
}

func listingResponse(l domain.Listing) map[string]any {
	coins := l.Coins
	if coins == nil {
		coins = []domain.MarketSnapshot{}
	}
	resp := map[string]any{"coins": coins}
	if !l.FetchedAt.IsZero() {
		resp["fetched_at"] = l.FetchedAt.Format(time.RFC3339Nano)
	}
	return resp
}
