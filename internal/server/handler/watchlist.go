package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// WatchlistService is the user-facing watchlist store.
type WatchlistService interface {
	Add(ctx context.Context, userID string, coin domain.WatchedCoin) (domain.UserWatchlist, error)
	Remove(ctx context.Context, userID, identifier string) (domain.UserWatchlist, error)
	Load(ctx context.Context, userID string) (domain.UserWatchlist, error)
}

// AggregationService builds the watchlist view.
type AggregationService interface {
	View(ctx context.Context, userID string, refresh bool) (domain.Aggregation, error)
}

// WatchlistHandler serves the signed-in user's watchlist.
type WatchlistHandler struct {
	watchlists WatchlistService
	views      AggregationService
	session    domain.SessionCoordinator
	logger     *slog.Logger
}

// NewWatchlistHandler creates a WatchlistHandler.
func NewWatchlistHandler(watchlists WatchlistService, views AggregationService, session domain.SessionCoordinator, logger *slog.Logger) *WatchlistHandler {
	return &WatchlistHandler{
		watchlists: watchlists,
		views:      views,
		session:    session,
		logger:     logHandler(logger, "watchlist"),
	}
}

type viewResponse struct {
	domain.Aggregation
	Error string `json:"error,omitempty"`
}

type addRequest struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

type mutationResponse struct {
	Watchlist      domain.UserWatchlist `json:"watchlist"`
	AlreadyPresent bool                 `json:"already_present,omitempty"`
}

// View returns the aggregated watchlist. refresh=true forces fresh market data.
// GET /api/me/watchlist?refresh=true
func (h *WatchlistHandler) View(w http.ResponseWriter, r *http.Request) {
	refresh := r.URL.Query().Get("refresh") == "true"

	agg, err := h.views.View(r.Context(), "", refresh)
	if err != nil {
		writeServiceError(w, r, h.logger, "view watchlist", err)
		return
	}

	resp := viewResponse{Aggregation: agg}
	if agg.Err != nil {
		_, resp.Error = statusFor(agg.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Reload re-reads the watchlist from the persistence backend.
// POST /api/me/watchlist/reload
func (h *WatchlistHandler) Reload(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	wl, err := h.watchlists.Load(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "reload watchlist", err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Watchlist: wl})
}

// Add watches a coin given by id or display name.
// POST /api/me/watchlist
func (h *WatchlistHandler) Add(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req addRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ID) == "" && strings.TrimSpace(req.DisplayName) == "" {
		writeError(w, http.StatusBadRequest, "id or display_name is required")
		return
	}

	wl, err := h.watchlists.Add(r.Context(), userID, domain.WatchedCoin{
		Identifier:  req.ID,
		DisplayName: req.DisplayName,
	})
	if errors.Is(err, domain.ErrAlreadyWatched) {
		writeJSON(w, http.StatusOK, mutationResponse{Watchlist: wl, AlreadyPresent: true})
		return
	}
	if err != nil {
		writeServiceError(w, r, h.logger, "add to watchlist", err)
		return
	}
	writeJSON(w, http.StatusCreated, mutationResponse{Watchlist: wl})
}

// Remove stops watching a coin. Removing an unwatched coin succeeds.
// DELETE /api/me/watchlist/{id}
func (h *WatchlistHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing coin id")
		return
	}

	wl, err := h.watchlists.Remove(r.Context(), userID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, "remove from watchlist", err)
		return
	}
	writeJSON(w, http.StatusOK, mutationResponse{Watchlist: wl})
}

func (h *WatchlistHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	ident, err := h.session.Identity(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "identify user", err)
		return "", false
	}
	return ident.ID, true
}
