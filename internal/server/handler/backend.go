package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
	"github.com/alanyoungcy/cryptoworld/internal/platform/backend"
)

// BackendService is the persistence backend's watchlist store.
type BackendService interface {
	List(ctx context.Context, userID string) ([]domain.WatchedCoin, error)
	Add(ctx context.Context, userID string, coin domain.WatchedCoin) error
	Remove(ctx context.Context, userID, identifier string) error
}

// BackendHandler serves the persistence backend's watchlist API. Callers may
// only touch the watchlist of the user their bearer token was issued to.
type BackendHandler struct {
	store   BackendService
	session domain.SessionCoordinator
	logger  *slog.Logger
}

// NewBackendHandler creates a BackendHandler.
func NewBackendHandler(store BackendService, session domain.SessionCoordinator, logger *slog.Logger) *BackendHandler {
	return &BackendHandler{store: store, session: session, logger: logHandler(logger, "backend")}
}

// List returns the user's entries in insertion order.
// GET /api/watchlist/{userID}
func (h *BackendHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := pathParam(r, "userID")
	if err := h.authorize(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.logger, "authorize", err)
		return
	}

	coins, err := h.store.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list watchlist", err)
		return
	}

	entries := make([]backend.APIEntry, 0, len(coins))
	for _, c := range coins {
		entries = append(entries, backend.FromDomainCoin(c))
	}
	writeJSON(w, http.StatusOK, entries)
}

// Add stores an entry. An existing entry answers 409.
// POST /api/watchlist/add
func (h *BackendHandler) Add(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEntry(w, r)
	if !ok {
		return
	}

	err := h.store.Add(r.Context(), req.UserID, domain.WatchedCoin{
		Identifier:  req.CryptoName,
		DisplayName: req.DisplayName,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "add entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"status":     "added",
		"cryptoName": req.CryptoName,
	})
}

// Remove deletes an entry. A missing entry answers 404.
// DELETE /api/watchlist/remove
func (h *BackendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeEntry(w, r)
	if !ok {
		return
	}

	if err := h.store.Remove(r.Context(), req.UserID, req.CryptoName); err != nil {
		writeServiceError(w, r, h.logger, "remove entry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":     "removed",
		"cryptoName": req.CryptoName,
	})
}

func (h *BackendHandler) decodeEntry(w http.ResponseWriter, r *http.Request) (backend.EntryRequest, bool) {
	var req backend.EntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return req, false
	}
	if strings.TrimSpace(req.CryptoName) == "" || strings.TrimSpace(req.UserID) == "" {
		writeError(w, http.StatusBadRequest, "cryptoName and userId are required")
		return req, false
	}
	if err := h.authorize(r.Context(), req.UserID); err != nil {
		writeServiceError(w, r, h.logger, "authorize", err)
		return req, false
	}
	return req, true
}

// authorize checks that the caller's token was issued to userID.
func (h *BackendHandler) authorize(ctx context.Context, userID string) error {
	ident, err := h.session.Identity(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrAuthRequired, err)
	}
	if ident.ID != userID {
		return fmt.Errorf("%w: token for %s used on %s", domain.ErrUnauthorized, ident.ID, userID)
	}
	return nil
}
