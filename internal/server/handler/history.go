package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const defaultHistoryDays = 7

// HistoryService selects price histories per viewer.
type HistoryService interface {
	Select(ctx context.Context, viewerKey, id string, rangeDays int) (domain.History, error)
	Current(viewerKey string) (domain.History, bool)
}

// HistoryHandler serves price history for the coin a viewer is looking at.
type HistoryHandler struct {
	history HistoryService
	session domain.SessionCoordinator
	logger  *slog.Logger
}

// NewHistoryHandler creates a HistoryHandler.
func NewHistoryHandler(history HistoryService, session domain.SessionCoordinator, logger *slog.Logger) *HistoryHandler {
	return &HistoryHandler{history: history, session: session, logger: logHandler(logger, "history")}
}

// Select fetches and selects a coin's history.
// GET /api/me/history?id=bitcoin&days=30
func (h *HistoryHandler) Select(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id query parameter required")
		return
	}
	days, err := intParam(r, "days", defaultHistoryDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hist, err := h.history.Select(r.Context(), viewer, id, days)
	if err != nil {
		writeServiceError(w, r, h.logger, "select history", err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// Current returns the viewer's last accepted history.
// GET /api/me/history/current
func (h *HistoryHandler) Current(w http.ResponseWriter, r *http.Request) {
	viewer, ok := h.viewer(w, r)
	if !ok {
		return
	}
	hist, found := h.history.Current(viewer)
	if !found {
		writeError(w, http.StatusNotFound, "no history selected")
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// Ranges lists the preset history ranges in days.
// GET /api/history/ranges
func (h *HistoryHandler) Ranges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ranges":            domain.HistoryRangePresets,
		"hourly_up_to_days": domain.HourlyRangeLimitDays,
	})
}

func (h *HistoryHandler) viewer(w http.ResponseWriter, r *http.Request) (string, bool) {
	ident, err := h.session.Identity(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "identify viewer", err)
		return "", false
	}
	return ident.ID, true
}
