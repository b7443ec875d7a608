package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// HistoryFetcher fetches price history through the throttled gateway.
type HistoryFetcher interface {
	FetchHistory(ctx context.Context, id string, rangeDays int) (domain.History, error)
}

type viewerHistory struct {
	generation uint64
	current    *domain.History
}

// HistoryService tracks the price history each viewer has selected. A
// response that arrives after a newer selection by the same viewer is
// discarded.
type HistoryService struct {
	gateway    HistoryFetcher
	listing    ListingSource
	normalizer *Normalizer
	logger     *slog.Logger

	mu      sync.Mutex
	viewers map[string]*viewerHistory
}

// NewHistoryService creates a HistoryService.
func NewHistoryService(gateway HistoryFetcher, listing ListingSource, normalizer *Normalizer, logger *slog.Logger) *HistoryService {
	return &HistoryService{
		gateway:    gateway,
		listing:    listing,
		normalizer: normalizer,
		logger:     logger.With(slog.String("component", "history_service")),
		viewers:    make(map[string]*viewerHistory),
	}
}

// Select fetches the history of coin id over rangeDays for viewerKey and
// makes it the viewer's current history. If the viewer selects again before
// this fetch completes, the result is dropped with domain.ErrSuperseded.
func (s *HistoryService) Select(ctx context.Context, viewerKey, id string, rangeDays int) (domain.History, error) {
	if strings.TrimSpace(viewerKey) == "" {
		return domain.History{}, fmt.Errorf("history: %w: empty viewer", domain.ErrInvalidInput)
	}
	if rangeDays <= 0 {
		return domain.History{}, fmt.Errorf("history: %w: range must be positive, got %d", domain.ErrInvalidInput, rangeDays)
	}

	canonical, err := s.normalizer.Canonicalize(
		domain.WatchedCoin{Identifier: id, DisplayName: id},
		s.listing.Listing(ctx).Candidates(),
	)
	if err != nil {
		return domain.History{}, fmt.Errorf("history: %w", err)
	}

	s.mu.Lock()
	v, ok := s.viewers[viewerKey]
	if !ok {
		v = &viewerHistory{}
		s.viewers[viewerKey] = v
	}
	v.generation++
	gen := v.generation
	s.mu.Unlock()

	h, err := s.gateway.FetchHistory(ctx, canonical, rangeDays)

	s.mu.Lock()
	defer s.mu.Unlock()
	if v.generation != gen {
		s.logger.DebugContext(ctx, "history: dropping superseded response",
			slog.String("viewer", viewerKey),
			slog.String("coin", canonical),
			slog.Int("days", rangeDays),
		)
		return domain.History{}, fmt.Errorf("history: %s %dd: %w", canonical, rangeDays, domain.ErrSuperseded)
	}
	if err != nil {
		return domain.History{}, fmt.Errorf("history: %w", err)
	}
	v.current = &h
	return h, nil
}

// Current returns the last history accepted for viewerKey.
func (s *HistoryService) Current(viewerKey string) (domain.History, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.viewers[viewerKey]
	if !ok || v.current == nil {
		return domain.History{}, false
	}
	h := *v.current
	h.Points = append([]domain.PricePoint(nil), h.Points...)
	return h, true
}
