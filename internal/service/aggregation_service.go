package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// MarketFetcher fetches market snapshots through the throttled gateway.
type MarketFetcher interface {
	FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error)
}

// WatchlistReader exposes the watchlist state aggregation is computed from.
type WatchlistReader interface {
	Authorize(ctx context.Context, userID string) error
	Load(ctx context.Context, userID string) (domain.UserWatchlist, error)
	Snapshot(userID string) (domain.UserWatchlist, bool)
}

// AggregationService joins watchlists with live market data. Results are
// memoized per user and recomputed only when the watchlist version changes
// or a refresh is requested.
type AggregationService struct {
	watchlists WatchlistReader
	markets    MarketFetcher
	listing    ListingSource
	session    domain.SessionCoordinator
	normalizer *Normalizer
	logger     *slog.Logger
	now        func() time.Time

	mu   sync.Mutex
	memo map[string]domain.Aggregation
}

// NewAggregationService creates an AggregationService.
func NewAggregationService(
	watchlists WatchlistReader,
	markets MarketFetcher,
	listing ListingSource,
	session domain.SessionCoordinator,
	normalizer *Normalizer,
	logger *slog.Logger,
) *AggregationService {
	return &AggregationService{
		watchlists: watchlists,
		markets:    markets,
		listing:    listing,
		session:    session,
		normalizer: normalizer,
		logger:     logger.With(slog.String("component", "aggregation_service")),
		now:        time.Now,
		memo:       make(map[string]domain.Aggregation),
	}
}

// Aggregate returns one row per watched coin, in watchlist order. It issues at
// most one market request. Provider and lookup failures never surface as an
// error; they mark rows unavailable and are reported in Aggregation.Err.
func (s *AggregationService) Aggregate(ctx context.Context, wl domain.UserWatchlist) domain.Aggregation {
	agg := domain.Aggregation{
		UserID:           wl.UserID,
		Rows:             make([]domain.AggregatedRow, len(wl.Coins)),
		WatchlistVersion: wl.Version,
		AggregatedAt:     s.now().UTC(),
	}

	pool := s.listing.Listing(ctx).Candidates()
	resolved := make([]string, len(wl.Coins))
	ids := make([]string, 0, len(wl.Coins))
	seen := make(map[string]bool, len(wl.Coins))
	for i, coin := range wl.Coins {
		id, err := s.normalizer.Canonicalize(coin, pool)
		if err != nil {
			s.logger.DebugContext(ctx, "aggregation: unresolved coin",
				slog.String("coin", coin.Identifier),
				slog.String("error", err.Error()),
			)
			continue
		}
		resolved[i] = id
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}

	var (
		byID     map[string]domain.MarketSnapshot
		fetchErr error
	)
	if len(ids) > 0 {
		snaps, err := s.markets.FetchMarkets(ctx, domain.MarketQuery{
			IDs:     ids,
			Page:    1,
			PerPage: min(len(ids), maxPerPage),
		})
		if err != nil {
			fetchErr = err
			s.logger.WarnContext(ctx, "aggregation: market fetch failed",
				slog.String("user_id", wl.UserID),
				slog.Int("coins", len(ids)),
				slog.String("error", err.Error()),
			)
		} else {
			byID = make(map[string]domain.MarketSnapshot, len(snaps))
			for _, snap := range snaps {
				byID[snap.Identifier] = snap
			}
		}
	}

	failReason := domain.ReasonFetchFailed
	if errors.Is(fetchErr, domain.ErrRateLimited) {
		failReason = domain.ReasonRateLimited
	}

	for i, coin := range wl.Coins {
		row := domain.AggregatedRow{Coin: coin}
		switch {
		case resolved[i] == "":
			row.Unavailable, row.Reason = true, domain.ReasonNotFound
		case fetchErr != nil:
			row.Unavailable, row.Reason = true, failReason
		default:
			if snap, ok := byID[resolved[i]]; ok {
				row.Snapshot = &snap
			} else {
				row.Unavailable, row.Reason = true, domain.ReasonNotFound
			}
		}
		agg.Rows[i] = row
	}
	agg.Err = fetchErr
	return agg
}

// View returns the aggregation for userID, the authenticated user. The memo is
// reused while the watchlist version is unchanged unless refresh is set.
// Only session failures are returned as errors; a watchlist that cannot be
// loaded yields an empty aggregation carrying the load error.
func (s *AggregationService) View(ctx context.Context, userID string, refresh bool) (domain.Aggregation, error) {
	ident, err := s.session.Identity(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			return domain.Aggregation{}, fmt.Errorf("aggregation: %w", err)
		}
		return domain.Aggregation{}, fmt.Errorf("aggregation: %w: %w", domain.ErrAuthRequired, err)
	}
	if userID == "" {
		userID = ident.ID
	}
	if userID != ident.ID {
		return domain.Aggregation{}, fmt.Errorf("aggregation: %w: %s cannot view %s", domain.ErrUnauthorized, ident.ID, userID)
	}

	if err := s.watchlists.Authorize(ctx, userID); err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			return domain.Aggregation{}, fmt.Errorf("aggregation: %w", err)
		}
		return domain.Aggregation{
			UserID:       userID,
			Rows:         []domain.AggregatedRow{},
			AggregatedAt: s.now().UTC(),
			Err:          err,
		}, nil
	}

	wl, ok := s.watchlists.Snapshot(userID)
	if !ok {
		wl, err = s.watchlists.Load(ctx, userID)
		if err != nil {
			if errors.Is(err, domain.ErrAuthRequired) {
				return domain.Aggregation{}, err
			}
			return domain.Aggregation{
				UserID:       userID,
				Rows:         []domain.AggregatedRow{},
				AggregatedAt: s.now().UTC(),
				Err:          err,
			}, nil
		}
	}

	if !refresh {
		if memo, ok := s.memoized(userID, wl.Version); ok {
			return memo, nil
		}
	}

	agg := s.Aggregate(ctx, wl)

	s.mu.Lock()
	if prev, ok := s.memo[userID]; !ok || prev.WatchlistVersion <= agg.WatchlistVersion {
		s.memo[userID] = agg
	}
	s.mu.Unlock()

	return cloneAggregation(agg), nil
}

func (s *AggregationService) memoized(userID string, version uint64) (domain.Aggregation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	memo, ok := s.memo[userID]
	if !ok || memo.WatchlistVersion != version {
		return domain.Aggregation{}, false
	}
	return cloneAggregation(memo), true
}

func cloneAggregation(a domain.Aggregation) domain.Aggregation {
	out := a
	out.Rows = make([]domain.AggregatedRow, len(a.Rows))
	copy(out.Rows, a.Rows)
	return out
}
