package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// ListingRefreshSource refreshes and reads the shared listing.
type ListingRefreshSource interface {
	RefreshListing(ctx context.Context) (domain.Listing, error)
	Listing(ctx context.Context) domain.Listing
}

// ListingRefresher keeps the shared listing current by refreshing it on a
// fixed interval. Each refresh spends one unit of the provider budget, so it
// only runs when coingecko.listing_refresh is configured.
type ListingRefresher struct {
	source   ListingRefreshSource
	interval time.Duration
	logger   *slog.Logger
}

// NewListingRefresher creates a ListingRefresher.
func NewListingRefresher(source ListingRefreshSource, interval time.Duration, logger *slog.Logger) *ListingRefresher {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ListingRefresher{
		source:   source,
		interval: interval,
		logger:   logger.With(slog.String("component", "listing_refresher")),
	}
}

// Run refreshes immediately when the listing is empty, then on every tick
// until ctx is cancelled. Call in a goroutine.
func (r *ListingRefresher) Run(ctx context.Context) error {
	if r.source.Listing(ctx).Empty() {
		r.refresh(ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *ListingRefresher) refresh(ctx context.Context) {
	_, err := r.source.RefreshListing(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRateLimited):
		r.logger.DebugContext(ctx, "listing refresh skipped, budget exhausted")
	case ctx.Err() != nil:
	default:
		r.logger.ErrorContext(ctx, "listing refresh failed", slog.String("error", err.Error()))
	}
}

// onDemandRetry is the minimum gap between pulls of a still-empty listing.
const onDemandRetry = time.Minute

// OnDemandListing is a ListingSource that pulls the listing the first time
// it is needed. Once the shared listing is populated it is only read; later
// refreshes are explicit.
type OnDemandListing struct {
	source ListingRefreshSource
	logger *slog.Logger
	now    func() time.Time

	mu          sync.Mutex
	lastAttempt time.Time
}

// NewOnDemandListing creates an OnDemandListing over source.
func NewOnDemandListing(source ListingRefreshSource, logger *slog.Logger) *OnDemandListing {
	return &OnDemandListing{
		source: source,
		logger: logger.With(slog.String("component", "listing_on_demand")),
		now:    time.Now,
	}
}

// Listing returns the shared listing, pulling it first when it is empty. A
// failed pull yields the empty listing and is not retried for a minute.
func (l *OnDemandListing) Listing(ctx context.Context) domain.Listing {
	if listing := l.source.Listing(ctx); !listing.Empty() {
		return listing
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Another caller may have pulled it while we waited.
	if listing := l.source.Listing(ctx); !listing.Empty() {
		return listing
	}
	now := l.now()
	if !l.lastAttempt.IsZero() && now.Sub(l.lastAttempt) < onDemandRetry {
		return domain.Listing{}
	}
	l.lastAttempt = now

	listing, err := l.source.RefreshListing(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "listing pull failed", slog.String("error", err.Error()))
		return domain.Listing{}
	}
	return listing
}
