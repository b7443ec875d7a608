package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const (
	defaultRequestsPerMinute = 3
	defaultBudgetWindow      = time.Minute
	defaultCoalesceWindow    = time.Minute
	defaultListingSize       = 250
	maxPerPage               = 250
	archiveTimeout           = 30 * time.Second
)

// MarketProvider is the raw market-data provider. Implementations perform
// exactly one upstream request per call.
type MarketProvider interface {
	Markets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error)
	MarketChart(ctx context.Context, id string, days int, granularity domain.Granularity) ([]domain.PricePoint, error)
}

// ListingArchiver persists refreshed listings to cold storage.
type ListingArchiver interface {
	ArchiveListing(ctx context.Context, listing domain.Listing) error
}

// GatewayConfig tunes the request discipline of a MarketGateway.
type GatewayConfig struct {
	// BudgetKey names the shared rate-limit bucket for the provider.
	BudgetKey         string
	RequestsPerMinute int
	BudgetWindow      time.Duration
	// CoalesceWindow is how long a successful response answers identical
	// requests without touching the provider.
	CoalesceWindow time.Duration
	ListingSize    int
}

func (c *GatewayConfig) setDefaults() {
	if c.BudgetKey == "" {
		c.BudgetKey = "coingecko"
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.BudgetWindow <= 0 {
		c.BudgetWindow = defaultBudgetWindow
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = defaultCoalesceWindow
	}
	if c.ListingSize <= 0 || c.ListingSize > maxPerPage {
		c.ListingSize = defaultListingSize
	}
}

// coalesced is a recent successful response kept for the coalescing window.
type coalesced struct {
	value any
	at    time.Time
}

// MarketGateway is the throttled, coalescing front of the market-data
// provider. A request over budget fails with domain.ErrRateLimited and is
// never retried here.
type MarketGateway struct {
	provider MarketProvider
	limiter  domain.RateLimiter
	listing  domain.ListingCache
	bus      domain.SignalBus
	archiver ListingArchiver
	cfg      GatewayConfig
	logger   *slog.Logger
	now      func() time.Time

	group  singleflight.Group
	mu     sync.Mutex
	recent map[string]coalesced
}

// NewMarketGateway creates a MarketGateway. bus and archiver may be nil.
func NewMarketGateway(
	provider MarketProvider,
	limiter domain.RateLimiter,
	listing domain.ListingCache,
	bus domain.SignalBus,
	archiver ListingArchiver,
	cfg GatewayConfig,
	logger *slog.Logger,
) *MarketGateway {
	cfg.setDefaults()
	return &MarketGateway{
		provider: provider,
		limiter:  limiter,
		listing:  listing,
		bus:      bus,
		archiver: archiver,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "market_gateway")),
		now:      time.Now,
		recent:   make(map[string]coalesced),
	}
}

// FetchMarkets returns market snapshots for q. Identical queries inside the
// coalescing window share one upstream request.
func (g *MarketGateway) FetchMarkets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error) {
	q, err := normaliseQuery(q)
	if err != nil {
		return nil, err
	}

	key := marketsKey(q)
	v, err := g.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		return g.provider.Markets(ctx, q)
	})
	if err != nil {
		return nil, fmt.Errorf("market_gateway: fetch markets: %w", err)
	}

	snaps := v.([]domain.MarketSnapshot)
	out := make([]domain.MarketSnapshot, len(snaps))
	copy(out, snaps)
	return out, nil
}

// FetchHistory returns the USD price history of id over rangeDays days.
// Ranges up to seven days are sampled hourly, longer ranges daily.
func (g *MarketGateway) FetchHistory(ctx context.Context, id string, rangeDays int) (domain.History, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.History{}, fmt.Errorf("market_gateway: %w: empty coin id", domain.ErrInvalidInput)
	}
	if rangeDays <= 0 {
		return domain.History{}, fmt.Errorf("market_gateway: %w: range must be positive, got %d", domain.ErrInvalidInput, rangeDays)
	}

	granularity := domain.GranularityFor(rangeDays)
	key := "history:" + id + ":" + strconv.Itoa(rangeDays)
	v, err := g.coalesce(ctx, key, func(ctx context.Context) (any, error) {
		points, err := g.provider.MarketChart(ctx, id, rangeDays, granularity)
		if err != nil {
			return nil, err
		}
		return domain.History{
			Identifier:  id,
			RangeDays:   rangeDays,
			Granularity: granularity,
			Points:      points,
			FetchedAt:   g.now().UTC(),
		}, nil
	})
	if err != nil {
		return domain.History{}, fmt.Errorf("market_gateway: fetch history %s: %w", id, err)
	}

	h := v.(domain.History)
	h.Points = append([]domain.PricePoint(nil), h.Points...)
	return h, nil
}

// RefreshListing pulls the full-market listing and replaces the shared
// listing cache with it.
func (g *MarketGateway) RefreshListing(ctx context.Context) (domain.Listing, error) {
	snaps, err := g.FetchMarkets(ctx, domain.MarketQuery{Page: 1, PerPage: g.cfg.ListingSize})
	if err != nil {
		return domain.Listing{}, err
	}

	current, cerr := g.listing.Current(ctx)
	if len(snaps) == 0 {
		g.logger.WarnContext(ctx, "market_gateway: provider returned an empty listing, keeping current")
		return current, nil
	}

	listing := domain.Listing{Coins: snaps, FetchedAt: snaps[0].FetchedAt}
	if cerr == nil && !current.Empty() && !current.FetchedAt.Before(listing.FetchedAt) {
		// A coalesced answer; the cache already holds it.
		return current, nil
	}

	if err := g.listing.Replace(ctx, listing); err != nil {
		return domain.Listing{}, fmt.Errorf("market_gateway: replace listing: %w", err)
	}

	g.logger.InfoContext(ctx, "market_gateway: listing refreshed",
		slog.Int("coins", len(listing.Coins)),
		slog.Time("fetched_at", listing.FetchedAt),
	)

	g.publishListing(ctx, listing)
	g.archiveListing(ctx, listing)

	return listing, nil
}

// Listing returns the shared listing. A cache failure yields an empty listing.
func (g *MarketGateway) Listing(ctx context.Context) domain.Listing {
	listing, err := g.listing.Current(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "market_gateway: read listing failed",
			slog.String("error", err.Error()),
		)
		return domain.Listing{}
	}
	return listing
}

// coalesce answers key from a recent response, joins an identical in-flight
// request, or spends one unit of budget on a fresh request.
func (g *MarketGateway) coalesce(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	if v, ok := g.lookup(key); ok {
		return v, nil
	}

	v, err, _ := g.group.Do(key, func() (any, error) {
		if v, ok := g.lookup(key); ok {
			return v, nil
		}
		if err := g.spendBudget(ctx); err != nil {
			return nil, err
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		g.remember(key, v)
		return v, nil
	})
	return v, err
}

// spendBudget consumes one request from the provider budget. An exhausted
// budget is reported as domain.ErrRateLimited without waiting.
func (g *MarketGateway) spendBudget(ctx context.Context) error {
	allowed, err := g.limiter.Allow(ctx, g.cfg.BudgetKey, g.cfg.RequestsPerMinute, g.cfg.BudgetWindow)
	if err != nil {
		return fmt.Errorf("request budget unavailable: %w", err)
	}
	if !allowed {
		g.logger.WarnContext(ctx, "market_gateway: request budget exhausted",
			slog.Int("limit", g.cfg.RequestsPerMinute),
			slog.Duration("window", g.cfg.BudgetWindow),
		)
		return fmt.Errorf("%w: %d requests per %s", domain.ErrRateLimited, g.cfg.RequestsPerMinute, g.cfg.BudgetWindow)
	}
	return nil
}

func (g *MarketGateway) lookup(key string) (any, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	entry, ok := g.recent[key]
	if !ok {
		return nil, false
	}
	if g.now().Sub(entry.at) >= g.cfg.CoalesceWindow {
		delete(g.recent, key)
		return nil, false
	}
	return entry.value, true
}

func (g *MarketGateway) remember(key string, v any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, entry := range g.recent {
		if now.Sub(entry.at) >= g.cfg.CoalesceWindow {
			delete(g.recent, k)
		}
	}
	g.recent[key] = coalesced{value: v, at: now}
}

func (g *MarketGateway) publishListing(ctx context.Context, listing domain.Listing) {
	if g.bus == nil {
		return
	}
	evt, _ := json.Marshal(map[string]any{
		"event":      "listing.refreshed",
		"coins":      len(listing.Coins),
		"fetched_at": listing.FetchedAt.Format(time.RFC3339Nano),
	})
	if err := g.bus.Publish(ctx, ListingChannel, evt); err != nil {
		g.logger.WarnContext(ctx, "market_gateway: publish listing event failed",
			slog.String("error", err.Error()),
		)
	}
}

func (g *MarketGateway) archiveListing(ctx context.Context, listing domain.Listing) {
	if g.archiver == nil {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), archiveTimeout)
		defer cancel()
		if err := g.archiver.ArchiveListing(actx, listing); err != nil {
			g.logger.WarnContext(actx, "market_gateway: archive listing failed",
				slog.String("error", err.Error()),
			)
		}
	}()
}

// normaliseQuery validates q and returns it with ids trimmed, de-duplicated
// and sorted so equal id sets coalesce.
func normaliseQuery(q domain.MarketQuery) (domain.MarketQuery, error) {
	if q.Page < 0 {
		return q, fmt.Errorf("market_gateway: %w: page must be >= 1, got %d", domain.ErrInvalidInput, q.Page)
	}
	if q.PerPage < 0 || q.PerPage > maxPerPage {
		return q, fmt.Errorf("market_gateway: %w: per_page must be 1-%d, got %d", domain.ErrInvalidInput, maxPerPage, q.PerPage)
	}
	if q.Page == 0 {
		q.Page = 1
	}

	if len(q.IDs) > 0 {
		seen := make(map[string]bool, len(q.IDs))
		ids := make([]string, 0, len(q.IDs))
		for _, id := range q.IDs {
			id = strings.TrimSpace(id)
			if id == "" || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
		if len(ids) == 0 {
			return q, fmt.Errorf("market_gateway: %w: ids are all empty", domain.ErrInvalidInput)
		}
		sort.Strings(ids)
		q.IDs = ids
	}
	return q, nil
}

func marketsKey(q domain.MarketQuery) string {
	return fmt.Sprintf("markets:%s:%d:%d", strings.Join(q.IDs, ","), q.Page, q.PerPage)
}
