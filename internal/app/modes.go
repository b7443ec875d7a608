package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
	"github.com/alanyoungcy/cryptoworld/internal/platform/backend"
	"github.com/alanyoungcy/cryptoworld/internal/platform/coingecko"
	"github.com/alanyoungcy/cryptoworld/internal/server"
	"github.com/alanyoungcy/cryptoworld/internal/server/handler"
	"github.com/alanyoungcy/cryptoworld/internal/server/ws"
	"github.com/alanyoungcy/cryptoworld/internal/service"
	"github.com/alanyoungcy/cryptoworld/internal/session"
)

const shutdownTimeout = 5 * time.Second

// ClientMode serves market data and user watchlists, persisting watchlists
// through a remote backend.
func (a *App) ClientMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting client mode")
	return a.run(ctx, deps, a.cfg.Backend.BaseURL)
}

// BackendMode serves only the watchlist persistence API.
func (a *App) BackendMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting backend mode")
	return a.run(ctx, deps, "")
}

// FullMode runs client and backend in one process. Unless a backend URL is
// configured, the client persists through this process's own backend routes.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")
	backendURL := a.cfg.Backend.BaseURL
	if backendURL == "" {
		backendURL = fmt.Sprintf("http://127.0.0.1:%d", a.cfg.Server.Port)
	}
	return a.run(ctx, deps, backendURL)
}

func (a *App) run(ctx context.Context, deps *Dependencies, backendURL string) error {
	g, ctx := errgroup.WithContext(ctx)

	operator := a.operatorSession(deps)
	sess := session.Contextual{Fallback: operator}

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
	}
	srvCfg := server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		APIKey:             a.cfg.Server.APIKey,
		Limiter:            deps.RateLimiter,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
		DefaultSession:     operator,
	}

	var (
		hub     *ws.Hub
		listing handler.ListingReader
	)
	if a.cfg.RunsClient() {
		gateway, watchlists := a.startClient(ctx, g, deps, sess, backendURL, &handlers)
		listing = gateway

		hub = ws.NewHub(deps.SignalBus, sess, a.logger, ws.Config{
			Mode:             a.cfg.Mode,
			ListingChannel:   service.ListingChannel,
			WatchlistPattern: service.WatchlistChannelPrefix + "*",
			CheckOrigin:      originChecker(a.cfg.Server.CORSOrigins),
			Authorizer:       watchlists,
		})
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	if a.cfg.RunsBackend() {
		if deps.WatchlistRepo == nil || deps.Tokens == nil {
			return fmt.Errorf("app: backend needs postgres and a token secret")
		}
		store := service.NewBackendService(deps.WatchlistRepo, a.logger)
		handlers.Backend = handler.NewBackendHandler(store, sess, a.logger)
		srvCfg.TokenVerifier = deps.Tokens
	}

	handlers.Status = handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), listing)

	srv := server.NewServer(srvCfg, handlers, hub, a.logger)
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// startClient builds the market-data and watchlist services, registers their
// handlers and starts the listing refresher when one is configured. It
// returns the market gateway and the watchlist service.
func (a *App) startClient(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	sess domain.SessionCoordinator,
	backendURL string,
	handlers *server.Handlers,
) (*service.MarketGateway, *service.WatchlistService) {
	cg := a.cfg.CoinGecko
	provider := coingecko.NewClient(cg.BaseURL,
		coingecko.WithAPIKey(cg.APIKey),
		coingecko.WithTimeout(cg.Timeout.Duration),
		coingecko.WithLogger(a.logger),
	)

	var archiver service.ListingArchiver
	if deps.ListingArchive != nil {
		archiver = deps.ListingArchive
		warmListing(ctx, deps, a.cfg.S3.WarmStartDays, a.logger)
	}

	gateway := service.NewMarketGateway(provider, deps.RateLimiter, deps.ListingCache, deps.SignalBus, archiver,
		service.GatewayConfig{
			RequestsPerMinute: cg.RequestsPerMinute,
			CoalesceWindow:    cg.CoalesceWindow.Duration,
			ListingSize:       cg.ListingSize,
		}, a.logger)

	normalizer := service.NewNormalizer()
	backendClient := backend.NewClient(backendURL, a.cfg.Backend.Timeout.Duration)
	listing := service.NewOnDemandListing(gateway, a.logger)
	watchlists := service.NewWatchlistService(backendClient, sess, deps.LockManager, listing, normalizer, deps.SignalBus, a.logger)
	views := service.NewAggregationService(watchlists, gateway, listing, sess, normalizer, a.logger)
	history := service.NewHistoryService(gateway, listing, normalizer, a.logger)

	handlers.Markets = handler.NewMarketHandler(gateway, normalizer, a.logger)
	handlers.Watchlist = handler.NewWatchlistHandler(watchlists, views, sess, a.logger)
	handlers.History = handler.NewHistoryHandler(history, sess, a.logger)

	if cg.ListingRefresh.Duration > 0 {
		refresher := service.NewListingRefresher(gateway, cg.ListingRefresh.Duration, a.logger)
		g.Go(func() error {
			if err := refresher.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	a.logger.InfoContext(ctx, "client services ready",
		slog.String("backend", backendURL),
		slog.Int("requests_per_minute", cg.RequestsPerMinute),
	)
	return gateway, watchlists
}

// operatorSession returns the configured operator session, or nil when no
// operator user is set. Without a configured token, tokens are minted with
// the backend token secret.
func (a *App) operatorSession(deps *Dependencies) domain.SessionCoordinator {
	sc := a.cfg.Session
	if sc.UserID == "" {
		return nil
	}

	ident := domain.Identity{ID: sc.UserID, Email: sc.Email}
	if sc.Token == "" && deps.Tokens != nil {
		return session.NewSigned(ident, deps.Tokens, sc.TokenTTL.Duration)
	}
	return session.NewStatic(ident, sc.Token)
}

// originChecker allows WebSocket upgrades from the CORS origins; nil (any
// origin) when none are configured.
func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return nil
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}
