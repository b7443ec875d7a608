// Package server exposes the watchlist and market-data API over HTTP and
// WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
	"github.com/alanyoungcy/cryptoworld/internal/server/handler"
	"github.com/alanyoungcy/cryptoworld/internal/server/middleware"
	"github.com/alanyoungcy/cryptoworld/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, API key checks are disabled

	// Limiter and RateLimitPerMinute throttle each client IP; a nil Limiter
	// disables throttling.
	Limiter            domain.RateLimiter
	RateLimitPerMinute int

	// TokenVerifier authenticates calls to the persistence backend routes.
	TokenVerifier middleware.TokenVerifier

	// DefaultSession serves requests that carry no identity, when set.
	DefaultSession domain.SessionCoordinator
}

// Handlers aggregates the HTTP handlers the server registers. Nil groups are
// skipped, so one server type serves every mode.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Markets   *handler.MarketHandler
	Watchlist *handler.WatchlistHandler
	History   *handler.HistoryHandler
	Backend   *handler.BackendHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain applied.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, wsHub, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if handlers.Status != nil {
		mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	}

	// Anonymous market data.
	if h := handlers.Markets; h != nil {
		mux.HandleFunc("GET /api/markets", h.ListMarkets)
		mux.HandleFunc("GET /api/listing", h.GetListing)
		mux.HandleFunc("POST /api/listing/refresh", h.RefreshListing)
		mux.HandleFunc("GET /api/search", h.Search)
	}

	// The signed-in user's watchlist.
	if h := handlers.Watchlist; h != nil {
		mux.HandleFunc("GET /api/me/watchlist", h.View)
		mux.HandleFunc("POST /api/me/watchlist", h.Add)
		mux.HandleFunc("POST /api/me/watchlist/reload", h.Reload)
		mux.HandleFunc("DELETE /api/me/watchlist/{id}", h.Remove)
	}
	if h := handlers.History; h != nil {
		mux.HandleFunc("GET /api/me/history", h.Select)
		mux.HandleFunc("GET /api/me/history/current", h.Current)
		mux.HandleFunc("GET /api/history/ranges", h.Ranges)
	}

	// Persistence backend.
	if h := handlers.Backend; h != nil && cfg.TokenVerifier != nil {
		bearer := middleware.BearerAuth(cfg.TokenVerifier)
		mux.Handle("GET /api/watchlist/{userID}", bearer(http.HandlerFunc(h.List)))
		mux.Handle("POST /api/watchlist/add", bearer(http.HandlerFunc(h.Add)))
		mux.Handle("DELETE /api/watchlist/remove", bearer(http.HandlerFunc(h.Remove)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Session(cfg.DefaultSession, cfg.TokenVerifier)(h)
	if cfg.Limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}
	// Backend routes carry their own bearer auth.
	h = middleware.Auth(cfg.APIKey, "/api/health", "/api/watchlist/")(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
