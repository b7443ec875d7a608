package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/cryptoworld/internal/blob/s3"
	"github.com/alanyoungcy/cryptoworld/internal/cache/redis"
	"github.com/alanyoungcy/cryptoworld/internal/config"
	"github.com/alanyoungcy/cryptoworld/internal/crypto"
	"github.com/alanyoungcy/cryptoworld/internal/domain"
	"github.com/alanyoungcy/cryptoworld/internal/store/postgres"
)

// Dependencies bundles the infrastructure the application modes run on. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Redis-backed coordination shared by every client process.
	RateLimiter  domain.RateLimiter
	LockManager  domain.LockManager
	ListingCache domain.ListingCache
	SignalBus    domain.SignalBus

	// Backend storage; nil in client mode.
	WatchlistRepo domain.WatchlistRepository

	// Listing archive; nil when S3 is disabled.
	ListingArchive *s3blob.ListingArchiver

	// Tokens signs and verifies backend bearer tokens; nil without a secret.
	Tokens *crypto.TokenSigner

	// HealthChecks probes each connected dependency.
	HealthChecks map[string]func(context.Context) error
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{HealthChecks: map[string]func(context.Context) error{}}

	// --- PostgreSQL (backend modes only) ---
	if cfg.RunsBackend() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		deps.WatchlistRepo = postgres.NewWatchlistStore(pgClient.Pool())
		deps.HealthChecks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.ListingCache = redis.NewListingCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.HealthChecks["redis"] = redisClient.Ping

	// --- S3 listing archive (client modes only) ---
	if cfg.S3.Enabled && cfg.RunsClient() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.ListingArchive = s3blob.NewListingArchiver(s3blob.NewWriter(s3Client), s3blob.NewReader(s3Client))
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Backend token signer ---
	if cfg.Session.TokenSecret != "" {
		signer, err := crypto.NewTokenSigner(cfg.Session.TokenSecret)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: token signer: %w", err)
		}
		deps.Tokens = signer
	}

	logger.InfoContext(ctx, "dependencies wired",
		slog.Bool("postgres", deps.WatchlistRepo != nil),
		slog.Bool("s3", deps.ListingArchive != nil),
		slog.Bool("token_signer", deps.Tokens != nil),
	)

	return deps, cleanup, nil
}

// warmListing seeds an empty listing cache from the newest archived listing,
// so a fresh deployment can resolve names before its first refresh.
func warmListing(ctx context.Context, deps *Dependencies, lookbackDays int, logger *slog.Logger) {
	if deps.ListingArchive == nil {
		return
	}
	current, err := deps.ListingCache.Current(ctx)
	if err != nil || !current.Empty() {
		return
	}

	listing, err := deps.ListingArchive.Latest(ctx, time.Now(), lookbackDays)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			logger.WarnContext(ctx, "listing warm start failed", slog.String("error", err.Error()))
		}
		return
	}
	if err := deps.ListingCache.Replace(ctx, listing); err != nil {
		logger.WarnContext(ctx, "listing warm start failed", slog.String("error", err.Error()))
		return
	}
	logger.InfoContext(ctx, "listing warmed from archive",
		slog.Int("coins", len(listing.Coins)),
		slog.Time("fetched_at", listing.FetchedAt),
	)
}
