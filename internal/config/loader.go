package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CRYPTOWORLD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Mode = strings.ToLower(strings.TrimSpace(cfg.Mode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	return &cfg, nil
}

// applyEnvOverrides reads well-known CRYPTOWORLD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). Secrets are meant to arrive this way rather than in the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── CoinGecko ──
	setStr(&cfg.CoinGecko.BaseURL, "CRYPTOWORLD_COINGECKO_BASE_URL")
	setStr(&cfg.CoinGecko.APIKey, "CRYPTOWORLD_COINGECKO_API_KEY")
	setInt(&cfg.CoinGecko.RequestsPerMinute, "CRYPTOWORLD_COINGECKO_REQUESTS_PER_MINUTE")
	setDuration(&cfg.CoinGecko.CoalesceWindow, "CRYPTOWORLD_COINGECKO_COALESCE_WINDOW")
	setDuration(&cfg.CoinGecko.Timeout, "CRYPTOWORLD_COINGECKO_TIMEOUT")
	setInt(&cfg.CoinGecko.ListingSize, "CRYPTOWORLD_COINGECKO_LISTING_SIZE")
	setDuration(&cfg.CoinGecko.ListingRefresh, "CRYPTOWORLD_COINGECKO_LISTING_REFRESH")

	// ── Backend ──
	setStr(&cfg.Backend.BaseURL, "CRYPTOWORLD_BACKEND_BASE_URL")
	setDuration(&cfg.Backend.Timeout, "CRYPTOWORLD_BACKEND_TIMEOUT")

	// ── Session ──
	setStr(&cfg.Session.UserID, "CRYPTOWORLD_SESSION_USER_ID")
	setStr(&cfg.Session.Email, "CRYPTOWORLD_SESSION_EMAIL")
	setStr(&cfg.Session.Token, "CRYPTOWORLD_SESSION_TOKEN")
	setStr(&cfg.Session.TokenSecret, "CRYPTOWORLD_SESSION_TOKEN_SECRET")
	setDuration(&cfg.Session.TokenTTL, "CRYPTOWORLD_SESSION_TOKEN_TTL")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_URL") // platform-provided, loses to the prefixed name
	setStr(&cfg.Database.DSN, "CRYPTOWORLD_DATABASE_DSN")
	setStr(&cfg.Database.Host, "CRYPTOWORLD_DATABASE_HOST")
	setInt(&cfg.Database.Port, "CRYPTOWORLD_DATABASE_PORT")
	setStr(&cfg.Database.Database, "CRYPTOWORLD_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "CRYPTOWORLD_DATABASE_USER")
	setStr(&cfg.Database.Password, "CRYPTOWORLD_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "CRYPTOWORLD_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "CRYPTOWORLD_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "CRYPTOWORLD_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "CRYPTOWORLD_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "CRYPTOWORLD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CRYPTOWORLD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CRYPTOWORLD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CRYPTOWORLD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CRYPTOWORLD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CRYPTOWORLD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CRYPTOWORLD_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CRYPTOWORLD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CRYPTOWORLD_S3_REGION")
	setStr(&cfg.S3.Bucket, "CRYPTOWORLD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CRYPTOWORLD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CRYPTOWORLD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CRYPTOWORLD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CRYPTOWORLD_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.WarmStartDays, "CRYPTOWORLD_S3_WARM_START_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "CRYPTOWORLD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CRYPTOWORLD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CRYPTOWORLD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "CRYPTOWORLD_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Top-level ──
	setStr(&cfg.Mode, "CRYPTOWORLD_MODE")
	setStr(&cfg.LogLevel, "CRYPTOWORLD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
