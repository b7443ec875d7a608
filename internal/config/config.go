// Package config defines the cryptoworld configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CRYPTOWORLD_* environment variables.
type Config struct {
	CoinGecko CoinGeckoConfig `toml:"coingecko"`
	Backend   BackendConfig   `toml:"backend"`
	Session   SessionConfig   `toml:"session"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// CoinGeckoConfig holds the market-data provider endpoint and request budget.
type CoinGeckoConfig struct {
	BaseURL           string   `toml:"base_url"`
	APIKey            string   `toml:"api_key"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
	CoalesceWindow    duration `toml:"coalesce_window"`
	Timeout           duration `toml:"timeout"`
	ListingSize       int      `toml:"listing_size"`
	// ListingRefresh is how often the listing is refreshed in the background.
	// Zero, the default, refreshes only on demand.
	// Zero disables the refresher.
	ListingRefresh duration `toml:"listing_refresh"`
}

// BackendConfig locates the watchlist persistence backend. In full mode an
// empty BaseURL points at this process.
type BackendConfig struct {
	BaseURL string   `toml:"base_url"`
	Timeout duration `toml:"timeout"`
}

// SessionConfig holds the operator session used when a request carries no
// identity, and the secret that signs backend bearer tokens.
type SessionConfig struct {
	UserID      string   `toml:"user_id"`
	Email       string   `toml:"email"`
	Token       string   `toml:"token"`
	TokenSecret string   `toml:"token_secret"`
	TokenTTL    duration `toml:"token_ttl"`
}

// DatabaseConfig holds PostgreSQL connection parameters for the backend.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds the listing archive bucket.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// WarmStartDays is how far back to look for an archived listing when the
	// listing cache is empty at startup.
	WarmStartDays int `toml:"warm_start_days"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimitPerMinute caps requests per client IP. Zero disables it.
	RateLimitPerMinute int `toml:"rate_limit_per_minute"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		CoinGecko: CoinGeckoConfig{
			BaseURL:           "https://api.coingecko.com/api/v3",
			RequestsPerMinute: 3,
			CoalesceWindow:    duration{time.Minute},
			Timeout:           duration{30 * time.Second},
			ListingSize:       250,
		},
		Backend: BackendConfig{
			Timeout: duration{15 * time.Second},
		},
		Session: SessionConfig{
			TokenTTL: duration{24 * time.Hour},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cryptoworld-listings",
			ForcePathStyle: true,
			WarmStartDays:  2,
		},
		Server: ServerConfig{
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Modes.
const (
	ModeClient  = "client"
	ModeBackend = "backend"
	ModeFull    = "full"
)

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	ModeClient:  true,
	ModeBackend: true,
	ModeFull:    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsClient reports whether the mode serves the market-data and watchlist
// client API.
func (c *Config) RunsClient() bool {
	return c.Mode == ModeClient || c.Mode == ModeFull
}

// RunsBackend reports whether the mode serves the persistence backend.
func (c *Config) RunsBackend() bool {
	return c.Mode == ModeBackend || c.Mode == ModeFull
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: client, backend, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.RunsClient() {
		if c.CoinGecko.BaseURL == "" {
			errs = append(errs, "coingecko: base_url must not be empty")
		}
		if c.CoinGecko.RequestsPerMinute < 1 {
			errs = append(errs, "coingecko: requests_per_minute must be >= 1")
		}
		if c.CoinGecko.ListingSize < 1 || c.CoinGecko.ListingSize > 250 {
			errs = append(errs, fmt.Sprintf("coingecko: listing_size must be 1-250, got %d", c.CoinGecko.ListingSize))
		}
		if c.CoinGecko.ListingRefresh.Duration < 0 {
			errs = append(errs, "coingecko: listing_refresh must not be negative")
		}
		if c.Mode == ModeClient && c.Backend.BaseURL == "" {
			errs = append(errs, "backend: base_url is required in client mode")
		}
		if c.Session.Token != "" && c.Session.UserID == "" {
			errs = append(errs, "session: user_id is required when token is set")
		}
	}

	if c.RunsBackend() {
		if len(c.Session.TokenSecret) < 16 {
			errs = append(errs, "session: token_secret of at least 16 bytes is required for mode "+c.Mode)
		}
		if c.Session.TokenTTL.Duration <= 0 {
			errs = append(errs, "session: token_ttl must be positive")
		}
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 {
			errs = append(errs, "database: pool_min_conns must be >= 0")
		}
		if c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server: rate_limit_per_minute must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
