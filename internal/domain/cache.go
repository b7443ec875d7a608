package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed sliding-window rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// ListingCache holds the shared full-market listing. Replace swaps the whole
// listing; readers never observe a partially written one.
type ListingCache interface {
	Replace(ctx context.Context, listing Listing) error
	Current(ctx context.Context) (Listing, error)
}

// SignalBus provides pub/sub for change notifications.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
