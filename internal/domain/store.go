package domain

import "context"

// WatchlistBackend is the authenticated persistence backend that owns every
// user's watchlist. Each call carries the caller's bearer token.
type WatchlistBackend interface {
	Fetch(ctx context.Context, token, userID string) ([]WatchedCoin, error)
	Add(ctx context.Context, token, userID string, coin WatchedCoin) error
	Remove(ctx context.Context, token, userID, identifier string) error
}

// WatchlistRepository is the backend's own storage for watchlist entries.
type WatchlistRepository interface {
	List(ctx context.Context, userID string) ([]WatchedCoin, error)
	// Insert fails with ErrInvalidInput once userID holds limit entries;
	// limit <= 0 means no cap. The check and the insert are atomic.
	Insert(ctx context.Context, userID string, coin WatchedCoin, limit int) error
	Delete(ctx context.Context, userID, identifier string) error
}
