package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// WatchlistStore implements domain.WatchlistRepository using PostgreSQL.
// Entries are returned in insertion order.
type WatchlistStore struct {
	pool *pgxpool.Pool
}

// NewWatchlistStore creates a new WatchlistStore.
func NewWatchlistStore(pool *pgxpool.Pool) *WatchlistStore {
	return &WatchlistStore{pool: pool}
}

// List returns userID's entries, oldest first. A user with no entries gets an
// empty slice.
func (s *WatchlistStore) List(ctx context.Context, userID string) ([]domain.WatchedCoin, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT coin_id, display_name, added_at
		FROM watchlist_entries
		WHERE user_id = $1
		ORDER BY seq`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list watchlist %s: %w", userID, err)
	}
	defer rows.Close()

	coins := []domain.WatchedCoin{}
	for rows.Next() {
		var c domain.WatchedCoin
		if err := rows.Scan(&c.Identifier, &c.DisplayName, &c.AddedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan watchlist entry: %w", err)
		}
		c.AddedAt = c.AddedAt.UTC()
		coins = append(coins, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list watchlist %s: %w", userID, err)
	}
	return coins, nil
}

// Insert appends coin to userID's watchlist. It returns
// domain.ErrAlreadyWatched if the coin is already there and
// domain.ErrInvalidInput if the watchlist already holds limit entries.
// Inserts for one user are serialized by a transaction-scoped advisory lock,
// so concurrent callers cannot overshoot limit.
func (s *WatchlistStore) Insert(ctx context.Context, userID string, coin domain.WatchedCoin, limit int) error {
	addedAt := coin.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", userID); err != nil {
			return fmt.Errorf("lock: %w", err)
		}

		var exists bool
		var count int
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS(SELECT 1 FROM watchlist_entries WHERE user_id = $1 AND coin_id = $2),
			       (SELECT count(*) FROM watchlist_entries WHERE user_id = $1)`,
			userID, coin.Identifier,
		).Scan(&exists, &count); err != nil {
			return fmt.Errorf("count: %w", err)
		}
		if exists {
			return domain.ErrAlreadyWatched
		}
		if limit > 0 && count >= limit {
			return fmt.Errorf("%w: at most %d coins", domain.ErrInvalidInput, limit)
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO watchlist_entries (user_id, coin_id, display_name, added_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (user_id, coin_id) DO NOTHING`,
			userID, coin.Identifier, coin.DisplayName, addedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrAlreadyWatched
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("postgres: insert watchlist entry %s/%s: %w", userID, coin.Identifier, err)
	}
	return nil
}

// Delete removes identifier from userID's watchlist. It returns
// domain.ErrNotFound if there was nothing to remove.
func (s *WatchlistStore) Delete(ctx context.Context, userID, identifier string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM watchlist_entries WHERE user_id = $1 AND coin_id = $2`,
		userID, identifier,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete watchlist entry %s/%s: %w", userID, identifier, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s/%s: %w", userID, identifier, domain.ErrNotFound)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WatchlistRepository = (*WatchlistStore)(nil)
