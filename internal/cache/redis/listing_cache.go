package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const listingKey = "listing:current"

// ListingCache implements domain.ListingCache by storing the whole listing as
// one JSON value. A single SET replaces it, so readers on any replica see
// either the old or the new listing, never a mix.
type ListingCache struct {
	rdb *redis.Client
}

// NewListingCache creates a ListingCache backed by the given Client.
func NewListingCache(c *Client) *ListingCache {
	return &ListingCache{rdb: c.Underlying()}
}

// Replace installs listing as the current listing.
func (lc *ListingCache) Replace(ctx context.Context, listing domain.Listing) error {
	data, err := json.Marshal(listing)
	if err != nil {
		return fmt.Errorf("redis: marshal listing: %w", err)
	}
	if err := lc.rdb.Set(ctx, listingKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: replace listing: %w", err)
	}
	return nil
}

// Current returns the current listing, empty if none has been stored.
func (lc *ListingCache) Current(ctx context.Context) (domain.Listing, error) {
	data, err := lc.rdb.Get(ctx, listingKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Listing{}, nil
		}
		return domain.Listing{}, fmt.Errorf("redis: get listing: %w", err)
	}

	var listing domain.Listing
	if err := json.Unmarshal(data, &listing); err != nil {
		return domain.Listing{}, fmt.Errorf("redis: unmarshal listing: %w", err)
	}
	return listing, nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*ListingCache)(nil)
