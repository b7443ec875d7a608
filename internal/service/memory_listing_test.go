package service

import (
	"context"
	"sync/atomic"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// MemoryListingCache is a process-local domain.ListingCache. Replace swaps a
// pointer, so readers always see one whole listing.
type MemoryListingCache struct {
	current atomic.Pointer[domain.Listing]
}

// NewMemoryListingCache creates an empty MemoryListingCache.
func NewMemoryListingCache() *MemoryListingCache {
	return &MemoryListingCache{}
}

// Replace installs listing as the current listing.
func (c *MemoryListingCache) Replace(_ context.Context, listing domain.Listing) error {
	l := listing
	l.Coins = append([]domain.MarketSnapshot(nil), listing.Coins...)
	c.current.Store(&l)
	return nil
}

// Current returns the current listing, empty if none was installed.
func (c *MemoryListingCache) Current(_ context.Context) (domain.Listing, error) {
	l := c.current.Load()
	if l == nil {
		return domain.Listing{}, nil
	}
	return *l, nil
}

// Compile-time interface check.
var _ domain.ListingCache = (*MemoryListingCache)(nil)
