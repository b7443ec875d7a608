package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// memoryRepo is an in-memory WatchlistRepository.
type memoryRepo struct {
	mu    sync.Mutex
	lists map[string][]domain.WatchedCoin
}

func (r *memoryRepo) List(_ context.Context, userID string) ([]domain.WatchedCoin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.WatchedCoin{}, r.lists[userID]...), nil
}

func (r *memoryRepo) Insert(_ context.Context, userID string, coin domain.WatchedCoin, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lists == nil {
		r.lists = make(map[string][]domain.WatchedCoin)
	}
	for _, c := range r.lists[userID] {
		if c.Identifier == coin.Identifier {
			return domain.ErrAlreadyWatched
		}
	}
	if limit > 0 && len(r.lists[userID]) >= limit {
		return domain.ErrInvalidInput
	}
	r.lists[userID] = append(r.lists[userID], coin)
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, userID, identifier string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	coins := r.lists[userID]
	for i, c := range coins {
		if c.Identifier == identifier {
			r.lists[userID] = append(coins[:i:i], coins[i+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func TestBackendService(t *testing.T) {
	svc := NewBackendService(&memoryRepo{}, discardLogger())
	ctx := context.Background()

	require.NoError(t, svc.Add(ctx, "u1", domain.WatchedCoin{Identifier: " bitcoin "}))
	assert.ErrorIs(t, svc.Add(ctx, "u1", domain.WatchedCoin{Identifier: "bitcoin"}), domain.ErrAlreadyWatched)

	coins, err := svc.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, domain.WatchedCoin{Identifier: "bitcoin", DisplayName: "bitcoin"}, coins[0])

	require.NoError(t, svc.Remove(ctx, "u1", "bitcoin"))
	assert.ErrorIs(t, svc.Remove(ctx, "u1", "bitcoin"), domain.ErrNotFound)
}

func TestBackendServiceValidation(t *testing.T) {
	svc := NewBackendService(&memoryRepo{}, discardLogger())
	ctx := context.Background()

	assert.ErrorIs(t, svc.Add(ctx, "", domain.WatchedCoin{Identifier: "bitcoin"}), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.Add(ctx, "u1", domain.WatchedCoin{}), domain.ErrInvalidInput)
	assert.ErrorIs(t, svc.Add(ctx, "u1", domain.WatchedCoin{Identifier: strings.Repeat("x", 201)}), domain.ErrInvalidInput)
	_, err := svc.List(ctx, " ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBackendServiceCap(t *testing.T) {
	repo := &memoryRepo{lists: map[string][]domain.WatchedCoin{}}
	for i := range MaxWatchlistSize {
		repo.lists["u1"] = append(repo.lists["u1"], domain.WatchedCoin{Identifier: fmt.Sprintf("coin-%d", i)})
	}
	svc := NewBackendService(repo, discardLogger())

	err := svc.Add(context.Background(), "u1", domain.WatchedCoin{Identifier: "one-more"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBackendServiceCapHoldsUnderConcurrentAdds(t *testing.T) {
	repo := &memoryRepo{lists: map[string][]domain.WatchedCoin{}}
	for i := range MaxWatchlistSize - 1 {
		repo.lists["u1"] = append(repo.lists["u1"], domain.WatchedCoin{Identifier: fmt.Sprintf("coin-%d", i)})
	}
	svc := NewBackendService(repo, discardLogger())

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = svc.Add(context.Background(), "u1", domain.WatchedCoin{Identifier: fmt.Sprintf("late-%d", i)})
		}()
	}
	wg.Wait()

	var added int
	for _, err := range errs {
		if err == nil {
			added++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	}
	assert.Equal(t, 1, added)
	coins, err := svc.List(context.Background(), "u1")
	require.NoError(t, err)
	assert.Len(t, coins, MaxWatchlistSize)
}
