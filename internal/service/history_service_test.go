package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// gatedHistory blocks each fetch until its gate for the id is released.
type gatedHistory struct {
	gates   map[string]chan struct{}
	entered chan string
}

func (g *gatedHistory) FetchHistory(_ context.Context, id string, days int) (domain.History, error) {
	if g.entered != nil {
		g.entered <- id
	}
	if gate, ok := g.gates[id]; ok {
		<-gate
	}
	return domain.History{
		Identifier:  id,
		RangeDays:   days,
		Granularity: domain.GranularityFor(days),
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func TestHistorySelect(t *testing.T) {
	svc := NewHistoryService(&gatedHistory{}, testListing, NewNormalizer(), discardLogger())

	h, err := svc.Select(context.Background(), "u1", "Bitcoin", 30)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", h.Identifier)
	assert.Equal(t, domain.GranularityDaily, h.Granularity)

	cur, ok := svc.Current("u1")
	require.True(t, ok)
	assert.Equal(t, h, cur)

	_, ok = svc.Current("u2")
	assert.False(t, ok)
}

func TestHistorySelectValidation(t *testing.T) {
	svc := NewHistoryService(&gatedHistory{}, testListing, NewNormalizer(), discardLogger())

	_, err := svc.Select(context.Background(), "u1", "bitcoin", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Select(context.Background(), "", "bitcoin", 7)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = svc.Select(context.Background(), "u1", "Not A Coin", 7)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHistoryStaleResponseSuppressed(t *testing.T) {
	fetcher := &gatedHistory{
		gates:   map[string]chan struct{}{"bitcoin": make(chan struct{})},
		entered: make(chan string, 2),
	}
	svc := NewHistoryService(fetcher, testListing, NewNormalizer(), discardLogger())
	ctx := context.Background()

	slow := make(chan error, 1)
	go func() {
		_, err := svc.Select(ctx, "u1", "bitcoin", 7)
		slow <- err
	}()
	require.Equal(t, "bitcoin", <-fetcher.entered)

	fresh, err := svc.Select(ctx, "u1", "ethereum", 7)
	require.NoError(t, err)
	<-fetcher.entered

	close(fetcher.gates["bitcoin"])
	assert.ErrorIs(t, <-slow, domain.ErrSuperseded)

	cur, ok := svc.Current("u1")
	require.True(t, ok)
	assert.Equal(t, fresh, cur, "stale response must not overwrite the newer selection")
}
