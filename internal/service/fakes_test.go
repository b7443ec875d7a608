package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snapshot(id, name string, price int64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Identifier: id,
		Name:       name,
		Symbol:     strings.ToUpper(id),
		PriceUSD:   decimal.NewFromInt(price),
		FetchedAt:  time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// fakeProvider is a scripted MarketProvider.
type fakeProvider struct {
	mu          sync.Mutex
	markets     func(domain.MarketQuery) ([]domain.MarketSnapshot, error)
	chart       func(id string, days int, g domain.Granularity) ([]domain.PricePoint, error)
	marketCalls []domain.MarketQuery
	chartCalls  []domain.Granularity
	gate        chan struct{}
	entered     chan struct{}
}

func (p *fakeProvider) Markets(_ context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error) {
	p.mu.Lock()
	p.marketCalls = append(p.marketCalls, q)
	gate, entered := p.gate, p.entered
	p.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if p.markets == nil {
		return nil, nil
	}
	return p.markets(q)
}

func (p *fakeProvider) MarketChart(_ context.Context, id string, days int, g domain.Granularity) ([]domain.PricePoint, error) {
	p.mu.Lock()
	p.chartCalls = append(p.chartCalls, g)
	p.mu.Unlock()
	if p.chart == nil {
		return []domain.PricePoint{{Timestamp: time.Unix(0, 0).UTC(), PriceUSD: decimal.NewFromInt(1)}}, nil
	}
	return p.chart(id, days, g)
}

func (p *fakeProvider) marketCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.marketCalls)
}

// fakeLimiter admits limit requests per key and ignores the window.
type fakeLimiter struct {
	mu    sync.Mutex
	used  map[string]int
	err   error
	calls int
}

func (l *fakeLimiter) Allow(_ context.Context, key string, limit int, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return false, l.err
	}
	if l.used == nil {
		l.used = make(map[string]int)
	}
	if l.used[key] >= limit {
		return false, nil
	}
	l.used[key]++
	return true, nil
}

// recordingBus remembers every published message.
type recordingBus struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func (b *recordingBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.messages == nil {
		b.messages = make(map[string][][]byte)
	}
	b.messages[channel] = append(b.messages[channel], payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return make(chan []byte), nil
}

func (b *recordingBus) count(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages[channel])
}

type recordingArchiver struct {
	mu       sync.Mutex
	archived []domain.Listing
}

func (a *recordingArchiver) ArchiveListing(_ context.Context, l domain.Listing) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.archived = append(a.archived, l)
	return nil
}

func (a *recordingArchiver) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.archived)
}

// fixedListing is a ListingSource over a constant listing.
type fixedListing domain.Listing

func (f fixedListing) Listing(context.Context) domain.Listing {
	return domain.Listing(f)
}

func listingOf(snaps ...domain.MarketSnapshot) fixedListing {
	return fixedListing(domain.Listing{Coins: snaps})
}

// staticSession authenticates every call as one user.
type staticSession struct {
	ident domain.Identity
	token string
	err   error
}

func (s staticSession) Identity(context.Context) (domain.Identity, error) {
	if s.err != nil {
		return domain.Identity{}, s.err
	}
	return s.ident, nil
}

func (s staticSession) Token(context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

// fakeBackend is an in-memory WatchlistBackend that logs every call.
type fakeBackend struct {
	mu        sync.Mutex
	lists     map[string][]domain.WatchedCoin
	owners    map[string]string // token -> user; nil accepts every token
	calls     []string
	fetchErr  error
	addErr    error
	removeErr error
	addGate   chan struct{}
	addSeen   chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{lists: make(map[string][]domain.WatchedCoin)}
}

func (b *fakeBackend) Fetch(_ context.Context, token, userID string) ([]domain.WatchedCoin, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "fetch")
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.owners != nil && b.owners[token] != userID {
		return nil, domain.ErrAuthRequired
	}
	return append([]domain.WatchedCoin(nil), b.lists[userID]...), nil
}

func (b *fakeBackend) Add(_ context.Context, _, userID string, coin domain.WatchedCoin) error {
	b.mu.Lock()
	b.calls = append(b.calls, "add "+coin.Identifier)
	gate, seen := b.addGate, b.addSeen
	b.mu.Unlock()

	if seen != nil {
		seen <- struct{}{}
	}
	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addErr != nil {
		return b.addErr
	}
	b.lists[userID] = append(b.lists[userID], coin)
	return nil
}

func (b *fakeBackend) Remove(_ context.Context, _, userID, identifier string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, "remove "+identifier)
	if b.removeErr != nil {
		return b.removeErr
	}
	coins := b.lists[userID]
	for i, c := range coins {
		if c.Identifier == identifier {
			b.lists[userID] = append(coins[:i:i], coins[i+1:]...)
			break
		}
	}
	return nil
}

func (b *fakeBackend) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}

// fakeLocks is an in-process LockManager.
type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]bool
	acquired []string
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = make(map[string]bool)
	}
	if l.held[key] {
		return nil, domain.ErrLockHeld
	}
	l.held[key] = true
	l.acquired = append(l.acquired, key)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, nil
}
