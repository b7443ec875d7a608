package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const (
	// MaxWatchlistSize keeps a whole watchlist inside one provider page.
	MaxWatchlistSize = maxPerPage

	defaultLockTTL   = 15 * time.Second
	lockPollInterval = 50 * time.Millisecond

	// grantTTL is how long a backend-accepted (user, token) pair may read
	// cached state without asking the backend again.
	grantTTL = 10 * time.Minute
)

// ListingSource supplies the shared full-market listing used to resolve
// coin names.
type ListingSource interface {
	Listing(ctx context.Context) domain.Listing
}

// WatchlistService is the per-user watchlist store. It persists every
// mutation to the backend before updating its cache, and serializes
// mutations for one user in submission order.
type WatchlistService struct {
	backend    domain.WatchlistBackend
	session    domain.SessionCoordinator
	locks      domain.LockManager
	listing    ListingSource
	normalizer *Normalizer
	bus        domain.SignalBus
	logger     *slog.Logger
	now        func() time.Time
	lockTTL    time.Duration

	mu     sync.Mutex
	cache  map[string]domain.UserWatchlist
	tails  map[string]chan struct{}
	grants map[grant]time.Time
}

// grant is a (user, token) pair the backend has accepted.
type grant struct {
	userID string
	token  string
}

// NewWatchlistService creates a WatchlistService. locks and bus may be nil;
// without a LockManager mutations are only serialized within this process.
func NewWatchlistService(
	backend domain.WatchlistBackend,
	session domain.SessionCoordinator,
	locks domain.LockManager,
	listing ListingSource,
	normalizer *Normalizer,
	bus domain.SignalBus,
	logger *slog.Logger,
) *WatchlistService {
	return &WatchlistService{
		backend:    backend,
		session:    session,
		locks:      locks,
		listing:    listing,
		normalizer: normalizer,
		bus:        bus,
		logger:     logger.With(slog.String("component", "watchlist_service")),
		now:        time.Now,
		lockTTL:    defaultLockTTL,
		cache:      make(map[string]domain.UserWatchlist),
		tails:      make(map[string]chan struct{}),
		grants:     make(map[grant]time.Time),
	}
}

// Authorize checks that the backend accepts the session's token for userID.
// Cached state is only served to an authorized session; a fresh pair costs
// one backend read, which also refreshes the cache.
func (s *WatchlistService) Authorize(ctx context.Context, userID string) error {
	token, err := s.token(ctx)
	if err != nil {
		return err
	}
	if s.granted(userID, token) {
		return nil
	}
	return s.serialize(ctx, userID, func(ctx context.Context) error {
		_, err := s.fetch(ctx, token, userID)
		return err
	})
}

func (s *WatchlistService) granted(userID, token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.grants[grant{userID, token}]
	return ok && s.now().Sub(at) < grantTTL
}

// grantLocked records that the backend accepted token for userID. s.mu must
// be held.
func (s *WatchlistService) grantLocked(userID, token string) {
	now := s.now()
	for g, at := range s.grants {
		if now.Sub(at) >= grantTTL {
			delete(s.grants, g)
		}
	}
	s.grants[grant{userID, token}] = now
}

// Load fetches the persisted watchlist for userID and makes it the cached
// state. On failure it returns an empty watchlist together with the error,
// which wraps domain.ErrAuthRequired or domain.ErrPersistenceFailed.
func (s *WatchlistService) Load(ctx context.Context, userID string) (domain.UserWatchlist, error) {
	empty := domain.UserWatchlist{UserID: userID, Coins: []domain.WatchedCoin{}}
	if strings.TrimSpace(userID) == "" {
		return empty, fmt.Errorf("watchlist: %w: empty user id", domain.ErrInvalidInput)
	}

	token, err := s.token(ctx)
	if err != nil {
		return empty, err
	}

	var out domain.UserWatchlist
	err = s.serialize(ctx, userID, func(ctx context.Context) error {
		wl, err := s.fetch(ctx, token, userID)
		if err != nil {
			return err
		}
		out = wl
		return nil
	})
	if err != nil {
		return empty, err
	}
	return out, nil
}

// Add persists coin to userID's watchlist. The coin is stored under its
// canonical id. Adding an id that is already watched returns the unchanged
// watchlist and domain.ErrAlreadyWatched.
func (s *WatchlistService) Add(ctx context.Context, userID string, coin domain.WatchedCoin) (domain.UserWatchlist, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.UserWatchlist{}, fmt.Errorf("watchlist: %w: empty user id", domain.ErrInvalidInput)
	}
	coin.Identifier = strings.TrimSpace(coin.Identifier)
	coin.DisplayName = strings.TrimSpace(coin.DisplayName)
	if coin.Identifier == "" && coin.DisplayName == "" {
		return domain.UserWatchlist{}, fmt.Errorf("watchlist: %w: coin has no id or name", domain.ErrInvalidInput)
	}

	token, err := s.token(ctx)
	if err != nil {
		return domain.UserWatchlist{}, err
	}

	var out domain.UserWatchlist
	err = s.serialize(ctx, userID, func(ctx context.Context) error {
		wl, err := s.ensureLoaded(ctx, token, userID)
		if err != nil {
			return err
		}
		out = wl

		listing := s.listing.Listing(ctx)
		coin, err = s.canonical(coin, listing)
		if err != nil {
			return err
		}
		if s.indexOf(wl, coin.Identifier, listing.Candidates()) >= 0 {
			return fmt.Errorf("watchlist: %s: %w", coin.Identifier, domain.ErrAlreadyWatched)
		}
		if len(wl.Coins) >= MaxWatchlistSize {
			return fmt.Errorf("watchlist: %w: at most %d coins", domain.ErrInvalidInput, MaxWatchlistSize)
		}

		if err := s.backend.Add(ctx, token, userID, coin); err != nil {
			if errors.Is(err, domain.ErrAlreadyWatched) {
				// Persisted elsewhere; adopt it without a second write.
				out = s.commit(ctx, wl.WithCoin(coin))
				return fmt.Errorf("watchlist: %s: %w", coin.Identifier, domain.ErrAlreadyWatched)
			}
			s.logger.WarnContext(ctx, "watchlist: persist add failed",
				slog.String("user_id", userID),
				slog.String("coin", coin.Identifier),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("watchlist: add %s: %w: %w", coin.Identifier, domain.ErrPersistenceFailed, err)
		}

		out = s.commit(ctx, wl.WithCoin(coin))
		return nil
	})
	return out, err
}

// Remove deletes identifier from userID's watchlist. identifier may be the
// stored identifier or the canonical id of a legacy raw-name entry; the
// backend is always sent the stored one. Removing an id that is not watched
// is a no-op and does not reach the backend.
func (s *WatchlistService) Remove(ctx context.Context, userID, identifier string) (domain.UserWatchlist, error) {
	identifier = strings.TrimSpace(identifier)
	if strings.TrimSpace(userID) == "" || identifier == "" {
		return domain.UserWatchlist{}, fmt.Errorf("watchlist: %w: user id and coin id are required", domain.ErrInvalidInput)
	}

	token, err := s.token(ctx)
	if err != nil {
		return domain.UserWatchlist{}, err
	}

	var out domain.UserWatchlist
	err = s.serialize(ctx, userID, func(ctx context.Context) error {
		wl, err := s.ensureLoaded(ctx, token, userID)
		if err != nil {
			return err
		}
		out = wl

		stored := identifier
		if !wl.Contains(identifier) {
			pool := s.listing.Listing(ctx).Candidates()
			id, err := s.normalizer.Canonicalize(domain.WatchedCoin{Identifier: identifier}, pool)
			if err != nil {
				return nil
			}
			i := s.indexOf(wl, id, pool)
			if i < 0 {
				return nil
			}
			stored = wl.Coins[i].Identifier
		}

		if err := s.backend.Remove(ctx, token, userID, stored); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "watchlist: persist remove failed",
				slog.String("user_id", userID),
				slog.String("coin", stored),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("watchlist: remove %s: %w: %w", stored, domain.ErrPersistenceFailed, err)
		}

		out = s.commit(ctx, wl.WithoutCoin(stored))
		return nil
	})
	return out, err
}

// Snapshot returns the cached watchlist as of the last completed operation.
// The boolean is false when userID has not been loaded yet.
func (s *WatchlistService) Snapshot(userID string) (domain.UserWatchlist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wl, ok := s.cache[userID]
	if !ok {
		return domain.UserWatchlist{}, false
	}
	return wl.Clone(), true
}

// ensureLoaded returns the cached watchlist, fetching it first if needed.
// Callers must hold the user's turn.
func (s *WatchlistService) ensureLoaded(ctx context.Context, token, userID string) (domain.UserWatchlist, error) {
	if wl, ok := s.Snapshot(userID); ok {
		return wl, nil
	}
	return s.fetch(ctx, token, userID)
}

// fetch reads the backend state and caches it. The version only moves when
// the content differs from the cached state.
func (s *WatchlistService) fetch(ctx context.Context, token, userID string) (domain.UserWatchlist, error) {
	coins, err := s.backend.Fetch(ctx, token, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "watchlist: load failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		if errors.Is(err, domain.ErrAuthRequired) {
			return domain.UserWatchlist{}, fmt.Errorf("watchlist: load %s: %w", userID, err)
		}
		return domain.UserWatchlist{}, fmt.Errorf("watchlist: load %s: %w: %w", userID, domain.ErrPersistenceFailed, err)
	}

	wl := domain.UserWatchlist{UserID: userID, Coins: dedupeCoins(coins)}

	s.mu.Lock()
	s.grantLocked(userID, token)
	prev, ok := s.cache[userID]
	switch {
	case !ok:
		wl.Version = 1
	case sameCoins(prev.Coins, wl.Coins):
		wl.Version = prev.Version
	default:
		wl.Version = prev.Version + 1
	}
	s.cache[userID] = wl
	s.mu.Unlock()

	if ok && wl.Version != prev.Version {
		publishWatchlistEvent(ctx, s.bus, s.logger, wl)
	}
	return wl.Clone(), nil
}

func (s *WatchlistService) commit(ctx context.Context, wl domain.UserWatchlist) domain.UserWatchlist {
	s.mu.Lock()
	s.cache[wl.UserID] = wl
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "watchlist: updated",
		slog.String("user_id", wl.UserID),
		slog.Int("coins", len(wl.Coins)),
		slog.Uint64("version", wl.Version),
	)
	publishWatchlistEvent(ctx, s.bus, s.logger, wl)
	return wl.Clone()
}

// indexOf returns the position of the entry whose canonical id is id, or -1.
// Legacy raw-name entries are resolved against pool before comparing.
func (s *WatchlistService) indexOf(wl domain.UserWatchlist, id string, pool []domain.Candidate) int {
	for i, c := range wl.Coins {
		if c.Identifier == id {
			return i
		}
	}
	for i, c := range wl.Coins {
		if resolved, err := s.normalizer.Canonicalize(c, pool); err == nil && resolved == id {
			return i
		}
	}
	return -1
}

// canonical resolves coin to its canonical id against listing and fills in
// the display name and add time.
func (s *WatchlistService) canonical(coin domain.WatchedCoin, listing domain.Listing) (domain.WatchedCoin, error) {
	id, err := s.normalizer.Canonicalize(coin, listing.Candidates())
	if err != nil {
		return coin, fmt.Errorf("watchlist: %w", err)
	}
	coin.Identifier = id

	if coin.DisplayName == "" {
		coin.DisplayName = id
		for _, snap := range listing.Coins {
			if snap.Identifier == id {
				coin.DisplayName = snap.Name
				break
			}
		}
	}
	if coin.AddedAt.IsZero() {
		coin.AddedAt = s.now().UTC()
	}
	return coin, nil
}

func (s *WatchlistService) token(ctx context.Context) (string, error) {
	token, err := s.session.Token(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			return "", fmt.Errorf("watchlist: %w", err)
		}
		return "", fmt.Errorf("watchlist: %w: %w", domain.ErrAuthRequired, err)
	}
	if token == "" {
		return "", fmt.Errorf("watchlist: %w: empty token", domain.ErrAuthRequired)
	}
	return token, nil
}

// serialize runs fn once every earlier operation for userID has finished.
// Operations on different users run in parallel.
func (s *WatchlistService) serialize(ctx context.Context, userID string, fn func(context.Context) error) error {
	prev, done := s.enqueue(userID)
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Keep our slot in line until the predecessor finishes.
			go func() {
				<-prev
				s.finish(userID, done)
			}()
			return fmt.Errorf("watchlist: waiting for %s: %w", userID, ctx.Err())
		}
	}
	defer s.finish(userID, done)

	if s.locks != nil {
		unlock, err := s.acquire(ctx, userID)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return fn(ctx)
}

func (s *WatchlistService) enqueue(userID string) (<-chan struct{}, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.tails[userID]
	done := make(chan struct{})
	s.tails[userID] = done
	if prev == nil {
		return nil, done
	}
	return prev, done
}

func (s *WatchlistService) finish(userID string, done chan struct{}) {
	s.mu.Lock()
	if s.tails[userID] == done {
		delete(s.tails, userID)
	}
	s.mu.Unlock()
	close(done)
}

// acquire takes the distributed per-user lock, polling while another replica
// holds it.
func (s *WatchlistService) acquire(ctx context.Context, userID string) (func(), error) {
	key := "watchlist:" + userID
	for {
		unlock, err := s.locks.Acquire(ctx, key, s.lockTTL)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, fmt.Errorf("watchlist: lock %s: %w", userID, err)
		}

		timer := time.NewTimer(lockPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("watchlist: lock %s: %w", userID, ctx.Err())
		case <-timer.C:
		}
	}
}

// dedupeCoins drops repeated identifiers, keeping the first occurrence.
func dedupeCoins(coins []domain.WatchedCoin) []domain.WatchedCoin {
	seen := make(map[string]bool, len(coins))
	out := make([]domain.WatchedCoin, 0, len(coins))
	for _, c := range coins {
		if c.Identifier == "" || seen[c.Identifier] {
			continue
		}
		seen[c.Identifier] = true
		out = append(out, c)
	}
	return out
}

func sameCoins(a, b []domain.WatchedCoin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Identifier != b[i].Identifier {
			return false
		}
	}
	return true
}
