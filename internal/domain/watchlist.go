package domain

import "time"

// WatchedCoin is a single watchlist entry. Identifier is the provider's
// canonical id for entries added through this service; entries persisted by
// older clients may still carry a raw display name.
type WatchedCoin struct {
	Identifier  string    `json:"id"`
	DisplayName string    `json:"display_name"`
	AddedAt     time.Time `json:"added_at"`
}

// UserWatchlist is the set of coins one user tracks, in insertion order.
// Version increments on every completed mutation.
type UserWatchlist struct {
	UserID  string        `json:"user_id"`
	Coins   []WatchedCoin `json:"coins"`
	Version uint64        `json:"version"`
}

// Contains reports whether identifier is already watched.
func (w UserWatchlist) Contains(identifier string) bool {
	return w.indexOf(identifier) >= 0
}

// IDs returns the watched identifiers in insertion order.
func (w UserWatchlist) IDs() []string {
	ids := make([]string, 0, len(w.Coins))
	for _, c := range w.Coins {
		ids = append(ids, c.Identifier)
	}
	return ids
}

// Clone returns a deep copy so callers cannot alias the cached slice.
func (w UserWatchlist) Clone() UserWatchlist {
	out := w
	out.Coins = make([]WatchedCoin, len(w.Coins))
	copy(out.Coins, w.Coins)
	return out
}

// WithCoin returns a copy with coin appended. It does not check uniqueness.
func (w UserWatchlist) WithCoin(coin WatchedCoin) UserWatchlist {
	out := w.Clone()
	out.Coins = append(out.Coins, coin)
	out.Version++
	return out
}

// WithoutCoin returns a copy with identifier removed.
func (w UserWatchlist) WithoutCoin(identifier string) UserWatchlist {
	out := w.Clone()
	if i := out.indexOf(identifier); i >= 0 {
		out.Coins = append(out.Coins[:i], out.Coins[i+1:]...)
		out.Version++
	}
	return out
}

func (w UserWatchlist) indexOf(identifier string) int {
	for i, c := range w.Coins {
		if c.Identifier == identifier {
			return i
		}
	}
	return -1
}
