package backend

import (
	"encoding/json"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// EntryRequest is the body of the add and remove endpoints.
type EntryRequest struct {
	CryptoName  string `json:"cryptoName"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// APIEntry is one stored watchlist entry. Older backends return bare strings
// instead of objects; both decode into APIEntry.
type APIEntry struct {
	CryptoName  string     `json:"cryptoName"`
	DisplayName string     `json:"displayName,omitempty"`
	AddedAt     *time.Time `json:"addedAt,omitempty"`
}

func (e *APIEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*e = APIEntry{CryptoName: name}
		return nil
	}
	type plain APIEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = APIEntry(p)
	return nil
}

// ToDomainCoin converts the entry into a watched coin. Entries without a
// display name use the stored name for both fields.
func (e APIEntry) ToDomainCoin() domain.WatchedCoin {
	coin := domain.WatchedCoin{
		Identifier:  e.CryptoName,
		DisplayName: e.DisplayName,
	}
	if coin.DisplayName == "" {
		coin.DisplayName = e.CryptoName
	}
	if e.AddedAt != nil {
		coin.AddedAt = e.AddedAt.UTC()
	}
	return coin
}

// FromDomainCoin builds the wire entry for coin.
func FromDomainCoin(coin domain.WatchedCoin) APIEntry {
	e := APIEntry{CryptoName: coin.Identifier, DisplayName: coin.DisplayName}
	if !coin.AddedAt.IsZero() {
		t := coin.AddedAt.UTC()
		e.AddedAt = &t
	}
	return e
}
