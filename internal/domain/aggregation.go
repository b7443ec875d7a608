package domain

import "time"

// UnavailableReason explains why an aggregated row carries no snapshot.
type UnavailableReason string

const (
	ReasonNone        UnavailableReason = ""
	ReasonNotFound    UnavailableReason = "not_found"
	ReasonRateLimited UnavailableReason = "rate_limited"
	ReasonFetchFailed UnavailableReason = "fetch_failed"
)

// AggregatedRow joins one watched coin with its live snapshot, if any.
// Rows are derived on every aggregation and never persisted.
type AggregatedRow struct {
	Coin        WatchedCoin       `json:"coin"`
	Snapshot    *MarketSnapshot   `json:"snapshot,omitempty"`
	Unavailable bool              `json:"unavailable"`
	Reason      UnavailableReason `json:"reason,omitempty"`
}

// Aggregation is the result of joining a watchlist with market data. Err is
// the provider failure, if any, that left rows unavailable.
type Aggregation struct {
	UserID           string          `json:"user_id"`
	Rows             []AggregatedRow `json:"rows"`
	WatchlistVersion uint64          `json:"watchlist_version"`
	AggregatedAt     time.Time       `json:"aggregated_at"`
	Err              error           `json:"-"`
}
