package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is a point-in-time market record for one coin as reported by
// the market-data provider. Snapshots are immutable once fetched.
type MarketSnapshot struct {
	Identifier   string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	MarketCapUSD decimal.Decimal `json:"market_cap_usd"`
	Rank         int             `json:"rank"`
	ImageURL     string          `json:"image_url"`
	FetchedAt    time.Time       `json:"fetched_at"`
}

// Candidate is the identity triple of a listed coin, used for name resolution.
type Candidate struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Listing is the full-market listing. It is replaced as a whole on every
// refresh and never mutated in place.
type Listing struct {
	Coins     []MarketSnapshot `json:"coins"`
	FetchedAt time.Time        `json:"fetched_at"`
}

// Candidates projects the listing onto its identity triples.
func (l Listing) Candidates() []Candidate {
	out := make([]Candidate, 0, len(l.Coins))
	for _, c := range l.Coins {
		out = append(out, Candidate{ID: c.Identifier, Name: c.Name, Symbol: c.Symbol})
	}
	return out
}

// Empty reports whether the listing has never been populated.
func (l Listing) Empty() bool {
	return len(l.Coins) == 0
}

// MarketQuery selects a page of market snapshots. An empty IDs slice selects
// the full-market listing; otherwise only the given canonical ids are fetched.
type MarketQuery struct {
	IDs     []string
	Page    int
	PerPage int
}

// Granularity is the sampling interval of a price history.
type Granularity string

const (
	GranularityHourly Granularity = "hourly"
	GranularityDaily  Granularity = "daily"
)

// HourlyRangeLimitDays is the longest range, in days, sampled hourly.
const HourlyRangeLimitDays = 7

// GranularityFor returns the sampling granularity for a history range.
func GranularityFor(rangeDays int) Granularity {
	if rangeDays <= HourlyRangeLimitDays {
		return GranularityHourly
	}
	return GranularityDaily
}

// HistoryRangePresets are the range choices offered to chart viewers.
var HistoryRangePresets = []int{7, 30, 90, 365, 1825}

// PricePoint is one sample of a price history.
type PricePoint struct {
	Timestamp time.Time       `json:"timestamp"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
}

// History is an ordered price series for one coin.
type History struct {
	Identifier  string       `json:"id"`
	RangeDays   int          `json:"range_days"`
	Granularity Granularity  `json:"granularity"`
	Points      []PricePoint `json:"points"`
	FetchedAt   time.Time    `json:"fetched_at"`
}
