package coingecko

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// APICoin is one record of the /coins/markets endpoint. Numeric fields may be
// null for thinly traded coins.
type APICoin struct {
	ID            string           `json:"id"`
	Symbol        string           `json:"symbol"`
	Name          string           `json:"name"`
	Image         string           `json:"image"`
	CurrentPrice  *decimal.Decimal `json:"current_price"`
	MarketCap     *decimal.Decimal `json:"market_cap"`
	MarketCapRank *int             `json:"market_cap_rank"`
}

// ToDomainSnapshot converts the API record into a domain snapshot stamped
// with fetchedAt. Symbols are normalised to upper case.
func (c *APICoin) ToDomainSnapshot(fetchedAt time.Time) domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Identifier: c.ID,
		Symbol:     strings.ToUpper(c.Symbol),
		Name:       c.Name,
		ImageURL:   c.Image,
		FetchedAt:  fetchedAt,
	}
	if c.CurrentPrice != nil {
		snap.PriceUSD = *c.CurrentPrice
	}
	if c.MarketCap != nil {
		snap.MarketCapUSD = *c.MarketCap
	}
	if c.MarketCapRank != nil {
		snap.Rank = *c.MarketCapRank
	}
	return snap
}

// APIMarketChart is the body of /coins/{id}/market_chart. Each price entry is
// a [unix_millis, price] pair.
type APIMarketChart struct {
	Prices []chartPair `json:"prices"`
}

// chartPair decodes a two-element JSON array without losing price precision.
// Samples with a null timestamp or price are marked missing.
type chartPair struct {
	Millis  int64
	Price   decimal.Decimal
	Missing bool
}

func (p *chartPair) UnmarshalJSON(data []byte) error {
	var raw []json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("coingecko: chart entry has %d elements, want 2", len(raw))
	}
	if raw[0] == "" || raw[1] == "" {
		p.Missing = true
		return nil
	}
	ms, err := raw[0].Float64()
	if err != nil {
		return err
	}
	price, err := decimal.NewFromString(raw[1].String())
	if err != nil {
		return err
	}
	p.Millis = int64(ms)
	p.Price = price
	return nil
}

// ToDomainPoints converts the chart body into ordered price points, skipping
// missing samples.
func (c *APIMarketChart) ToDomainPoints() []domain.PricePoint {
	points := make([]domain.PricePoint, 0, len(c.Prices))
	for _, p := range c.Prices {
		if p.Missing {
			continue
		}
		points = append(points, domain.PricePoint{
			Timestamp: time.UnixMilli(p.Millis).UTC(),
			PriceUSD:  p.Price,
		})
	}
	return points
}
