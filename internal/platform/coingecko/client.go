// Package coingecko is the REST client for the public CoinGecko market-data
// API. It performs single unauthenticated requests and maps provider status
// codes onto domain errors; throttling and coalescing live in the service
// layer.
package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.coingecko.com/api/v3"

// MaxPerPage is the largest page size the markets endpoint accepts.
const MaxPerPage = 250

// Client talks to the CoinGecko REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithAPIKey sets the demo API key sent as x-cg-demo-api-key.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// NewClient creates a CoinGecko client rooted at baseURL, e.g.
// "https://api.coingecko.com/api/v3".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Markets returns market snapshots in market-cap order. With q.IDs empty it
// returns a page of the full listing; otherwise only the given ids.
func (c *Client) Markets(ctx context.Context, q domain.MarketQuery) ([]domain.MarketSnapshot, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("order", "market_cap_desc")
	params.Set("sparkline", "false")
	if len(q.IDs) > 0 {
		params.Set("ids", strings.Join(q.IDs, ","))
	}
	if q.PerPage > 0 {
		params.Set("per_page", strconv.Itoa(q.PerPage))
	}
	if q.Page > 0 {
		params.Set("page", strconv.Itoa(q.Page))
	}

	body, err := c.doGet(ctx, "/coins/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("coingecko: get markets: %w", err)
	}

	var apiCoins []APICoin
	if err := json.Unmarshal(body, &apiCoins); err != nil {
		return nil, fmt.Errorf("coingecko: decode markets: %w", err)
	}

	fetchedAt := c.now().UTC()
	snaps := make([]domain.MarketSnapshot, 0, len(apiCoins))
	for i := range apiCoins {
		snaps = append(snaps, apiCoins[i].ToDomainSnapshot(fetchedAt))
	}
	return snaps, nil
}

// MarketChart returns the USD price history of id over the last days days,
// sampled at the given granularity. Only daily sampling is requested
// explicitly: interval=hourly is a paid-plan parameter, and multi-day ranges
// already come back hourly. Finer samples (days=1) are thinned to one per
// hour.
func (c *Client) MarketChart(ctx context.Context, id string, days int, granularity domain.Granularity) ([]domain.PricePoint, error) {
	params := url.Values{}
	params.Set("vs_currency", "usd")
	params.Set("days", strconv.Itoa(days))
	if granularity == domain.GranularityDaily {
		params.Set("interval", string(granularity))
	}

	path := fmt.Sprintf("/coins/%s/market_chart?%s", url.PathEscape(id), params.Encode())
	body, err := c.doGet(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("coingecko: get market chart %s: %w", id, err)
	}

	var chart APIMarketChart
	if err := json.Unmarshal(body, &chart); err != nil {
		return nil, fmt.Errorf("coingecko: decode market chart %s: %w", id, err)
	}
	points := chart.ToDomainPoints()
	if granularity == domain.GranularityHourly {
		points = hourly(points)
	}
	return points, nil
}

// hourly keeps the first point of every UTC hour. points must be ordered.
func hourly(points []domain.PricePoint) []domain.PricePoint {
	out := points[:0:0]
	var last time.Time
	for _, p := range points {
		hour := p.Timestamp.Truncate(time.Hour)
		if len(out) > 0 && hour.Equal(last) {
			continue
		}
		out = append(out, p)
		last = hour
	}
	return out
}

// doGet sends a GET request and returns the body of a 2xx response.
func (c *Client) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	c.logger.DebugContext(ctx, "coingecko: request", slog.String("path", path))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}
	return body, nil
}

// checkHTTPStatus maps non-2xx responses onto domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
