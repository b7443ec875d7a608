// Package backend is the REST client for the watchlist persistence backend.
// Every call is authenticated with the caller's bearer token.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// Client implements domain.WatchlistBackend over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client rooted at baseURL, e.g.
// "https://crypto-world-backend.onrender.com".
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Fetch returns the stored watchlist of userID.
// GET /api/watchlist/{userID}
func (c *Client) Fetch(ctx context.Context, token, userID string) ([]domain.WatchedCoin, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/watchlist/"+url.PathEscape(userID), token, nil)
	if err != nil {
		return nil, fmt.Errorf("backend: fetch watchlist %s: %w", userID, err)
	}

	var entries []APIEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("backend: decode watchlist %s: %w", userID, err)
	}

	coins := make([]domain.WatchedCoin, 0, len(entries))
	for _, e := range entries {
		if e.CryptoName == "" {
			continue
		}
		coins = append(coins, e.ToDomainCoin())
	}
	return coins, nil
}

// Add stores coin in the watchlist of userID.
// POST /api/watchlist/add
func (c *Client) Add(ctx context.Context, token, userID string, coin domain.WatchedCoin) error {
	req := EntryRequest{CryptoName: coin.Identifier, UserID: userID, DisplayName: coin.DisplayName}
	if _, err := c.do(ctx, http.MethodPost, "/api/watchlist/add", token, req); err != nil {
		return fmt.Errorf("backend: add %s for %s: %w", coin.Identifier, userID, err)
	}
	return nil
}

// Remove deletes identifier from the watchlist of userID.
// DELETE /api/watchlist/remove
func (c *Client) Remove(ctx context.Context, token, userID, identifier string) error {
	req := EntryRequest{CryptoName: identifier, UserID: userID}
	if _, err := c.do(ctx, http.MethodDelete, "/api/watchlist/remove", token, req); err != nil {
		return fmt.Errorf("backend: remove %s for %s: %w", identifier, userID, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, token string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

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

	bodyStr := strings.TrimSpace(string(body))
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrAuthRequired, bodyStr)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", domain.ErrAlreadyWatched, bodyStr)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

// Compile-time interface check.
var _ domain.WatchlistBackend = (*Client)(nil)
