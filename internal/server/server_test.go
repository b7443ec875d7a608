package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
	"github.com/alanyoungcy/cryptoworld/internal/server/handler"
	"github.com/alanyoungcy/cryptoworld/internal/session"
)

type memStore struct{ coins map[string][]domain.WatchedCoin }

func (m *memStore) List(_ context.Context, userID string) ([]domain.WatchedCoin, error) {
	return m.coins[userID], nil
}

func (m *memStore) Add(_ context.Context, userID string, coin domain.WatchedCoin) error {
	m.coins[userID] = append(m.coins[userID], coin)
	return nil
}

func (m *memStore) Remove(context.Context, string, string) error { return nil }

type watchlists struct{}

func (watchlists) Add(_ context.Context, userID string, coin domain.WatchedCoin) (domain.UserWatchlist, error) {
	return domain.UserWatchlist{UserID: userID, Coins: []domain.WatchedCoin{coin}, Version: 1}, nil
}

func (watchlists) Remove(_ context.Context, userID, _ string) (domain.UserWatchlist, error) {
	return domain.UserWatchlist{UserID: userID}, nil
}

func (watchlists) Load(_ context.Context, userID string) (domain.UserWatchlist, error) {
	return domain.UserWatchlist{UserID: userID}, nil
}

type views struct{}

func (views) View(ctx context.Context, _ string, _ bool) (domain.Aggregation, error) {
	return domain.Aggregation{UserID: "alice"}, nil
}

type tokens map[string]string

func (t tokens) Verify(token string) (string, error) {
	if u, ok := t[token]; ok {
		return u, nil
	}
	return "", errors.New("invalid")
}

func newTestHandler() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sess := session.Contextual{}
	handlers := Handlers{
		Health:    handler.NewHealthHandler(nil, logger),
		Watchlist: handler.NewWatchlistHandler(watchlists{}, views{}, sess, logger),
		Backend:   handler.NewBackendHandler(&memStore{coins: map[string][]domain.WatchedCoin{}}, sess, logger),
	}
	cfg := Config{APIKey: "key", TokenVerifier: tokens{"alice-token": "alice"}}
	return NewHandler(cfg, handlers, nil, logger)
}

func TestRoutes(t *testing.T) {
	h := newTestHandler()

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		headers map[string]string
		want    int
	}{
		{"health needs no key", http.MethodGet, "/api/health", "", nil, http.StatusOK},
		{"missing api key", http.MethodGet, "/api/me/watchlist", "", map[string]string{session.HeaderUserID: "alice"}, http.StatusUnauthorized},
		{"client view", http.MethodGet, "/api/me/watchlist", "", map[string]string{"X-API-Key": "key", "Authorization": "Bearer alice-token"}, http.StatusOK},
		{"client view claimed user only", http.MethodGet, "/api/me/watchlist", "", map[string]string{"X-API-Key": "key", session.HeaderUserID: "alice"}, http.StatusUnauthorized},
		{"client view forged token", http.MethodGet, "/api/me/watchlist", "", map[string]string{"X-API-Key": "key", session.HeaderUserID: "alice", "Authorization": "Bearer forged"}, http.StatusUnauthorized},
		{"client add", http.MethodPost, "/api/me/watchlist", `{"id":"bitcoin"}`, map[string]string{"X-API-Key": "key", "Authorization": "Bearer alice-token"}, http.StatusCreated},
		{"client add signed out", http.MethodPost, "/api/me/watchlist", `{"id":"bitcoin"}`, map[string]string{"X-API-Key": "key"}, http.StatusUnauthorized},
		{"backend list", http.MethodGet, "/api/watchlist/alice", "", map[string]string{"X-API-Key": "key", "Authorization": "Bearer alice-token"}, http.StatusOK},
		{"backend list other user", http.MethodGet, "/api/watchlist/bob", "", map[string]string{"X-API-Key": "key", "Authorization": "Bearer alice-token"}, http.StatusForbidden},
		{"backend without token", http.MethodGet, "/api/watchlist/alice", "", map[string]string{"X-API-Key": "key", session.HeaderUserID: "alice"}, http.StatusUnauthorized},
		{"backend add", http.MethodPost, "/api/watchlist/add", `{"cryptoName":"bitcoin","userId":"alice"}`, map[string]string{"X-API-Key": "key", "Authorization": "Bearer alice-token"}, http.StatusCreated},
		{"backend skips api key", http.MethodGet, "/api/watchlist/alice", "", map[string]string{"Authorization": "Bearer alice-token"}, http.StatusOK},
		{"market routes absent", http.MethodGet, "/api/markets", "", map[string]string{"X-API-Key": "key"}, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var body io.Reader
			if tc.body != "" {
				body = strings.NewReader(tc.body)
			}
			req := httptest.NewRequest(tc.method, tc.path, body)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestClaimedUserIgnoredWhenTokenVerified(t *testing.T) {
	h := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/me/watchlist", strings.NewReader(`{"id":"bitcoin"}`))
	req.Header.Set("X-API-Key", "key")
	req.Header.Set("Authorization", "Bearer alice-token")
	req.Header.Set(session.HeaderUserID, "bob")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Watchlist domain.UserWatchlist `json:"watchlist"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "alice", resp.Watchlist.UserID)
}
