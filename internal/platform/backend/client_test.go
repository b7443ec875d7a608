package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/watchlist/user@example.com", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`["Bitcoin", {"cryptoName":"ethereum","displayName":"Ethereum","addedAt":"2026-10-01T00:00:00Z"}, ""]`))
	}))
	defer srv.Close()

	coins, err := NewClient(srv.URL, 0).Fetch(context.Background(), "tok", "user@example.com")
	require.NoError(t, err)
	require.Len(t, coins, 2)

	assert.Equal(t, "Bitcoin", coins[0].Identifier)
	assert.Equal(t, "Bitcoin", coins[0].DisplayName)
	assert.True(t, coins[0].AddedAt.IsZero())

	assert.Equal(t, "ethereum", coins[1].Identifier)
	assert.Equal(t, "Ethereum", coins[1].DisplayName)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), coins[1].AddedAt)
}

func TestAddAndRemove(t *testing.T) {
	var got []EntryRequest
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req EntryRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		got = append(got, req)
		methods = append(methods, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx := context.Background()
	require.NoError(t, c.Add(ctx, "tok", "u1", domain.WatchedCoin{Identifier: "solana", DisplayName: "Solana"}))
	require.NoError(t, c.Remove(ctx, "tok", "u1", "solana"))

	assert.Equal(t, []string{"POST /api/watchlist/add", "DELETE /api/watchlist/remove"}, methods)
	assert.Equal(t, EntryRequest{CryptoName: "solana", UserID: "u1", DisplayName: "Solana"}, got[0])
	assert.Equal(t, EntryRequest{CryptoName: "solana", UserID: "u1"}, got[1])
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, domain.ErrAuthRequired},
		{http.StatusForbidden, domain.ErrAuthRequired},
		{http.StatusConflict, domain.ErrAlreadyWatched},
		{http.StatusBadRequest, domain.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := NewClient(srv.URL, 0).Add(context.Background(), "tok", "u1", domain.WatchedCoin{Identifier: "x"})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	t.Run("server error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte("boom"))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, 0).Fetch(context.Background(), "tok", "u1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "HTTP 500: boom")
	})
}
