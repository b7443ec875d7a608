package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
	"github.com/alanyoungcy/cryptoworld/internal/session"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuth(t *testing.T) {
	h := Auth("secret", "/api/health", "/api/watchlist/")(okHandler())

	tests := []struct {
		name string
		path string
		key  string
		want int
	}{
		{"valid key", "/api/listing", "secret", http.StatusOK},
		{"wrong key", "/api/listing", "nope", http.StatusUnauthorized},
		{"missing key", "/api/listing", "", http.StatusUnauthorized},
		{"exempt path", "/api/health", "", http.StatusOK},
		{"exempt subtree", "/api/watchlist/alice", "", http.StatusOK},
		{"not a subtree of exact entry", "/api/health/deep", "", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.key != "" {
				req.Header.Set(APIKeyHeader, tc.key)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	rec := httptest.NewRecorder()
	Auth("")(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type mapVerifier map[string]string

func (m mapVerifier) Verify(token string) (string, error) {
	if user, ok := m[token]; ok {
		return user, nil
	}
	return "", errors.New("bad token")
}

func TestBearerAuth(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		require.True(t, ok)
		ident, err := s.Identity(r.Context())
		require.NoError(t, err)
		seen = ident.ID
		w.WriteHeader(http.StatusOK)
	})
	h := BearerAuth(mapVerifier{"good": "alice"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/watchlist/alice", nil)
	req.Header.Set("Authorization", "Bearer good")
	// Identity headers are ignored once a token is verified.
	req.Header.Set(session.HeaderUserID, "mallory")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", seen)

	req = httptest.NewRequest(http.MethodGet, "/api/watchlist/alice", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/watchlist/alice", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionAttachesRequestIdentity(t *testing.T) {
	var id string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		require.True(t, ok)
		ident, err := s.Identity(r.Context())
		require.NoError(t, err)
		id = ident.ID
	})

	fallback := session.NewStatic(domain.Identity{ID: "operator"}, "tok")

	req := httptest.NewRequest(http.MethodGet, "/api/me/watchlist", nil)
	req.Header.Set(session.HeaderUserID, "alice")
	Session(fallback, nil)(next).ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "alice", id)

	Session(fallback, nil)(next).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/me/watchlist", nil))
	assert.Equal(t, "operator", id)
}

func TestSessionVerifiedTokenOverridesClaimedUser(t *testing.T) {
	var (
		id  string
		err error
	)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, _ := session.FromContext(r.Context())
		var ident domain.Identity
		ident, err = s.Identity(r.Context())
		id = ident.ID
	})
	h := Session(nil, mapVerifier{"alice-token": "alice"})(next)

	req := httptest.NewRequest(http.MethodGet, "/api/me/watchlist", nil)
	req.Header.Set(session.HeaderUserID, "bob")
	req.Header.Set("Authorization", "Bearer alice-token")
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NoError(t, err)
	assert.Equal(t, "alice", id)

	req = httptest.NewRequest(http.MethodGet, "/api/me/watchlist", nil)
	req.Header.Set(session.HeaderUserID, "bob")
	req.Header.Set("Authorization", "Bearer forged")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, domain.ErrAuthRequired)

	req = httptest.NewRequest(http.MethodGet, "/api/me/watchlist", nil)
	req.Header.Set(session.HeaderUserID, "bob")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.ErrorIs(t, err, domain.ErrAuthRequired, "a claimed user without a token is not trusted")
}

type countingLimiter struct {
	remaining int
	err       error
	keys      []string
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	l.keys = append(l.keys, key)
	if l.err != nil {
		return false, l.err
	}
	if l.remaining <= 0 {
		return false, nil
	}
	l.remaining--
	return true, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{remaining: 1}
	h := RateLimit(limiter, 1, time.Minute)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/listing", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, []string{"api:203.0.113.7", "api:203.0.113.7"}, limiter.keys)
}

func TestRateLimitFailsOpen(t *testing.T) {
	h := RateLimit(&countingLimiter{err: errors.New("redis down")}, 1, time.Minute)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listing", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/me/watchlist", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), session.HeaderUserID)

	req = httptest.NewRequest(http.MethodGet, "/api/listing", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoggingSetsRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	Logging(discard())(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/listing", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
