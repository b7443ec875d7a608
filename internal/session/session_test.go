package session

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

func TestFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/watchlist", nil)
	r.Header.Set("Authorization", "bearer tok-1")
	r.Header.Set(HeaderUserID, " u1 ")
	r.Header.Set(HeaderUserEmail, "u1@example.com")

	s := FromRequest(r)
	ident, err := s.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Identity{ID: "u1", Email: "u1@example.com"}, ident)

	token, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", token)
}

func TestFromRequestMissingCredentials(t *testing.T) {
	s := FromRequest(httptest.NewRequest("GET", "/", nil))

	_, err := s.Identity(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestContextual(t *testing.T) {
	fallback := NewStatic(domain.Identity{ID: "svc"}, "svc-token")
	c := Contextual{Fallback: fallback}

	ident, err := c.Identity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "svc", ident.ID)

	ctx := WithSession(context.Background(), NewStatic(domain.Identity{ID: "u1"}, "tok"))
	ident, err = c.Identity(ctx)
	require.NoError(t, err)
	assert.Equal(t, "u1", ident.ID)
	token, err := c.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	_, err = Contextual{}.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

func TestStaticUnconfigured(t *testing.T) {
	s := NewStatic(domain.Identity{}, "")
	_, err := s.Identity(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
	_, err = s.Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}

type countingIssuer struct {
	n   int
	err error
}

func (c *countingIssuer) Sign(userID string, ttl time.Duration) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	c.n++
	return fmt.Sprintf("%s-%d-%s", userID, c.n, ttl), nil
}

func TestSignedRenewsAtHalfLife(t *testing.T) {
	issuer := &countingIssuer{}
	s := NewSigned(domain.Identity{ID: "op"}, issuer, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	tok, err := s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "op-1-1h0m0s", tok)

	now = now.Add(29 * time.Minute)
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "op-1-1h0m0s", tok)

	now = now.Add(2 * time.Minute)
	tok, err = s.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "op-2-1h0m0s", tok)
}

func TestSignedIssuerFailure(t *testing.T) {
	s := NewSigned(domain.Identity{ID: "op"}, &countingIssuer{err: errors.New("no key")}, time.Hour)
	_, err := s.Token(context.Background())
	assert.ErrorContains(t, err, "no key")

	_, err = NewSigned(domain.Identity{}, &countingIssuer{}, time.Hour).Token(context.Background())
	assert.ErrorIs(t, err, domain.ErrAuthRequired)
}
