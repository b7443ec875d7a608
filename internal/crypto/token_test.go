package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	s, err := NewTokenSigner("s3cret")
	require.NoError(t, err)

	token, err := s.Sign("user.with.dots", time.Hour)
	require.NoError(t, err)

	userID, err := s.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user.with.dots", userID)
}

func TestTokenRejects(t *testing.T) {
	s, err := NewTokenSigner("s3cret")
	require.NoError(t, err)
	other, err := NewTokenSigner("different")
	require.NoError(t, err)

	forged, err := other.Sign("u1", time.Hour)
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	expired, err := s.Sign("u1", time.Minute)
	require.NoError(t, err)
	s.now = func() time.Time { return base.Add(2 * time.Minute) }

	for name, token := range map[string]string{
		"empty":     "",
		"malformed": "abc",
		"forged":    forged,
		"expired":   expired,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Verify(token)
			assert.ErrorIs(t, err, domain.ErrAuthRequired)
		})
	}
}

func TestNewTokenSignerRequiresSecret(t *testing.T) {
	_, err := NewTokenSigner("")
	assert.Error(t, err)
}
