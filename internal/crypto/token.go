// Package crypto signs and verifies the bearer tokens the watchlist backend
// accepts.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	keyLen           = 32
	tokenSalt        = "cryptoworld/session/v1"
)

// TokenSigner issues and checks tokens of the form
// base64url(userID).expiry.signature, where signature is
// HMAC-SHA256(key, userID "." expiry).
type TokenSigner struct {
	key []byte
	now func() time.Time
}

// NewTokenSigner derives the signing key from secret with PBKDF2.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if secret == "" {
		return nil, errors.New("crypto: token secret must not be empty")
	}
	key := pbkdf2.Key([]byte(secret), []byte(tokenSalt), pbkdf2Iterations, keyLen, sha256.New)
	return &TokenSigner{key: key, now: time.Now}, nil
}

// Sign returns a token for userID that expires after ttl.
func (s *TokenSigner) Sign(userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("crypto: %w: empty user id", domain.ErrInvalidInput)
	}
	exp := strconv.FormatInt(s.now().Add(ttl).Unix(), 10)
	sig := hmacSHA256Base64(s.key, userID+"."+exp)
	return base64.RawURLEncoding.EncodeToString([]byte(userID)) + "." + exp + "." + sig, nil
}

// Verify checks token and returns the user it was issued to. Malformed,
// forged and expired tokens all yield domain.ErrAuthRequired.
func (s *TokenSigner) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("crypto: %w: malformed token", domain.ErrAuthRequired)
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("crypto: %w: malformed token subject", domain.ErrAuthRequired)
	}
	userID := string(raw)

	want := hmacSHA256Base64(s.key, userID+"."+parts[1])
	if !hmac.Equal([]byte(want), []byte(parts[2])) {
		return "", fmt.Errorf("crypto: %w: bad token signature", domain.ErrAuthRequired)
	}

	exp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", fmt.Errorf("crypto: %w: malformed token expiry", domain.ErrAuthRequired)
	}
	if s.now().Unix() >= exp {
		return "", fmt.Errorf("crypto: %w: token expired", domain.ErrAuthRequired)
	}
	return userID, nil
}

// hmacSHA256Base64 computes HMAC-SHA256 of message using key and returns the
// result as base64url without padding.
func hmacSHA256Base64(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
