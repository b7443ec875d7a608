// Package session supplies the authenticated identity and bearer token that
// watchlist operations run under.
package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderUserEmail = "X-User-Email"
)

// Request is the session carried by one inbound HTTP request.
type Request struct {
	ident domain.Identity
	token string
}

// FromRequest reads the bearer token and the identity headers set by the
// upstream identity provider. Missing values surface as
// domain.ErrAuthRequired when the session is used.
//
// The headers are claims: they are trusted only behind a proxy that sets
// them, or after Verified or a backend check has tied them to the token.
func FromRequest(r *http.Request) *Request {
	return &Request{
		ident: domain.Identity{
			ID:    strings.TrimSpace(r.Header.Get(HeaderUserID)),
			Email: strings.TrimSpace(r.Header.Get(HeaderUserEmail)),
		},
		token: BearerToken(r),
	}
}

// Identity returns the request's user.
func (s *Request) Identity(context.Context) (domain.Identity, error) {
	if s.ident.ID == "" {
		return domain.Identity{}, fmt.Errorf("session: %w: no user id", domain.ErrAuthRequired)
	}
	return s.ident, nil
}

// Anonymous reports whether the request carried neither a user id nor a
// bearer token.
func (s *Request) Anonymous() bool {
	return s.ident.ID == "" && s.token == ""
}

// Verified returns a copy whose user is the one verify reports the bearer
// token was issued to, ignoring the claimed user id. A missing or rejected
// token yields a session that fails with domain.ErrAuthRequired.
func (s *Request) Verified(verify func(token string) (string, error)) *Request {
	if s.token == "" {
		return &Request{}
	}
	userID, err := verify(s.token)
	if err != nil || userID == "" {
		return &Request{}
	}

	out := &Request{ident: domain.Identity{ID: userID}, token: s.token}
	if s.ident.ID == "" || s.ident.ID == userID {
		out.ident.Email = s.ident.Email
	}
	return out
}

// Token returns the request's bearer token.
func (s *Request) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("session: %w: no bearer token", domain.ErrAuthRequired)
	}
	return s.token, nil
}

// Static is a fixed session, used when the process acts for one configured
// user.
type Static struct {
	ident domain.Identity
	token string
}

// NewStatic creates a Static session.
func NewStatic(ident domain.Identity, token string) *Static {
	return &Static{ident: ident, token: token}
}

func (s *Static) Identity(context.Context) (domain.Identity, error) {
	if s.ident.ID == "" {
		return domain.Identity{}, fmt.Errorf("session: %w: no static user configured", domain.ErrAuthRequired)
	}
	return s.ident, nil
}

func (s *Static) Token(context.Context) (string, error) {
	if s.token == "" {
		return "", fmt.Errorf("session: %w: no static token configured", domain.ErrAuthRequired)
	}
	return s.token, nil
}

// TokenIssuer mints bearer tokens for a user.
type TokenIssuer interface {
	Sign(userID string, ttl time.Duration) (string, error)
}

// Signed is a fixed-user session whose token is minted locally and re-minted
// once half of its lifetime has passed.
type Signed struct {
	ident  domain.Identity
	issuer TokenIssuer
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	token   string
	renewAt time.Time
}

// NewSigned creates a Signed session for ident.
func NewSigned(ident domain.Identity, issuer TokenIssuer, ttl time.Duration) *Signed {
	return &Signed{ident: ident, issuer: issuer, ttl: ttl, now: time.Now}
}

func (s *Signed) Identity(context.Context) (domain.Identity, error) {
	if s.ident.ID == "" {
		return domain.Identity{}, fmt.Errorf("session: %w: no static user configured", domain.ErrAuthRequired)
	}
	return s.ident, nil
}

func (s *Signed) Token(ctx context.Context) (string, error) {
	if _, err := s.Identity(ctx); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Before(s.renewAt) {
		return s.token, nil
	}
	token, err := s.issuer.Sign(s.ident.ID, s.ttl)
	if err != nil {
		return "", fmt.Errorf("session: mint token: %w", err)
	}
	s.token = token
	s.renewAt = now.Add(s.ttl / 2)
	return token, nil
}

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s domain.SessionCoordinator) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (domain.SessionCoordinator, bool) {
	s, ok := ctx.Value(ctxKey{}).(domain.SessionCoordinator)
	return s, ok
}

// Contextual resolves the session from the call's context, falling back to
// Fallback when the context carries none. Long-lived services hold a
// Contextual and see the session of whichever request is calling them.
type Contextual struct {
	Fallback domain.SessionCoordinator
}

func (c Contextual) resolve(ctx context.Context) (domain.SessionCoordinator, error) {
	if s, ok := FromContext(ctx); ok {
		return s, nil
	}
	if c.Fallback != nil {
		return c.Fallback, nil
	}
	return nil, fmt.Errorf("session: %w: no session in context", domain.ErrAuthRequired)
}

func (c Contextual) Identity(ctx context.Context) (domain.Identity, error) {
	s, err := c.resolve(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	return s.Identity(ctx)
}

func (c Contextual) Token(ctx context.Context) (string, error) {
	s, err := c.resolve(ctx)
	if err != nil {
		return "", err
	}
	return s.Token(ctx)
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

var (
	_ domain.SessionCoordinator = (*Request)(nil)
	_ domain.SessionCoordinator = (*Static)(nil)
	_ domain.SessionCoordinator = Contextual{}
)
