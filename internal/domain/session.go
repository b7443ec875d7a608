package domain

import "context"

// Identity is the authenticated user as reported by the session provider.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SessionCoordinator supplies the current user identity and an opaque bearer
// token. Both may fail with ErrAuthRequired.
type SessionCoordinator interface {
	Identity(ctx context.Context) (Identity, error)
	Token(ctx context.Context) (string, error)
}
