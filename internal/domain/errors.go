package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrAlreadyWatched    = errors.New("already in watchlist")
	ErrRateLimited       = errors.New("rate limited")
	ErrPersistenceFailed = errors.New("persistence failed")
	ErrAuthRequired      = errors.New("authentication required")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSuperseded        = errors.New("superseded by newer request")
	ErrLockHeld          = errors.New("lock already held")
)
