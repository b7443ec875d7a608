package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const maxCoinNameLen = 200

// BackendService is the persistence backend's view of watchlists: it
// validates requests and stores entries in the repository. It holds no
// cache; the repository is the source of truth.
type BackendService struct {
	repo   domain.WatchlistRepository
	logger *slog.Logger
}

// NewBackendService creates a BackendService.
func NewBackendService(repo domain.WatchlistRepository, logger *slog.Logger) *BackendService {
	return &BackendService{
		repo:   repo,
		logger: logger.With(slog.String("component", "backend_service")),
	}
}

// List returns userID's entries in insertion order.
func (s *BackendService) List(ctx context.Context, userID string) ([]domain.WatchedCoin, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("backend: %w: empty user id", domain.ErrInvalidInput)
	}
	coins, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("backend: list %s: %w", userID, err)
	}
	return coins, nil
}

// Add stores coin for userID. An entry that exists already yields
// domain.ErrAlreadyWatched; a full watchlist yields domain.ErrInvalidInput.
func (s *BackendService) Add(ctx context.Context, userID string, coin domain.WatchedCoin) error {
	coin.Identifier = strings.TrimSpace(coin.Identifier)
	if err := validateEntry(userID, coin.Identifier); err != nil {
		return err
	}
	if coin.DisplayName == "" {
		coin.DisplayName = coin.Identifier
	}

	if err := s.repo.Insert(ctx, userID, coin, MaxWatchlistSize); err != nil {
		return fmt.Errorf("backend: add %s: %w", coin.Identifier, err)
	}
	s.logger.InfoContext(ctx, "backend: entry added",
		slog.String("user_id", userID),
		slog.String("coin", coin.Identifier),
	)
	return nil
}

// Remove deletes identifier from userID's watchlist. A missing entry yields
// domain.ErrNotFound.
func (s *BackendService) Remove(ctx context.Context, userID, identifier string) error {
	identifier = strings.TrimSpace(identifier)
	if err := validateEntry(userID, identifier); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, userID, identifier); err != nil {
		return fmt.Errorf("backend: remove %s: %w", identifier, err)
	}
	s.logger.InfoContext(ctx, "backend: entry removed",
		slog.String("user_id", userID),
		slog.String("coin", identifier),
	)
	return nil
}

func validateEntry(userID, name string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("backend: %w: empty user id", domain.ErrInvalidInput)
	}
	if name == "" {
		return fmt.Errorf("backend: %w: empty coin name", domain.ErrInvalidInput)
	}
	if len(name) > maxCoinNameLen {
		return fmt.Errorf("backend: %w: coin name longer than %d bytes", domain.ErrInvalidInput, maxCoinNameLen)
	}
	return nil
}
