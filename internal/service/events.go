package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

// ListingChannel carries listing.refreshed events.
const ListingChannel = "listing"

// WatchlistChannelPrefix prefixes the per-user watchlist.changed channels.
const WatchlistChannelPrefix = "watchlist:"

// WatchlistChannel returns the channel for userID's watchlist events.
func WatchlistChannel(userID string) string {
	return WatchlistChannelPrefix + userID
}

// WatchlistEvent is published after every completed watchlist mutation.
type WatchlistEvent struct {
	Event     string    `json:"event"`
	UserID    string    `json:"user_id"`
	Version   uint64    `json:"version"`
	IDs       []string  `json:"ids"`
	Timestamp time.Time `json:"timestamp"`
}

func publishWatchlistEvent(ctx context.Context, bus domain.SignalBus, logger *slog.Logger, wl domain.UserWatchlist) {
	if bus == nil {
		return
	}
	evt, _ := json.Marshal(WatchlistEvent{
		Event:     "watchlist.changed",
		UserID:    wl.UserID,
		Version:   wl.Version,
		IDs:       wl.IDs(),
		Timestamp: time.Now().UTC(),
	})
	if err := bus.Publish(ctx, WatchlistChannel(wl.UserID), evt); err != nil {
		logger.WarnContext(ctx, "publish watchlist event failed",
			slog.String("user_id", wl.UserID),
			slog.String("error", err.Error()),
		)
	}
}
