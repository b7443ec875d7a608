// Package ws relays watchlist and listing change events to browser clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cryptoworld/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 64
)

// Topics a client can subscribe to.
const (
	TopicListing   = "listing"
	TopicWatchlist = "watchlist"
)

// Config names the bus channels the hub relays.
type Config struct {
	Mode             string
	ListingChannel   string
	WatchlistPattern string
	// CheckOrigin restricts upgrades; nil allows every origin.
	CheckOrigin func(r *http.Request) bool
	// Authorizer confirms a session may receive its user's watchlist
	// events. A refused or unset-user session is served anonymously.
	Authorizer Authorizer
}

// Authorizer checks that the request's session is entitled to userID.
type Authorizer interface {
	Authorize(ctx context.Context, userID string) error
}

// client is a single WebSocket connection. userID is empty for anonymous
// clients, which only receive listing events.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID string
	topics map[string]bool
	mu     sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to change its topics.
type subscribeMsg struct {
	Action string   `json:"action"` // "subscribe" or "unsubscribe"
	Topics []string `json:"topics"`
}

// event is a message from the bus, routed by topic and, for watchlist
// events, by owner.
type event struct {
	topic  string
	userID string
	data   []byte
}

// Hub bridges the SignalBus to connected WebSocket clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan event
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	session    domain.SessionCoordinator
	upgrader   websocket.Upgrader
	cfg        Config
	mu         sync.RWMutex
	logger     *slog.Logger
	// done is closed when Run returns.
	done chan struct{}
}

// NewHub creates a Hub. session identifies the user behind an upgrade
// request; a request without a session is served anonymously.
func NewHub(bus domain.SignalBus, session domain.SessionCoordinator, logger *slog.Logger, cfg Config) *Hub {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan event, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		session:    session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		cfg:    cfg,
		logger: logger.With(slog.String("component", "ws_hub")),
		done:   make(chan struct{}),
	}
}

// Run subscribes to the bus and runs the hub's event loop until ctx is
// cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	go h.relay(ctx, h.cfg.ListingChannel, TopicListing)
	go h.relay(ctx, h.cfg.WatchlistPattern, TopicWatchlist)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("user_id", c.userID),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case evt := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(evt) {
					continue
				}
				select {
				case c.send <- evt.data:
				default:
					h.logger.Warn("ws: dropping message for slow client",
						slog.String("user_id", c.userID),
					)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// relay forwards messages from one bus channel into the event loop.
func (h *Hub) relay(ctx context.Context, channel, topic string) {
	if channel == "" {
		return
	}
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed",
					slog.String("channel", channel),
				)
				return
			}
			evt := event{topic: topic, data: data}
			if topic == TopicWatchlist {
				var owner struct {
					UserID string `json:"user_id"`
				}
				if err := json.Unmarshal(data, &owner); err != nil || owner.UserID == "" {
					h.logger.Warn("ws: dropping watchlist event without owner")
					continue
				}
				evt.userID = owner.UserID
			}
			select {
			case h.broadcast <- evt:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	var userID string
	if ident, err := h.session.Identity(r.Context()); err == nil {
		userID = ident.ID
	}
	if userID != "" && h.cfg.Authorizer != nil {
		if err := h.cfg.Authorizer.Authorize(r.Context(), userID); err != nil {
			h.logger.Warn("ws: session refused, serving anonymously",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
			userID = ""
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		topics: map[string]bool{TopicListing: true},
	}
	if userID != "" {
		c.topics[TopicWatchlist] = true
	}

	c.sendHello()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// wants reports whether evt should be delivered to c.
func (c *client) wants(evt event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.topics[evt.topic] {
		return false
	}
	return evt.topic != TopicWatchlist || (c.userID != "" && evt.userID == c.userID)
}

// readPump reads topic subscription changes from the client.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err == nil && sub.Action != "" {
			c.handleSubscription(sub)
		}
	}
}

// handleSubscription processes subscribe/unsubscribe requests from the client.
func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range msg.Topics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != TopicListing && t != TopicWatchlist {
			continue
		}
		switch msg.Action {
		case "subscribe":
			c.topics[t] = true
		case "unsubscribe":
			delete(c.topics, t)
		}
	}
}

// sendHello tells the client who it is connected as and what it receives.
func (c *client) sendHello() {
	c.mu.RLock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.RUnlock()

	msg, err := json.Marshal(map[string]any{
		"event":   "hello",
		"mode":    c.hub.cfg.Mode,
		"user_id": c.userID,
		"topics":  topics,
	})
	if err != nil {
		return
	}

	select {
	case c.send <- msg:
	default:
	}
}

// writePump writes hub messages as text frames and sends keepalive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
