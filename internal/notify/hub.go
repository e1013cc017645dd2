package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
)

var _ port.Notifier = (*Hub)(nil)

const registryTimeout = 5 * time.Second

// Hub delivers events to the websocket connections of this process.
// Membership lives in the ConnectionRegistry, which may be shared with
// other instances; ids that belong to another instance are skipped.
type Hub struct {
	registry port.ConnectionRegistry
	log      *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewHub(registry port.ConnectionRegistry, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		registry: registry,
		log:      log.With(slog.String("component", "ws")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Notify(ctx context.Context, channel domain.Channel, event string, payload map[string]any) error {
	ids, err := h.registry.Members(ctx, channel)
	if err != nil {
		return fmt.Errorf("members of %s: %w", channel, err)
	}
	if len(ids) == 0 {
		return nil
	}
	frame, err := json.Marshal(NewEnvelope(channel, event, payload, time.Now()))
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	h.mu.RLock()
	targets := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := h.clients[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.enqueue(frame) {
			h.log.WarnContext(ctx, "send buffer full, dropping connection",
				slog.String("conn_id", c.ID), slog.String("user_id", c.UserID.String()))
			c.close()
		}
	}
	return nil
}

// ServeWS upgrades the request and subscribes the connection to the
// user's private channel.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID uuid.UUID) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	c := newClient(userID, conn, h)
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	if err := h.subscribe(r.Context(), c, domain.UserChannel(userID)); err != nil {
		h.remove(c)
		c.close()
		return err
	}
	h.log.Info("websocket connected", slog.String("conn_id", c.ID), slog.String("user_id", userID.String()))
	go c.writePump()
	go c.readPump()
	return nil
}

func (h *Hub) subscribe(ctx context.Context, c *Client, channel domain.Channel) error {
	if err := h.registry.Add(ctx, channel, c.ID); err != nil {
		return fmt.Errorf("subscribe %s: %w", channel, err)
	}
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (h *Hub) unsubscribe(ctx context.Context, c *Client, channel domain.Channel) error {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()
	return h.registry.Remove(ctx, channel, c.ID)
}

// remove drops the client and all of its registry entries.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	c.mu.Lock()
	channels := make([]domain.Channel, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	c.channels = make(map[domain.Channel]struct{})
	c.mu.Unlock()
	for _, ch := range channels {
		if err := h.registry.Remove(ctx, ch, c.ID); err != nil {
			h.log.Warn("registry cleanup failed", slog.String("channel", string(ch)), slog.Any("error", err))
		}
	}
	h.log.Info("websocket disconnected", slog.String("conn_id", c.ID), slog.String("user_id", c.UserID.String()))
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection. Their read loops clean up the registry.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close()
	}
}
