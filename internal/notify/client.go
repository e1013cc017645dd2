package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/market-engine/internal/domain"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024
	sendBuffer     = 64
)

const (
	EventSubscribed   = "subscribed"
	EventUnsubscribed = "unsubscribed"
	EventError        = "error"
)

// command is what clients send: {"action":"subscribe","channel":"auction:<id>"}.
type command struct {
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

// Client is one websocket connection.
type Client struct {
	ID     string
	UserID uuid.UUID

	conn *websocket.Conn
	hub  *Hub
	send chan []byte

	mu       sync.Mutex
	channels map[domain.Channel]struct{}

	done chan struct{}
	once sync.Once
}

func newClient(userID uuid.UUID, conn *websocket.Conn, hub *Hub) *Client {
	return &Client{
		ID:       uuid.NewString(),
		UserID:   userID,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, sendBuffer),
		channels: make(map[domain.Channel]struct{}),
		done:     make(chan struct{}),
	}
}

// enqueue reports false when the buffer is full.
func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn("unexpected close", slog.String("conn_id", c.ID), slog.Any("error", err))
			}
			return
		}
		c.handle(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
			return
		}
	}
}

// handle applies one subscription command. A user may listen to any
// auction channel but only to their own user channel.
func (c *Client) handle(message []byte) {
	var cmd command
	if err := json.Unmarshal(message, &cmd); err != nil {
		c.reply("", EventError, "malformed command")
		return
	}
	id, private, err := domain.ParseChannel(cmd.Channel)
	if err != nil {
		c.reply(domain.Channel(cmd.Channel), EventError, err.Error())
		return
	}
	ch := domain.Channel(cmd.Channel)
	if private && id != c.UserID {
		c.reply(ch, EventError, "cannot subscribe to another user's channel")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	switch cmd.Action {
	case "subscribe":
		if err := c.hub.subscribe(ctx, c, ch); err != nil {
			c.reply(ch, EventError, "subscription failed")
			return
		}
		c.reply(ch, EventSubscribed, "")
	case "unsubscribe":
		if err := c.hub.unsubscribe(ctx, c, ch); err != nil {
			c.reply(ch, EventError, "unsubscribe failed")
			return
		}
		c.reply(ch, EventUnsubscribed, "")
	default:
		c.reply(ch, EventError, "unknown action "+cmd.Action)
	}
}

func (c *Client) reply(channel domain.Channel, event, errMsg string) {
	var payload map[string]any
	if errMsg != "" {
		payload = map[string]any{"error": errMsg}
	}
	frame, err := json.Marshal(NewEnvelope(channel, event, payload, time.Now()))
	if err != nil {
		return
	}
	c.enqueue(frame)
}
