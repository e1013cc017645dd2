package notify_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/olyamironova/market-engine/internal/adapter/in_memory"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hubFixture struct {
	hub      *notify.Hub
	registry *in_memory.Registry
	srv      *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	reg := in_memory.NewRegistry()
	hub := notify.NewHub(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.URL.Query().Get("user"))
		if err != nil {
			http.Error(w, "bad user", http.StatusBadRequest)
			return
		}
		_ = hub.ServeWS(w, r, id)
	}))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return &hubFixture{hub: hub, registry: reg, srv: srv}
}

func (f *hubFixture) dial(t *testing.T, user uuid.UUID) *websocket.Conn {
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/?user=" + user.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.Eventually(t, func() bool {
		ids, _ := f.registry.Members(context.Background(), domain.UserChannel(user))
		return len(ids) > 0
	}, time.Second, 5*time.Millisecond)
	return conn
}

func read(t *testing.T, conn *websocket.Conn) notify.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var env notify.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHubDeliversToOwnUserChannel(t *testing.T) {
	f := newHubFixture(t)
	user := uuid.New()
	conn := f.dial(t, user)

	require.NoError(t, f.hub.Notify(context.Background(), domain.UserChannel(user), domain.EventBalanceChanged, map[string]any{"balance": "5"}))
	env := read(t, conn)
	assert.Equal(t, domain.UserChannel(user), env.Channel)
	assert.Equal(t, domain.EventBalanceChanged, env.Event)
	assert.Equal(t, "5", env.Payload["balance"])
}

func TestHubAuctionSubscription(t *testing.T) {
	f := newHubFixture(t)
	user := uuid.New()
	conn := f.dial(t, user)
	auction := domain.AuctionChannel(uuid.New())

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "channel": string(auction)}))
	ack := read(t, conn)
	assert.Equal(t, notify.EventSubscribed, ack.Event)

	require.NoError(t, f.hub.Notify(context.Background(), auction, domain.EventBid, map[string]any{"amount": "15"}))
	env := read(t, conn)
	assert.Equal(t, auction, env.Channel)
	assert.Equal(t, domain.EventBid, env.Event)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "unsubscribe", "channel": string(auction)}))
	assert.Equal(t, notify.EventUnsubscribed, read(t, conn).Event)
	ids, err := f.registry.Members(context.Background(), auction)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestHubRefusesForeignUserChannel(t *testing.T) {
	f := newHubFixture(t)
	user, other := uuid.New(), uuid.New()
	conn := f.dial(t, user)

	require.NoError(t, conn.WriteJSON(map[string]string{"action": "subscribe", "channel": string(domain.UserChannel(other))}))
	env := read(t, conn)
	assert.Equal(t, notify.EventError, env.Event)

	ids, err := f.registry.Members(context.Background(), domain.UserChannel(other))
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, notify.EventError, read(t, conn).Event)
}

func TestHubCleansRegistryOnDisconnect(t *testing.T) {
	f := newHubFixture(t)
	user := uuid.New()
	conn := f.dial(t, user)
	require.Equal(t, 1, f.hub.Connections())

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		ids, _ := f.registry.Members(context.Background(), domain.UserChannel(user))
		return len(ids) == 0 && f.hub.Connections() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.NoError(t, f.hub.Notify(context.Background(), domain.UserChannel(user), domain.EventBalanceChanged, nil))
}
