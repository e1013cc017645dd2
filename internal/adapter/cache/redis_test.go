package cache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/adapter/cache"
	"github.com/olyamironova/market-engine/internal/adapter/in_memory"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func client(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	c := cache.NewClient(addr, "", 0)
	require.NoError(t, c.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := cache.NewRedisCache(client(t), time.Minute)
	id := uuid.New()

	miss, err := c.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, miss)

	leader := uuid.New()
	v := &domain.AuctionView{ListingID: id, Active: true, CurrentBid: decimal.RequireFromString("20.5"), LeaderID: &leader, BidCount: 2}
	require.NoError(t, c.SetAuction(ctx, v))
	got, err := c.GetAuction(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CurrentBid.Equal(v.CurrentBid))
	assert.Equal(t, leader, *got.LeaderID)

	require.NoError(t, c.Invalidate(ctx, id))
	got, err = c.GetAuction(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisRegistry(t *testing.T) {
	ctx := context.Background()
	r := cache.NewRedisRegistry(client(t), time.Minute)
	ch := domain.AuctionChannel(uuid.New())

	require.NoError(t, r.Add(ctx, ch, "b"))
	require.NoError(t, r.Add(ctx, ch, "a"))
	got, err := r.Members(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	require.NoError(t, r.Remove(ctx, ch, "a"))
	got, err = r.Members(ctx, ch)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, got)
}

func TestRedisBusRelays(t *testing.T) {
	c := client(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := cache.NewRedisBus(c, nil)
	rec := in_memory.NewRecorder()
	go func() { _ = bus.Relay(ctx, rec) }()

	ch := domain.UserChannel(uuid.New())
	require.Eventually(t, func() bool {
		_ = bus.Notify(ctx, ch, domain.EventBalanceChanged, map[string]any{"balance": "10"})
		return len(rec.On(ch)) > 0
	}, 2*time.Second, 50*time.Millisecond)

	ev := rec.On(ch)[0]
	assert.Equal(t, domain.EventBalanceChanged, ev.Name)
	assert.Equal(t, "10", ev.Payload["balance"])
}
