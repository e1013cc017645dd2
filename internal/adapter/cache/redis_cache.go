package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.Cache = (*RedisCache)(nil)

func NewClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisCache keeps auction views for ttl. Engines invalidate a view after
// every committed change to it.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func key(listingID uuid.UUID) string { return "auction:view:" + listingID.String() }

func (c *RedisCache) SetAuction(ctx context.Context, v *domain.AuctionView) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key(v.ListingID), b, c.ttl).Err()
}

func (c *RedisCache) GetAuction(ctx context.Context, listingID uuid.UUID) (*domain.AuctionView, error) {
	b, err := c.client.Get(ctx, key(listingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v domain.AuctionView
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *RedisCache) Invalidate(ctx context.Context, listingID uuid.UUID) error {
	return c.client.Del(ctx, key(listingID)).Err()
}
