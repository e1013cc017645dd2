package cache

import (
	"context"
	"sort"
	"time"

	"github.com/olyamironova/market-engine/internal/domain"
	"github.com/olyamironova/market-engine/internal/port"
	"github.com/redis/go-redis/v9"
)

var _ port.ConnectionRegistry = (*RedisRegistry)(nil)

// RedisRegistry shares channel membership between server instances. Each
// channel is a set that expires ttl after its last change, so members of a
// crashed instance do not linger forever.
type RedisRegistry struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, ttl: ttl}
}

func presenceKey(channel domain.Channel) string { return "presence:" + string(channel) }

func (r *RedisRegistry) Add(ctx context.Context, channel domain.Channel, connID string) error {
	k := presenceKey(channel)
	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, k, connID)
	if r.ttl > 0 {
		pipe.Expire(ctx, k, r.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (r *RedisRegistry) Remove(ctx context.Context, channel domain.Channel, connID string) error {
	return r.client.SRem(ctx, presenceKey(channel), connID).Err()
}

func (r *RedisRegistry) Members(ctx context.Context, channel domain.Channel) ([]string, error) {
	res, err := r.client.SMembers(ctx, presenceKey(channel)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(res)
	return res, nil
}
