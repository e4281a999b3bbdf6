// Package redisstore provides a Redis-backed idempotency guard. Keys
// carry a TTL so the set does not grow without bound; the TTL must
// comfortably exceed the longest provider retry horizon.
package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 30 * 24 * time.Hour

type Idempotency struct {
	client *redis.Client
	ttl    time.Duration
}

func NewIdempotency(addr string, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Idempotency{
		client: redis.NewClient(&redis.Options{Addr: addr}),
		ttl:    ttl,
	}
}

func key(provider, eventID string) string {
	return "idem:" + provider + ":" + eventID
}

func (s *Idempotency) CheckAndReserve(ctx context.Context, provider, eventID string) (bool, error) {
	return s.client.SetNX(ctx, key(provider, eventID), 1, s.ttl).Result()
}

func (s *Idempotency) Release(ctx context.Context, provider, eventID string) error {
	return s.client.Del(ctx, key(provider, eventID)).Err()
}

func (s *Idempotency) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
