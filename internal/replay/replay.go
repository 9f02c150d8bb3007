// Package replay detects notifications the provider delivers more than once.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "kuaidi100:notification:"

// Guard claims notification bodies so that each one is processed once.
type Guard interface {
	// Claim reports whether body is seen for the first time within the TTL.
	Claim(ctx context.Context, body []byte) (bool, error)
	// Release forgets body so that a redelivery is processed again.
	Release(ctx context.Context, body []byte) error
}

// RedisGuard is a Guard backed by Redis SETNX.
type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisGuard creates a guard remembering bodies for ttl.
func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

// Claim implements Guard.
func (g *RedisGuard) Claim(ctx context.Context, body []byte) (bool, error) {
	return g.client.SetNX(ctx, Key(body), "1", g.ttl).Result()
}

// Release implements Guard.
func (g *RedisGuard) Release(ctx context.Context, body []byte) error {
	return g.client.Del(ctx, Key(body)).Err()
}

// Key returns the Redis key for body.
func Key(body []byte) string {
	sum := sha256.Sum256(body)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Nop accepts every notification.
type Nop struct{}

// Claim implements Guard.
func (Nop) Claim(context.Context, []byte) (bool, error) { return true, nil }

// Release implements Guard.
func (Nop) Release(context.Context, []byte) error { return nil }

var (
	_ Guard = (*RedisGuard)(nil)
	_ Guard = Nop{}
)
