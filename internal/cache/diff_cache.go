// Package cache stores rendered version comparisons in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no comparison is cached for a version pair.
var ErrMiss = errors.New("comparison not cached")

// DiffCache holds encoded comparison results. Versions never change, so a
// pair of version ids fully determines the result.
type DiffCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewDiffCache(redisURL string, ttl time.Duration) (*DiffCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewDiffCacheWithClient(client, ttl), nil
}

func NewDiffCacheWithClient(client *redis.Client, ttl time.Duration) *DiffCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &DiffCache{
		client: client,
		prefix: "diff:",
		ttl:    ttl,
	}
}

func (c *DiffCache) key(fromID, toID string) string {
	return c.prefix + fromID + ":" + toID
}

func (c *DiffCache) Get(ctx context.Context, fromID, toID string) ([]byte, error) {
	payload, err := c.client.Get(ctx, c.key(fromID, toID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("read cached comparison: %w", err)
	}
	return payload, nil
}

func (c *DiffCache) Put(ctx context.Context, fromID, toID string, payload []byte) error {
	if err := c.client.Set(ctx, c.key(fromID, toID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache comparison: %w", err)
	}
	return nil
}

func (c *DiffCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *DiffCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
