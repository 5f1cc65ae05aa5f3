// Package checkcache holds the last-known background-check result per
// contractor in Redis. The external provider pushes results in; the
// compliance gate only ever reads the cache and fails closed on a miss, so
// the core never blocks on the provider.
package checkcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"engagement-engine/internal/models"
)

// Cache is the Redis-backed read cache.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New builds a cache over the given client. Entries expire after ttl so a
// provider that stops reporting degrades to fail-closed.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, prefix: "bgcheck:", ttl: ttl}
}

func (c *Cache) key(contractorID string) string {
	return c.prefix + contractorID
}

// Get returns the cached result, or nil when the provider has never reported
// or the entry expired.
func (c *Cache) Get(ctx context.Context, contractorID string) (*models.BackgroundCheckResult, error) {
	raw, err := c.client.Get(ctx, c.key(contractorID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read check cache: %w", err)
	}
	var result models.BackgroundCheckResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("decode check cache: %w", err)
	}
	return &result, nil
}

// Put stores a provider result.
func (c *Cache) Put(ctx context.Context, contractorID string, result models.BackgroundCheckResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode check result: %w", err)
	}
	if err := c.client.Set(ctx, c.key(contractorID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write check cache: %w", err)
	}
	return nil
}
