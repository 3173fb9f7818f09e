// Package idempotency caches the outcome of committed mutations under a
// caller-supplied key so client retries replay the result instead of
// re-executing the mutation.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "idem:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{client: client, ttl: ttl}
}

// Lookup unmarshals a previously stored result into dest and reports
// whether the key was present.
func (c *Cache) Lookup(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, err
	}
	return true, nil
}

// Store records a committed result. Must only be called after the
// underlying transaction committed; caching earlier would let a failed
// request short-circuit its own retry.
func (c *Cache) Store(ctx context.Context, key string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, keyPrefix+key, data, c.ttl).Err()
}
