// Package lock implements the per-resource distributed lock backing
// ledger mutations. Acquire is one atomic SET NX PX; Release is one
// atomic compare-and-delete so a slow holder can never free a lock that
// already expired and was re-acquired by someone else.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only when its value still matches the
// caller's token.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end
`

type RedisLock struct {
	client *redis.Client
	script *redis.Script
}

func New(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, script: redis.NewScript(releaseScript)}
}

// Acquire grabs key for ttl and returns the fencing token. It never
// blocks or retries: an empty token means the key is already held and
// the caller should fail fast with a conflict.
func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

// Release frees key if it is still owned by token. Returns false when
// the lock had already expired or was taken over.
func (l *RedisLock) Release(ctx context.Context, key, token string) (bool, error) {
	if key == "" || token == "" {
		return false, nil
	}
	n, err := l.script.Run(ctx, l.client, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
