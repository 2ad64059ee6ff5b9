package quota

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// The INCR and EXPIRE must be one round trip so two concurrent consumers can
// never both observe a pre-increment count below the limit.
var incrScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RedisCounter implements Counter on the expiring-counter store.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter constructs a RedisCounter.
func NewRedisCounter(client *redis.Client, prefix string) *RedisCounter {
	return &RedisCounter{client: client, prefix: strings.TrimSpace(prefix)}
}

// Incr atomically increments the key, attaching the TTL on first increment
// so stale windows self-clean.
func (c *RedisCounter) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("quota redis: not initialized")
	}
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	res, errEval := incrScript.Run(ctx, c.client, []string{c.buildKey(key)}, ttlSeconds).Result()
	if errEval != nil {
		return 0, errEval
	}
	count, ok := res.(int64)
	if !ok {
		switch v := res.(type) {
		case int:
			count = int64(v)
		case uint64:
			count = int64(v)
		default:
			return 0, errors.New("quota redis: unexpected response type")
		}
	}
	return count, nil
}

// Get reads the current count without mutating it. Missing keys read as zero.
func (c *RedisCounter) Get(ctx context.Context, key string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, errors.New("quota redis: not initialized")
	}
	count, errGet := c.client.Get(ctx, c.buildKey(key)).Int64()
	if errGet != nil {
		if errors.Is(errGet, redis.Nil) {
			return 0, nil
		}
		return 0, errGet
	}
	return count, nil
}

func (c *RedisCounter) buildKey(key string) string {
	if c.prefix == "" {
		return key
	}
	return c.prefix + ":" + key
}
