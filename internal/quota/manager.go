package quota

import (
	"context"
	"sync"
	"time"

	"github.com/loopline-social/guardpost/internal/config"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	redisBreakerDuration = 30 * time.Second
	// Counter round trips past this are treated as an outage; the write
	// path must not stall on a slow store.
	redisCallTimeout = 100 * time.Millisecond
)

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// Manager selects a counter backend per call. Redis is preferred; failures
// trip a circuit breaker and fall back to the in-memory counter, flagging
// the call as degraded.
type Manager struct {
	nowFn  func() time.Time
	memory *MemoryCounter
	redis  Counter

	mu           sync.Mutex
	breakerUntil time.Time
}

// NewManager constructs a Manager. Redis is only wired when enabled with a
// non-empty address; otherwise memory is the primary backend and calls are
// never degraded.
func NewManager(cfg config.RedisConfig, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	m := &Manager{
		nowFn:  nowFn,
		memory: NewMemoryCounter(nowFn),
	}
	if cfg.Enabled && cfg.Addr != "" {
		client := newRedisClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		m.redis = NewRedisCounter(client, cfg.Prefix)
	}
	return m
}

// NewManagerWithCounter constructs a Manager over an explicit primary
// counter. Used by tests.
func NewManagerWithCounter(primary Counter, nowFn func() time.Time) *Manager {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Manager{
		nowFn:  nowFn,
		memory: NewMemoryCounter(nowFn),
		redis:  primary,
	}
}

// Incr increments the key on the best available backend. The degraded flag
// reports that the counter store was unreachable and the in-memory fallback
// served the call.
func (m *Manager) Incr(ctx context.Context, key string, ttl time.Duration) (count int64, degraded bool, err error) {
	if m.redis == nil {
		count, err = m.memory.Incr(ctx, key, ttl)
		return count, false, err
	}
	now := m.nowFn()
	if !m.isBreakerActive(now) {
		callCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
		count, errIncr := m.redis.Incr(callCtx, key, ttl)
		cancel()
		if errIncr == nil {
			return count, false, nil
		}
		m.tripBreaker(errIncr, now)
	}
	count, err = m.memory.Incr(ctx, key, ttl)
	return count, true, err
}

// Get reads the key on the best available backend.
func (m *Manager) Get(ctx context.Context, key string) (count int64, degraded bool, err error) {
	if m.redis == nil {
		count, err = m.memory.Get(ctx, key)
		return count, false, err
	}
	now := m.nowFn()
	if !m.isBreakerActive(now) {
		callCtx, cancel := context.WithTimeout(ctx, redisCallTimeout)
		count, errGet := m.redis.Get(callCtx, key)
		cancel()
		if errGet == nil {
			return count, false, nil
		}
		m.tripBreaker(errGet, now)
	}
	count, err = m.memory.Get(ctx, key)
	return count, true, err
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("quota: counter store unavailable, failing open on memory")
}
