package quota

import (
	"context"
	"sync"
	"time"
)

const memorySweepThreshold = 4096

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounter implements Counter in process memory. It backs the limiter
// when Redis is disabled or unreachable; counts are per-replica only.
type MemoryCounter struct {
	nowFn    func() time.Time
	mu       sync.Mutex
	counters map[string]*memoryEntry
}

// NewMemoryCounter constructs a MemoryCounter. A nil nowFn defaults to
// time.Now.
func NewMemoryCounter(nowFn func() time.Time) *MemoryCounter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &MemoryCounter{
		nowFn:    nowFn,
		counters: make(map[string]*memoryEntry),
	}
}

// Incr increments the key, starting a fresh window when the previous one
// expired.
func (c *MemoryCounter) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.counters) > memorySweepThreshold {
		c.sweep(now)
	}

	entry := c.counters[key]
	if entry == nil || !entry.expiresAt.After(now) {
		entry = &memoryEntry{expiresAt: now.Add(ttl)}
		c.counters[key] = entry
	}
	entry.count++
	return entry.count, nil
}

// Get reads the current count. Expired or missing keys read as zero.
func (c *MemoryCounter) Get(_ context.Context, key string) (int64, error) {
	now := c.nowFn()

	c.mu.Lock()
	defer c.mu.Unlock()

	entry := c.counters[key]
	if entry == nil || !entry.expiresAt.After(now) {
		return 0, nil
	}
	return entry.count, nil
}

// sweep drops expired windows. Caller holds the lock.
func (c *MemoryCounter) sweep(now time.Time) {
	for key, entry := range c.counters {
		if !entry.expiresAt.After(now) {
			delete(c.counters, key)
		}
	}
}
