package quota

import (
	"context"
	"time"
)

// Decision describes the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
	// Degraded is set when the counter store was unreachable and the check
	// failed open. Surfaced for observability; never turns into a denial.
	Degraded bool
}

// Counter is an atomic increment-with-TTL primitive over window-scoped keys.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (int64, error)
}
