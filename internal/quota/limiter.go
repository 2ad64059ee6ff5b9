package quota

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/loopline-social/guardpost/internal/models"
	log "github.com/sirupsen/logrus"
)

// Limiter enforces per-action, per-window ceilings chosen by trust level.
type Limiter struct {
	counters *Manager
	nowFn    func() time.Time
}

// NewLimiter constructs a Limiter. A nil nowFn defaults to time.Now.
func NewLimiter(counters *Manager, nowFn func() time.Time) *Limiter {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Limiter{counters: counters, nowFn: nowFn}
}

// CheckAndConsume increments every window bound to the action and denies
// when any post-increment count exceeds its limit. Increments are never
// reverted on denial, so probing the limit is not free. Counter-store
// failures fail open with the Degraded flag set.
func (l *Limiter) CheckAndConsume(ctx context.Context, accountID uuid.UUID, action Action, level models.TrustLevel) (Decision, error) {
	checks := checksFor(action, LimitsFor(level))
	if len(checks) == 0 {
		return Decision{Allowed: true}, nil
	}
	now := l.nowFn().UTC()

	counts := make([]int64, len(checks))
	degraded := false
	for i, chk := range checks {
		key := Key(accountID, action, WindowID(now, chk.window))
		count, wasDegraded, errIncr := l.increment(ctx, key, chk.window)
		degraded = degraded || wasDegraded
		if errIncr != nil {
			// Both backends failed; treat the window as unconstrained.
			degraded = true
			counts[i] = 0
			continue
		}
		counts[i] = count
	}

	decision := Decision{Allowed: true, Degraded: degraded}
	for i, chk := range checks {
		if counts[i] > int64(chk.limit) {
			log.WithFields(log.Fields{
				"account_id": accountID,
				"action":     action,
				"window":     chk.window.String(),
				"count":      counts[i],
				"limit":      chk.limit,
			}).Debug("quota: limit exceeded")
			return Decision{
				Allowed:  false,
				Reset:    windowReset(now, chk.window),
				Degraded: degraded,
			}, nil
		}
		remaining := chk.limit - int(counts[i])
		if i == 0 || remaining < decision.Remaining {
			decision.Remaining = remaining
			decision.Reset = windowReset(now, chk.window)
		}
	}
	return decision, nil
}

// Remaining returns the unconsumed quota on the client-facing window
// without mutating any counter. It never goes negative.
func (l *Limiter) Remaining(ctx context.Context, accountID uuid.UUID, action Action, level models.TrustLevel) (int, error) {
	chk, ok := primaryCheck(action, LimitsFor(level))
	if !ok {
		return 0, nil
	}
	now := l.nowFn().UTC()
	key := Key(accountID, action, WindowID(now, chk.window))
	count, _, errGet := l.counters.Get(ctx, key)
	if errGet != nil {
		return chk.limit, nil
	}
	remaining := chk.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// CheckAndConsumeIP enforces an explicit limit keyed by client IP, for
// unauthenticated endpoints such as signup.
func (l *Limiter) CheckAndConsumeIP(ctx context.Context, ip string, action Action, limit int, window Window) (Decision, error) {
	if limit <= 0 || ip == "" {
		return Decision{Allowed: true}, nil
	}
	now := l.nowFn().UTC()
	key := IPKey(ip, action, WindowID(now, window))
	count, degraded, errIncr := l.increment(ctx, key, window)
	if errIncr != nil {
		return Decision{Allowed: true, Degraded: true}, nil
	}
	if count > int64(limit) {
		log.WithFields(log.Fields{
			"ip":     ip,
			"action": action,
			"count":  count,
			"limit":  limit,
		}).Debug("quota: ip limit exceeded")
		return Decision{Allowed: false, Reset: windowReset(now, window), Degraded: degraded}, nil
	}
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Remaining: remaining, Reset: windowReset(now, window), Degraded: degraded}, nil
}

func (l *Limiter) increment(ctx context.Context, key string, window Window) (int64, bool, error) {
	ttl := time.Duration(window.Seconds()) * time.Second
	return l.counters.Incr(ctx, key, ttl)
}
