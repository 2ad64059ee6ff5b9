package quota

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WindowID returns the current fixed-window identifier.
func WindowID(now time.Time, w Window) int64 {
	return now.Unix() / w.Seconds()
}

// windowReset returns the instant the current window rolls over.
func windowReset(now time.Time, w Window) time.Time {
	seconds := w.Seconds()
	next := (now.Unix()/seconds + 1) * seconds
	return time.Unix(next, 0).UTC()
}

// Key builds a counter key for an account-scoped action window.
func Key(accountID uuid.UUID, action Action, windowID int64) string {
	return fmt.Sprintf("quota:%s:%s:%d", accountID, action, windowID)
}

// IPKey builds a counter key for an IP-scoped action window, used on
// unauthenticated endpoints.
func IPKey(ip string, action Action, windowID int64) string {
	return fmt.Sprintf("quota:ip:%s:%s:%d", ip, action, windowID)
}
