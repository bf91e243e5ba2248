package models

import "time"

// Result is the outcome of one rate limit check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds
}

// Policy is the request budget for one key.
type Policy struct {
	Limit  int
	Window time.Duration
}

// Enabled reports whether the policy limits anything.
func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

// RetryAfterSeconds returns the whole seconds until resetAt, rounded up.
func RetryAfterSeconds(allowed bool, now, resetAt time.Time) int {
	if allowed {
		return 0
	}
	d := resetAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
