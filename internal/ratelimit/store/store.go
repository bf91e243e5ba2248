// Package store keeps sliding-window request counters for the rate limiter.
//
// Two implementations share the same semantics: a request of cost n is
// admitted when the number of admissions inside the trailing window plus n
// does not exceed the limit. Rejected requests consume nothing.
package store

import (
	"fmt"
	"time"
)

func checkArgs(key string, cost, limit int, window time.Duration) error {
	if key == "" {
		return fmt.Errorf("rate limit key is required")
	}
	if limit <= 0 || cost <= 0 {
		return fmt.Errorf("rate limit cost and limit must be positive")
	}
	if window <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	return nil
}
