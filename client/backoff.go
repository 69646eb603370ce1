package client

import "time"

// Backoff returns the delay before reconnect attempt n (1-based): the
// initial delay doubled per attempt, capped at max. Attempt values below 1
// are treated as the first attempt.
func Backoff(initial, max time.Duration, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	d := initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
