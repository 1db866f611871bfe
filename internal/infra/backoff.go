package infra

import "time"

// CalculateBackoff returns an exponential reconnect delay for the given
// retry count, capped at 30 seconds.
func CalculateBackoff(retry int) time.Duration {
	if retry <= 0 {
		return time.Second
	}
	delay := time.Second << uint(retry-1)
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
