package service

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// retryDelay returns the wait before retry number attempts (1-based), doubling
// from base and capped at max.
func retryDelay(attempts int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max < base {
		max = base
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.MaxInterval = max
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	delay := base
	for i := 0; i < attempts; i++ {
		next := b.NextBackOff()
		if next == backoff.Stop {
			return max
		}
		delay = next
	}
	return delay
}
