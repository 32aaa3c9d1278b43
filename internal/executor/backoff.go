package executor

import (
	"math/rand"
	"time"
)

// Backoff constants for transient stage failures
const (
	initialBackoff = 2 * time.Second
	maxBackoff     = 2 * time.Minute
	backoffFactor  = 2
	jitterFraction = 0.25
)

// calculateBackoff returns the delay before retry number attempt using
// exponential backoff with jitter. attempt counts completed failures,
// so the first retry waits roughly the initial delay.
func calculateBackoff(attempt int, rng *rand.Rand) time.Duration {
	delay := initialBackoff
	for i := 0; i < attempt; i++ {
		delay *= backoffFactor
		if delay > maxBackoff {
			delay = maxBackoff
			break
		}
	}

	// spread retries out so concurrent projects do not hammer the same
	// external service in lockstep
	jitter := time.Duration(float64(delay) * jitterFraction * (2*rng.Float64() - 1))
	return delay + jitter
}
