package api

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retry limits. Waits and the total backoff budget are both capped at 60s;
// a Retry-After hint from the server overrides the computed wait, under the
// same cap.
const (
	retryInitialInterval = 1 * time.Second
	retryMultiplier      = 2
	retryMaxInterval     = 60 * time.Second
	retryMaxElapsed      = 60 * time.Second
)

func newRequestBackoff() *backoff.ExponentialBackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.Multiplier = retryMultiplier
	bo.MaxInterval = retryMaxInterval
	bo.MaxElapsedTime = retryMaxElapsed
	return bo
}

// nextWait picks the sleep before the next attempt. The server hint wins
// when present, capped at the maximum interval.
func nextWait(bo backoff.BackOff, hint time.Duration) time.Duration {
	wait := bo.NextBackOff()
	if wait == backoff.Stop {
		return backoff.Stop
	}
	if hint > 0 {
		if hint > retryMaxInterval {
			hint = retryMaxInterval
		}
		return hint
	}
	return wait
}
