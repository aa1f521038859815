package workflow

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the exponential backoff policy consulted by the engine
// after a Failure outcome with ShouldRetry=true and the step's own
// CanRetry(). wait = min(MaxRetryDelay, RetryBaseDelay * 2^attempt).
type RetryPolicy struct {
	MaxRetryAttempts int
	RetryBaseDelay   time.Duration
	MaxRetryDelay    time.Duration
}

// DefaultRetryPolicy is a modest base delay, a 30s cap, and three attempts
// beyond the first.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetryAttempts: 3,
		RetryBaseDelay:   time.Second,
		MaxRetryDelay:    30 * time.Second,
	}
}

// newBackoff builds a cenkalti/backoff ExponentialBackOff configured to the
// policy's base/cap, with no jitter (RandomizationFactor 0) so that
// attempt-for-attempt timing is deterministic and testable, and no overall
// elapsed-time cutoff (the engine's own MaxRetryAttempts bounds attempts).
func (p RetryPolicy) newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.RetryBaseDelay
	b.MaxInterval = p.MaxRetryDelay
	b.Multiplier = 2.0
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// shouldRetry gates a retry on: a Failure with ShouldRetry=true, the step's
// own CanRetry(), and attemptsSoFar < MaxRetryAttempts.
func (p RetryPolicy) shouldRetry(outcome StepOutcome, canRetry bool, attemptsSoFar int) bool {
	if !outcome.IsFailure() {
		return false
	}
	if !outcome.ShouldRetry() || !canRetry {
		return false
	}
	return attemptsSoFar < p.MaxRetryAttempts
}

// wait blocks for the next backoff interval, honoring ctx cancellation. It
// returns ctx.Err() if the wait was interrupted.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
