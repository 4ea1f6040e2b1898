package retry

import (
	"context"
	"time"
)

// Policy controls how many times an operation is attempted and how long to
// wait between attempts.
type Policy struct {
	Attempts int
	// Delay before attempt n+1. Exponential doubles it per attempt.
	Delay       time.Duration
	Exponential bool
}

// Fixed retries with a constant delay between attempts.
func Fixed(attempts int, delay time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: delay}
}

// Exponential retries with a delay that doubles after every attempt.
func Exponential(attempts int, base time.Duration) Policy {
	return Policy{Attempts: attempts, Delay: base, Exponential: true}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is exhausted. retryable classifies errors; anything it
// rejects is surfaced immediately. The last error is returned after the
// final attempt.
func Do(ctx context.Context, policy Policy, retryable func(error) bool, fn func() error) error {
	delay := policy.Delay
	var err error

	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) {
			return err
		}
		if attempt >= policy.Attempts {
			return err
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if policy.Exponential {
			delay *= 2
		}
	}
}
