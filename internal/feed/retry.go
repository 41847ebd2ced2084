package feed

import (
	"context"
	"math/rand"
	"time"
)

// Policy is a bounded exponential backoff with jitter. All fields must be
// set; a zero MaxAttempts never runs the attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Do runs attempt up to MaxAttempts times, sleeping between failures. It
// returns nil on the first success, the last error once attempts are
// exhausted, or the context error if cancelled while waiting.
func (p Policy) Do(ctx context.Context, attempt func(context.Context) error) error {
	var lastErr error
	delay := p.BaseDelay

	for i := 0; i < p.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}

		if i == p.MaxAttempts-1 {
			break
		}

		// Full jitter on the current exponential step.
		sleep := time.Duration(rand.Int63n(int64(delay) + 1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return lastErr
}
