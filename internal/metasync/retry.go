package metasync

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
)

// retryPolicy retries transient provider failures with jittered
// exponential backoff. Attempts are bounded; the last error wins.
type retryPolicy struct {
	baseDelay time.Duration
	attempts  int
}

func newRetryPolicy(baseDelay time.Duration, attempts int) retryPolicy {
	if attempts < 1 {
		attempts = 1
	}
	return retryPolicy{baseDelay: baseDelay, attempts: attempts}
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	b := &backoff.Backoff{
		Min:    p.baseDelay,
		Max:    p.baseDelay * 8,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == p.attempts-1 {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
