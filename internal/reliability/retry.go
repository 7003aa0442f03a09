package reliability

import (
	"context"
	"time"
)

// RetryPolicy bounds how often and how slowly an operation is retried.
type RetryPolicy struct {
	MaxRetries int
	Base       time.Duration
	Cap        time.Duration
}

// Delay is the wait before retry number attempt (zero based): Base doubled
// per attempt, never above Cap.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for ; attempt > 0 && d < p.Cap; attempt-- {
		d *= 2
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// Retry calls fn until it succeeds, retryable reports false, the retries are
// exhausted, or ctx ends. The last error from fn is returned.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, fn func(context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn(ctx)
		if err == nil || retryable == nil || !retryable(err) || attempt >= p.MaxRetries {
			return err
		}
		t := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
}
