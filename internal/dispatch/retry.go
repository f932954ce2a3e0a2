package dispatch

import "time"

type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 2 * time.Second, MaxDelay: time.Minute}
}

// CanRetry reports whether a message that has already been retried
// retryCount times may be tried again.
func (p RetryPolicy) CanRetry(retryCount int) bool { return retryCount < p.MaxRetries }

func (p RetryPolicy) Delay(retryCount int) time.Duration {
	return Backoff(p.BaseDelay, p.MaxDelay, retryCount)
}

// Backoff returns base*2^n, capped at ceiling when ceiling > 0.
func Backoff(base, ceiling time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < n; i++ {
		if ceiling > 0 && d >= ceiling {
			return ceiling
		}
		d *= 2
	}
	if ceiling > 0 && d > ceiling {
		return ceiling
	}
	return d
}
