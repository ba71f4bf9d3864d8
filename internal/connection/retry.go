package connection

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy is the outbound send policy: Attempts tries in total, the
// first retry after InitialDelay, each later one Multiplier times longer.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

var DefaultRetryPolicy = RetryPolicy{
	Attempts:     3,
	InitialDelay: 500 * time.Millisecond,
	Multiplier:   2,
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialDelay,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         time.Hour,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()

	retries := p.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

// retry runs op under the policy. Errors wrapped with backoff.Permanent stop
// the loop at once and are returned unwrapped.
func retry(ctx context.Context, p RetryPolicy, timer backoff.Timer, op backoff.Operation, notify backoff.Notify) error {
	return backoff.RetryNotifyWithTimer(op, p.backOff(ctx), notify, timer)
}
