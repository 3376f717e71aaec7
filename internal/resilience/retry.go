package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryPolicy struct {
	// MaxAttempts counts the first call; values below 1 mean a single attempt.
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// permanent is implemented by errors that must not be retried, such as a
// 4xx answer from the oracle.
type permanent interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p permanent
	return errors.As(err, &p) && p.Permanent()
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		eb.Multiplier = p.Multiplier
	}
	eb.RandomizationFactor = p.RandomizationFactor
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Do runs op until it succeeds, returns a permanent error, the attempts are
// used up or ctx is done. notify, if set, is called before every wait.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error, notify func(attempt int, err error, wait time.Duration)) error {
	attempt := 0
	var last error

	err := backoff.RetryNotify(func() error {
		attempt++
		err := op(ctx)
		if err != nil {
			last = err
			if isPermanent(err) {
				return backoff.Permanent(err)
			}
		}
		return err
	}, p.newBackOff(ctx), func(err error, wait time.Duration) {
		if notify != nil {
			notify(attempt, err, wait)
		}
	})

	// keep the cause visible when the context cut retries short
	if err != nil && last != nil && !errors.Is(err, last) {
		return errors.Join(err, last)
	}
	return err
}
