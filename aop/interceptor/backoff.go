package interceptor

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrBackOffStopped is returned when a schedule has no wait left for an
// attempt.
var ErrBackOffStopped = errors.New("back-off schedule stopped")

// BackOff pauses between retry attempts. It returns the context's error
// when ctx is done first.
type BackOff interface {
	BackOff(ctx context.Context, attempt int) error
}

// BackOffFunc adapts a function to BackOff.
type BackOffFunc func(ctx context.Context, attempt int) error

func (f BackOffFunc) BackOff(ctx context.Context, attempt int) error { return f(ctx, attempt) }

// Schedule waits the interval a backoff.BackOff yields for the attempt.
// newBackOff is called once per wait and must return a fresh schedule; its
// first interval follows attempt 1. A schedule that stops yields
// ErrBackOffStopped.
func Schedule(newBackOff func() backoff.BackOff) BackOff {
	return BackOffFunc(func(ctx context.Context, attempt int) error {
		b := backoff.WithContext(newBackOff(), ctx)
		wait := b.NextBackOff()
		for i := 1; i < attempt && wait != backoff.Stop; i++ {
			wait = b.NextBackOff()
		}
		if wait == backoff.Stop {
			if err := ctx.Err(); err != nil {
				return err
			}
			return ErrBackOffStopped
		}
		return sleep(ctx, wait)
	})
}

// NoBackOff retries immediately.
func NoBackOff() BackOff {
	return Schedule(func() backoff.BackOff { return &backoff.ZeroBackOff{} })
}

// FixedBackOff waits d between attempts.
func FixedBackOff(d time.Duration) BackOff {
	return Schedule(func() backoff.BackOff { return backoff.NewConstantBackOff(d) })
}

// ExponentialBackOff waits initial after the first attempt and multiplies
// the wait by multiplier after every further one, never exceeding maxWait
// when it is positive. A multiplier below 1 is treated as 1.
func ExponentialBackOff(initial time.Duration, multiplier float64, maxWait time.Duration) BackOff {
	if multiplier < 1 {
		multiplier = 1
	}
	if maxWait <= 0 {
		maxWait = time.Duration(math.MaxInt64)
	}
	return Schedule(func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.Multiplier = multiplier
		b.MaxInterval = maxWait
		b.RandomizationFactor = 0
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	})
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
