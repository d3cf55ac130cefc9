/**
 * @description
 * Client-side polling for asynchronous results. A Policy bounds how often and
 * how many times a status is fetched; exhausting the budget yields
 * ErrPollingTimeout without touching the remote operation.
 */
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrPollingTimeout is matched by every *TimeoutError.
var ErrPollingTimeout = errors.New("polling timeout")

// Policy is the attempt budget of one polling loop.
type Policy struct {
	// Interval is the wait before the second attempt.
	Interval time.Duration
	// MaxAttempts bounds the number of fetches, including the first.
	MaxAttempts int
	// Backoff multiplies the wait after each attempt. Values <= 1 keep it constant.
	Backoff float64
	// MaxInterval caps the wait when Backoff grows it. Zero means no cap.
	MaxInterval time.Duration
}

// DefaultPolicy polls every two seconds for up to ten minutes.
func DefaultPolicy() Policy {
	return Policy{Interval: 2 * time.Second, MaxAttempts: 300, Backoff: 1}
}

func (p Policy) normalized() Policy {
	if p.Interval <= 0 {
		p.Interval = time.Second
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.Backoff < 1 {
		p.Backoff = 1
	}
	return p
}

func (p Policy) next(wait time.Duration) time.Duration {
	grown := time.Duration(float64(wait) * p.Backoff)
	if p.MaxInterval > 0 && grown > p.MaxInterval {
		return p.MaxInterval
	}
	return grown
}

// TimeoutError reports an exhausted attempt budget.
type TimeoutError struct {
	Attempts int
	// LastErr is the error of the final attempt, nil when it succeeded with a non-final result.
	LastErr error
}

func (e *TimeoutError) Error() string {
	if e.LastErr != nil {
		return fmt.Sprintf("polling timeout after %d attempts: last error: %v", e.Attempts, e.LastErr)
	}
	return fmt.Sprintf("polling timeout after %d attempts", e.Attempts)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrPollingTimeout
}

func (e *TimeoutError) Unwrap() error {
	return e.LastErr
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a fetch error that must stop polling immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Poll calls fetch until done reports a final value, the budget runs out or
// ctx ends. Fetch errors are retried at the normal cadence unless wrapped
// with Permanent. The last successfully fetched value is always returned.
func Poll[T any](ctx context.Context, policy Policy, fetch func(context.Context) (T, error), done func(T) bool) (T, error) {
	p := policy.normalized()
	var last T
	var lastErr error
	wait := p.Interval

	for attempt := 1; ; attempt++ {
		value, err := fetch(ctx)
		switch {
		case err == nil:
			last, lastErr = value, nil
			if done(value) {
				return value, nil
			}
		case ctx.Err() != nil:
			return last, ctx.Err()
		default:
			var perm *permanentError
			if errors.As(err, &perm) {
				return last, perm.err
			}
			lastErr = err
		}

		if attempt >= p.MaxAttempts {
			return last, &TimeoutError{Attempts: attempt, LastErr: lastErr}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last, ctx.Err()
		case <-timer.C:
		}
		wait = p.next(wait)
	}
}
