// Package retrier wraps external calls with bounded retries and exponential
// backoff with jitter. Only errors classified as transient are retried;
// exhausting all attempts yields an EscalatedError carrying a generated
// request id for correlation.
package retrier

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

const (
	defaultBaseDelay   = 1 * time.Second
	defaultMaxDelay    = 30 * time.Second
	defaultMaxAttempts = 3
)

// TransientError marks an error as retryable (timeout, 5xx, rate limit).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err so the retrier will retry it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err is classified as retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// EscalatedError is returned once all attempts are exhausted. It carries a
// generated request id surfaced in alerts and audit entries.
type EscalatedError struct {
	RequestID string
	Attempts  int
	Err       error
}

func (e *EscalatedError) Error() string {
	return fmt.Sprintf("escalated after %d attempts (request %s): %v", e.Attempts, e.RequestID, e.Err)
}

func (e *EscalatedError) Unwrap() error { return e.Err }

// AsEscalated extracts an EscalatedError from err, if any.
func AsEscalated(err error) (*EscalatedError, bool) {
	var ee *EscalatedError
	ok := errors.As(err, &ee)
	return ee, ok
}

// Retrier executes operations with bounded retries.
type Retrier struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
}

// Option configures the Retrier.
type Option func(*Retrier)

// WithBaseDelay sets the delay before the second attempt.
func WithBaseDelay(d time.Duration) Option {
	return func(r *Retrier) {
		r.baseDelay = d
	}
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxDelay = d
	}
}

// WithMaxAttempts sets the total number of attempts, first one included.
func WithMaxAttempts(n int) Option {
	return func(r *Retrier) {
		r.maxAttempts = n
	}
}

// New creates a Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		maxAttempts: defaultMaxAttempts,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Do executes fn until it succeeds, returns a non-transient error, or the
// attempt budget is exhausted. The first attempt is immediate; attempt n
// waits baseDelay*2^(n-1) with jitter, capped at maxDelay. A non-transient
// error is returned as is without further attempts. Exhaustion returns a
// single EscalatedError wrapping the last transient error.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delays := &backoff.Backoff{
		Min:    r.baseDelay,
		Max:    r.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delays.Duration()):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
	}

	return &EscalatedError{
		RequestID: uuid.NewString()[:8],
		Attempts:  r.maxAttempts,
		Err:       err,
	}
}

// DoWithData executes fn with retries and returns a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
