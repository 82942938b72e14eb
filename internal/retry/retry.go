// Package retry holds the bounded, fixed-delay retry state shared by price
// sources and the settlement worker.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy bounds a retry loop. MaxAttempts counts retries after the first try;
// zero means the first failure is final.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Budget tracks how many retries remain under a Policy. It is not safe for
// concurrent use; each connection or worker owns its own Budget.
type Budget struct {
	policy  Policy
	attempt int
}

// NewBudget returns a fresh budget for p.
func NewBudget(p Policy) *Budget {
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return &Budget{policy: p}
}

// Next consumes one retry and reports the delay to wait before it. ok is
// false once the budget is exhausted.
func (b *Budget) Next() (delay time.Duration, ok bool) {
	if b.attempt >= b.policy.MaxAttempts {
		return 0, false
	}
	b.attempt++
	return b.policy.Delay, true
}

// Reset restores the full budget after a success.
func (b *Budget) Reset() {
	b.attempt = 0
}

// Attempt returns the number of retries consumed so far.
func (b *Budget) Attempt() int {
	return b.attempt
}

// Exhausted reports whether no retries remain.
func (b *Budget) Exhausted() bool {
	return b.attempt >= b.policy.MaxAttempts
}

// Wait consumes one retry and sleeps for its delay. It returns false when the
// budget is exhausted or ctx is done first.
func (b *Budget) Wait(ctx context.Context) bool {
	delay, ok := b.Next()
	if !ok {
		return false
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// permanentError marks an error that no retry can fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it at once instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do runs fn until it succeeds, the budget runs out or ctx is done. onRetry,
// if non-nil, is called before each retry with the retry number and the error
// that caused it. The last error is returned on failure.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	b := NewBudget(p)
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		if b.Exhausted() {
			return err
		}
		if onRetry != nil {
			onRetry(b.Attempt()+1, err)
		}
		if !b.Wait(ctx) {
			return err
		}
	}
}
