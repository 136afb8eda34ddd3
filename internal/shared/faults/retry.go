package faults

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultAttempts  = 3
	defaultBaseDelay = 300 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
)

// Budget bounds how many times a transient failure is retried.
type Budget struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration

	// OnRetry is called before each sleep; attempt counts from 1.
	OnRetry func(attempt int, err error)
}

// DefaultBudget returns three attempts with exponential delay starting at 300ms.
func DefaultBudget() Budget {
	return Budget{Attempts: defaultAttempts, BaseDelay: defaultBaseDelay, MaxDelay: defaultMaxDelay}
}

func (b Budget) normalized() Budget {
	if b.Attempts <= 0 {
		b.Attempts = 1
	}
	if b.BaseDelay < 0 {
		b.BaseDelay = 0
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = defaultMaxDelay
	}
	return b
}

// Retry runs fn until it succeeds, fails with a non-transient error, or the
// budget is spent. The last error is returned; once the budget is exhausted a
// transient error stays transient so callers can still tell it apart.
func Retry(ctx context.Context, budget Budget, fn func(ctx context.Context) error) error {
	b := budget.normalized()
	delay := b.BaseDelay

	var err error
	for attempt := 1; attempt <= b.Attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if err != nil {
				return err
			}
			return ctxErr
		}
		err = fn(ctx)
		if err == nil || !IsRetryable(err) || attempt == b.Attempts {
			return err
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err)
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return err
			case <-t.C:
			}
		}
		delay *= 2
		if delay > b.MaxDelay {
			delay = b.MaxDelay
		}
	}
	return err
}

// WithTimeout bounds a single external call. A deadline hit by this timeout is
// reported as a transient error tagged with op.
func WithTimeout(ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return Transient(op, fmt.Errorf("%w: %v", context.DeadlineExceeded, err))
	}
	var fe *Error
	if errors.As(err, &fe) {
		return err
	}
	if looksTransient(err) {
		return Transient(op, err)
	}
	return err
}
