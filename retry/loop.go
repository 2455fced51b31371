package retry

import (
	"context"
	"errors"
	"time"
)

// AttemptFunc performs attempt n (1-based). It returns the response metadata
// when a response was received, even when err reports a bad status.
type AttemptFunc[T any] func(ctx context.Context, attempt int) (T, *ResponseInfo, error)

// Observer is notified after each decision, before any delay elapses.
type Observer func(in Input, decision Decision)

// Run executes fn until it succeeds or Decide declines another attempt.
// Attempt n+1 starts only after attempt n and its delay have completed; the
// delay timer is released on every exit path.
func Run[T any](ctx context.Context, cfg Config, method string, fn AttemptFunc[T], observers ...Observer) (T, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, response, err := fn(ctx, attempt)
		if err == nil {
			return value, nil
		}

		in := Input{Attempt: attempt, Method: method, Response: response, Err: err}
		decision := Decide(cfg, in)
		for _, observer := range observers {
			if observer != nil {
				observer(in, decision)
			}
		}
		if !decision.Retry {
			return value, err
		}
		if sleepErr := Sleep(ctx, decision.Delay); sleepErr != nil {
			return value, errors.Join(err, sleepErr)
		}
	}
}

// Sleep waits for d or until ctx is done, whichever happens first.
func Sleep(ctx context.Context, d time.Duration) error {
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
