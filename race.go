package auth

import (
	"context"
	"time"
)

type raceResult[T any] struct {
	value T
	err   error
}

// raceDeadline runs fetch against a timer. The first to finish decides the
// outcome. When the timer wins, fetch's context is cancelled and its late
// result is dropped. A non positive d disables the deadline.
func raceDeadline[T any](ctx context.Context, d time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fetch(ctx)
	}

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so the losing fetch can always complete its send
	done := make(chan raceResult[T], 1)
	go func() {
		v, err := fetch(fetchCtx)
		done <- raceResult[T]{value: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.value, r.err
	case <-timer.C:
		return zero, ErrSessionTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
