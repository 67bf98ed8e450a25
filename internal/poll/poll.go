// Package poll implements the long-poll fallback for clients without a push channel.
package poll

import (
	"context"
	"errors"
	"time"
)

// Counter counts messages with an id greater than afterID
type Counter interface {
	CountNewerThan(ctx context.Context, afterID int64) (int, error)
}

// Result is returned when a wait finishes without error
type Result struct {
	HasNew bool `json:"hasNewMessages"`
	Count  int  `json:"newMessageCount"`
}

// Waiter re-checks the store every Interval until something newer appears
type Waiter struct {
	store    Counter
	interval time.Duration
	max      time.Duration
}

// NewWaiter creates a waiter. max bounds every timeout passed to Wait.
func NewWaiter(store Counter, interval, max time.Duration) *Waiter {
	if interval <= 0 {
		interval = time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	return &Waiter{store: store, interval: interval, max: max}
}

// Clamp bounds timeout to (0, max]. Non-positive values become def.
func (w *Waiter) Clamp(timeout, def time.Duration) time.Duration {
	if timeout <= 0 {
		timeout = def
	}
	if timeout > w.max {
		timeout = w.max
	}
	return timeout
}

// Wait blocks until a message newer than afterID exists, timeout elapses, or ctx is done.
// A timeout is not an error. Context cancellation returns ctx.Err().
func (w *Waiter) Wait(ctx context.Context, afterID int64, timeout time.Duration) (Result, error) {
	if timeout > w.max {
		timeout = w.max
	}
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		n, err := w.store.CountNewerThan(ctx, afterID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Result{}, ctxErr
			}
			return Result{}, err
		}
		if n > 0 {
			return Result{HasNew: true, Count: n}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Result{}, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{}, ctx.Err()
		case <-timer.C:
			return Result{}, nil
		case <-ticker.C:
			timer.Stop()
		}
	}
}

// IsCancelled reports whether err came from the caller going away
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
