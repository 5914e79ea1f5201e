// Package taskrunner supervises long-running background tasks with
// panic recovery and exponential backoff: a panic is caught at the
// task boundary, logged with the task name, and the task is restarted
// with exponential backoff (1, 2, 4, 8, 16 s, capped). Grounded on the
// teacher's
// internal/connwatch.Watcher (backoff-then-poll shape) and
// internal/mqtt/publisher.go's OnConnectError retry loop, generalized
// from "reconnect a single external dependency" to "keep any
// long-running function alive".
package taskrunner

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Backoff is the restart delay schedule: 1, 2, 4, 8, 16 s, capped.
var Backoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
}

// Task is a supervised function. It should run until ctx is
// cancelled, returning nil in that case. Any other return (including
// a panic, which Run recovers) is treated as a failure and triggers a
// restart.
type Task func(ctx context.Context) error

// Run supervises fn under name until ctx is cancelled: on panic or
// error return, it logs and restarts fn after the next Backoff delay,
// repeating the last delay once the schedule is exhausted. Run itself
// blocks until ctx is cancelled or fn returns nil.
func Run(ctx context.Context, logger *slog.Logger, name string, fn Task) {
	attempt := 0
	for {
		err := callRecovered(ctx, fn)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		logger.Error("background task failed, restarting", "task", name, "error", err, "attempt", attempt+1)

		delay := Backoff[len(Backoff)-1]
		if attempt < len(Backoff) {
			delay = Backoff[attempt]
		}
		attempt++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// callRecovered invokes fn, converting a panic into an error so the
// supervising loop in Run can treat both uniformly.
func callRecovered(ctx context.Context, fn Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
