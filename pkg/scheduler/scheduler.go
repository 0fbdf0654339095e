// Package scheduler provides a non-overlapping periodic ticker: the
// health monitor and auto-discovery background jobs must not pile up
// invocations of themselves if one tick runs longer than the
// interval (spec §5).
package scheduler

import (
	"context"
	"time"
)

// Ticker runs fn every interval until Stop is called or ctx is
// cancelled. Ticks never overlap: while fn runs, the underlying
// time.Ticker holds at most one due tick, which runs as soon as fn
// returns; further ticks due in that time are dropped.
type Ticker struct {
	stop chan struct{}
	done chan struct{}
}

// Start launches the background loop and returns immediately.
func Start(ctx context.Context, interval time.Duration, fn func(context.Context)) *Ticker {
	t := &Ticker{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// fn runs synchronously in this single goroutine, so a tick
		// that fires while fn is still executing simply waits its turn
		// on the next loop iteration rather than overlapping it.
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()

	return t
}

// Stop halts the loop and waits for any in-flight tick to finish.
func (t *Ticker) Stop() {
	close(t.stop)
	<-t.done
}
