// Package serviceloop provides the external driver named in spec.md §4.4:
// ConnectionSession and Manager perform no I/O and no internal scheduling of
// their own, so something outside must call Service(now) until a pass
// reports no work, then wait for the next reason to look again. The
// wake/signal shape is grounded on mcp/streamable.go's 1-buffered
// per-stream signal channel.
package serviceloop

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Serviceable is anything with the manager/ConnectionSession-shaped
// Service(now) contract (spec.md §4.1, §4.2): run one maintenance pass,
// report how much work was done.
type Serviceable interface {
	Service(now time.Time) int
}

// Loop repeatedly drives a Serviceable: Service(now) is called until a pass
// returns zero, then the loop sleeps until either Wake is called or
// MaxIdle elapses, whichever comes first (spec.md §4.4 "externally driven
// scheduler").
type Loop struct {
	target  Serviceable
	maxIdle time.Duration

	// limiter coalesces a burst of Wake calls (e.g. several inbound batches
	// arriving back to back) into one extra Service pass per window, so a
	// chatty transport can't turn every inbound buffer into its own
	// immediate re-poll.
	limiter *rate.Limiter

	wake chan struct{}
}

// New returns a Loop driving target. maxIdle bounds how long the loop will
// sleep with no Wake before polling again anyway (a backstop against a
// missed wake); wakeBurst/wakeEvery configure the rate.Limiter used to
// coalesce Wake calls.
func New(target Serviceable, maxIdle time.Duration, wakeEvery time.Duration, wakeBurst int) *Loop {
	return &Loop{
		target:  target,
		maxIdle: maxIdle,
		limiter: rate.NewLimiter(rate.Every(wakeEvery), wakeBurst),
		wake:    make(chan struct{}, 1),
	}
}

// Wake requests an extra Service pass as soon as the loop's rate limiter
// allows it. Safe to call from any goroutine, any number of times; excess
// wakes beyond the 1-buffered channel are coalesced into a single pending
// wake, same as mcp/streamable.go's per-stream signal channel.
func (l *Loop) Wake() {
	if !l.limiter.Allow() {
		return
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled. now is called instead of
// time.Now directly so tests can supply a controllable clock.
func (l *Loop) Run(ctx context.Context, now func() time.Time) {
	timer := time.NewTimer(l.maxIdle)
	defer timer.Stop()

	for {
		for l.target.Service(now()) > 0 {
			if ctx.Err() != nil {
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(l.maxIdle)

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		case <-timer.C:
		}
	}
}
