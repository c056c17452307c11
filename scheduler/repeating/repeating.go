// Package repeating builds fixed-rate and fixed-delay recurring tasks on
// top of any scheduler.Scheduler, using nothing but its public DoAt/Now
// surface -- so it works identically against the discrete, busy-loop or
// executor disciplines.
//
// Each task is a self-rescheduling closure that checks a shared
// cancellation flag on every tick, both before running the action and
// before arming the next tick.
package repeating

import (
	"sync/atomic"

	"github.com/joeycumines/go-evencache/event"
	"github.com/joeycumines/go-evencache/scheduler"
)

// Handle lets a caller cancel a repeating task. Cancellation does not
// remove any already-scheduled tick from its scheduler's queue: the next
// tick simply re-checks Cancelled and, if true, does not run the action
// and does not reschedule further. This is safe and cheap because every
// tick already has to check the flag to decide whether to reschedule.
type Handle struct {
	cancelled atomic.Bool
}

// Cancel stops future ticks. Idempotent; safe to call from any goroutine.
func (h *Handle) Cancel() { h.cancelled.Store(true) }

// Cancelled reports whether Cancel has been called.
func (h *Handle) Cancelled() bool { return h.cancelled.Load() }

// Option configures a repeating task at scheduling time.
type Option interface{ apply(*options) }

type options struct {
	daemon     bool
	fixedDelay bool
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithDaemon marks every tick's underlying Event as a daemon event.
func WithDaemon(v bool) Option { return optionFunc(func(o *options) { o.daemon = v }) }

// WithFixedDelay selects fixed-delay recurrence (next = completionTime +
// period) instead of the default fixed-rate recurrence (next =
// scheduledTime + period).
func WithFixedDelay(v bool) Option { return optionFunc(func(o *options) { o.fixedDelay = v }) }

func resolve(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// schedulerDoAt is the narrow subset of scheduler.Scheduler this package needs,
// kept separate from the full interface so repeating tasks can be built
// against discrete.Scheduler (whose DoAt additionally enforces the
// run-state gates) without any adaptation.
type schedulerDoAt interface {
	DoAt(t float64, description string, action func()) (*event.Event, error)
	Now() float64
}

var _ schedulerDoAt = scheduler.Scheduler(nil)

// Schedule arms a repeating task: action first runs at (approximately) t0,
// then recurs every period virtual-time units, per the selected recurrence
// mode. It returns a Handle for cancellation and an error if the initial
// DoAt failed (e.g. t0 in the past under a discrete scheduler's strict
// ordering).
func Schedule(s schedulerDoAt, t0, period float64, action func(), opts ...Option) (*Handle, error) {
	o := resolve(opts)
	h := &Handle{}

	var tick func(scheduledTime float64)
	tick = func(scheduledTime float64) {
		if h.Cancelled() {
			return
		}
		action()
		if h.Cancelled() {
			return
		}
		var next float64
		if o.fixedDelay {
			next = s.Now() + period
		} else {
			next = scheduledTime + period
		}
		// Errors from the reschedule (e.g. a discrete scheduler that has
		// since moved into strict-past territory -- should not happen in
		// practice, since `next` is always >= the scheduler's current time
		// by construction) are swallowed: there is no caller left to
		// receive them once a tick is already executing, matching the
		// at-most-effort semantics of a self-rescheduling timer.
		if e, err := s.DoAt(next, "repeating", func() { tick(next) }); err == nil {
			e.Daemon = o.daemon
		}
	}

	e, err := s.DoAt(t0, "repeating", func() { tick(t0) })
	if err != nil {
		return nil, err
	}
	e.Daemon = o.daemon
	return h, nil
}
