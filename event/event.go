// Package event defines the cancellable unit of deferred work shared by
// every scheduler discipline.
package event

import "github.com/joeycumines/go-evencache/idgen"

// Canceller is the narrow interface an Event uses to route a cross-goroutine
// cancellation request back to its owning scheduler, without the event
// needing to know the scheduler's concrete type.
type Canceller interface {
	// CancelEvent is invoked by Event.Cancel on the caller's goroutine. It
	// performs the O(1) cancellation of e, either by setting the flag
	// directly or by handing that write to the scheduler's own goroutine.
	CancelEvent(e *Event)
}

// Event is a single cancellable unit of deferred work, bound to an absolute
// time in whatever units its owning scheduler's time provider uses.
//
// Event is not safe for concurrent mutation. Cancel either mutates the event
// directly (if it has no Canceller) or passes the request to its Canceller;
// the busy-loop and executor schedulers' Cancellers schedule the mutation
// onto their own goroutine, which makes Cancel safe from any goroutine there.
type Event struct {
	ID          uint64
	Time        float64
	Description string
	Action      func()
	Daemon      bool
	cancelled   bool
	canceller   Canceller
}

// New constructs an Event with a fresh id. action may be nil, in which case
// executing the event is a no-op (useful for sentinel/wakeup events).
func New(t float64, description string, action func(), daemon bool, canceller Canceller) *Event {
	return &Event{
		ID:          idgen.Events.Next(),
		Time:        t,
		Description: description,
		Action:      action,
		Daemon:      daemon,
		canceller:   canceller,
	}
}

// Cancelled reports whether the event has been cancelled. Must only be
// called from the owning scheduler's goroutine.
func (e *Event) Cancelled() bool {
	return e != nil && e.cancelled
}

// CancelDirect marks e as cancelled. Callers must be on the owning
// scheduler's goroutine; use Cancel for a goroutine-safe version.
func (e *Event) CancelDirect() {
	if e != nil {
		e.cancelled = true
	}
}

// Cancel requests cancellation of e. If canceller is nil, the cancellation
// is applied directly (the caller is asserting it already owns the
// goroutine); otherwise it is routed through Canceller.CancelEvent, which
// must itself run the mutation on the owning goroutine.
func (e *Event) Cancel() {
	if e == nil {
		return
	}
	if e.canceller == nil {
		e.cancelled = true
		return
	}
	e.canceller.CancelEvent(e)
}

// Execute runs the event's action exactly once per call, unless it has been
// cancelled; it does not itself guard against being called again.
// Cancellation racing with Execute is resolved in favour of
// cancellation: the flag is checked immediately before invoking Action.
func (e *Event) Execute() {
	if e == nil || e.cancelled || e.Action == nil {
		return
	}
	e.Action()
}

// Compare orders events by (Time asc, ID asc), the total order required by
// every queue and scheduler in this module: never a tie, FIFO for events
// sharing a timestamp.
func Compare(a, b *Event) int {
	switch {
	case a.Time < b.Time:
		return -1
	case a.Time > b.Time:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	default:
		return 0
	}
}

// Less reports whether a sorts strictly before b, per Compare.
func Less(a, b *Event) bool {
	return Compare(a, b) < 0
}
