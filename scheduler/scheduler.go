package scheduler

import "github.com/joeycumines/go-evencache/event"

// Scheduler is the contract shared by every scheduler discipline: submit,
// time, cancel and tear down events.
type Scheduler interface {
	// DoNow schedules action to run as soon as possible, returning its Event.
	DoNow(description string, action func()) *event.Event
	// DoAt schedules action to run at the given time, returning its Event or
	// a ConfigurationError if t is in the past under strict ordering.
	DoAt(t float64, description string, action func()) (*event.Event, error)
	// DoIn schedules action to run after delay, measured in the same units
	// as the scheduler's time provider.
	DoIn(delay float64, description string, action func()) (*event.Event, error)
	// Cancel cancels e. Safe to call from any goroutine; safe to call twice.
	Cancel(e *event.Event)
	// Now returns the scheduler's current time.
	Now() float64
	// Stop tears the scheduler down. Safe to call more than once.
	Stop()
}

// Metrics holds cheap opt-in counters; all zero unless enabled via the
// owning scheduler's WithMetrics option. No scheduler in this module
// updates QueueDepthAtLastPoll, so it always reads zero.
type Metrics struct {
	EventsExecuted       uint64
	EventsCancelled      uint64
	EventsFailed         uint64
	QueueDepthAtLastPoll uint64
}
