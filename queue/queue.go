// Package queue provides the thread-safe producer/consumer data structures
// behind the busy-loop scheduler, with four variants trading off contention
// profile against latency and complexity.
package queue

import "github.com/joeycumines/go-evencache/event"

// Queue is the contract shared by every variant. AddNow/AddScheduled/Remove
// are safe to call from any goroutine; the Poll* and inspection methods must
// only be called from the single consumer goroutine.
type Queue interface {
	// AddNow enqueues e to run as soon as possible, ahead of any scheduled
	// event, preserving submission order relative to other now events from
	// the same producer goroutine.
	AddNow(e *event.Event)

	// AddScheduled enqueues e to run once now >= e.Time.
	AddScheduled(e *event.Event)

	// Remove requests e be dropped from the queue. It is always safe to
	// call even if e has already been polled; implementations treat Remove
	// as best-effort and rely on event.Event's own cancelled flag as the
	// final authority.
	Remove(e *event.Event)

	// PollNextNow dequeues and returns the next now event, or nil.
	PollNextNow() *event.Event

	// PollNextScheduled dequeues and returns the earliest scheduled event
	// with Time <= now, or nil.
	PollNextScheduled(now float64) *event.Event

	// PollNext dequeues the next event to run: a pending now event if one
	// exists, otherwise the earliest scheduled event with Time <= now.
	PollNext(now float64) *event.Event

	// IsEmptyNow reports whether there are no pending now events.
	IsEmptyNow() bool

	// HasOnlyDaemons reports whether every remaining pending event (now and
	// scheduled) is a daemon event.
	HasOnlyDaemons() bool

	// Size returns a best-effort total count of pending events.
	Size() int
}
