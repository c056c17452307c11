package queue

import (
	"sync"

	"github.com/joeycumines/go-evencache/event"
)

const (
	ringBufferSize      = 1024
	ringSeqSkip         = uint64(1) << 63
	ringOverflowInitCap = 64
)

// Ring is the maximum-throughput variant: a single lock-free
// multi-producer single-consumer ring buffer carrying "now" events, with a
// mutex-protected overflow slice absorbing bursts beyond capacity, plus a
// mutex-guarded min-heap holding scheduled events. Slots carry
// release/acquire sequence numbers plus validity flags, disambiguating
// "empty" from a legitimately-wrapped sequence number.
//
// Because a plain ring is FIFO rather than priority-ordered, scheduled
// events never enter the ring: AddScheduled pushes them straight into the
// min-heap, so PollNextScheduled returns the earliest-due entry.
type Ring struct {
	core *ringCore

	mu      sync.Mutex
	removed map[*event.Event]struct{}

	scheduled *scheduledQueue
}

var _ Queue = (*Ring)(nil)

// NewRing constructs a Ring queue.
func NewRing() *Ring {
	return &Ring{
		core:      newRingCore(),
		removed:   make(map[*event.Event]struct{}),
		scheduled: newScheduledQueue(),
	}
}

func (r *Ring) AddNow(e *event.Event) {
	r.core.push(e)
}

func (r *Ring) AddScheduled(e *event.Event) {
	r.scheduled.Add(e)
}

func (r *Ring) Remove(e *event.Event) {
	r.mu.Lock()
	r.removed[e] = struct{}{}
	r.mu.Unlock()
	r.scheduled.Remove(e)
}

func (r *Ring) isRemoved(e *event.Event) bool {
	r.mu.Lock()
	_, dead := r.removed[e]
	if dead {
		delete(r.removed, e)
	}
	r.mu.Unlock()
	return dead
}

func (r *Ring) PollNextNow() *event.Event {
	return r.core.pop(r.isRemoved)
}

func (r *Ring) PollNextScheduled(now float64) *event.Event {
	return r.scheduled.PollNext(now)
}

func (r *Ring) PollNext(now float64) *event.Event {
	if e := r.PollNextNow(); e != nil {
		return e
	}
	return r.PollNextScheduled(now)
}

func (r *Ring) IsEmptyNow() bool {
	return r.core.isEmpty()
}

func (r *Ring) HasOnlyDaemons() bool {
	return r.core.allDaemon() && r.scheduled.HasOnlyDaemons()
}

func (r *Ring) Size() int {
	return r.core.size() + r.scheduled.Size()
}
