package queue

import (
	"sync"

	"github.com/joeycumines/go-evencache/event"
)

// Switching is the default busy-loop queue variant: very low contention for
// up to roughly ten million events. "Now" events go through a two-buffer
// FIFO — producers append under a mutex to external; when the consumer's
// internal buffer drains, the two slices are swapped (a single pointer
// exchange under the same mutex) rather than copied element by element.
// Scheduled events use a separate mutex-guarded min-heap.
type Switching struct {
	mu       sync.Mutex
	external []*event.Event
	internal []*event.Event
	internalIdx int

	removed map[*event.Event]struct{}

	scheduled *scheduledQueue
}

var _ Queue = (*Switching)(nil)

// NewSwitching constructs a Switching queue.
func NewSwitching() *Switching {
	return &Switching{
		removed:   make(map[*event.Event]struct{}),
		scheduled: newScheduledQueue(),
	}
}

func (s *Switching) AddNow(e *event.Event) {
	s.mu.Lock()
	s.external = append(s.external, e)
	s.mu.Unlock()
}

func (s *Switching) AddScheduled(e *event.Event) {
	s.scheduled.Add(e)
}

func (s *Switching) Remove(e *event.Event) {
	s.mu.Lock()
	s.removed[e] = struct{}{}
	s.mu.Unlock()
	s.scheduled.Remove(e)
}

// swapLocked moves external into internal (swap, not copy) if internal has
// been fully drained. Caller holds s.mu.
func (s *Switching) swapLocked() {
	if s.internalIdx >= len(s.internal) && len(s.external) > 0 {
		s.internal, s.external = s.external, s.internal[:0]
		s.internalIdx = 0
	}
}

func (s *Switching) PollNextNow() *event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		s.swapLocked()
		if s.internalIdx >= len(s.internal) {
			return nil
		}
		e := s.internal[s.internalIdx]
		s.internal[s.internalIdx] = nil
		s.internalIdx++
		if _, dead := s.removed[e]; dead {
			delete(s.removed, e)
			continue
		}
		return e
	}
}

func (s *Switching) PollNextScheduled(now float64) *event.Event {
	return s.scheduled.PollNext(now)
}

func (s *Switching) PollNext(now float64) *event.Event {
	if e := s.PollNextNow(); e != nil {
		return e
	}
	return s.PollNextScheduled(now)
}

func (s *Switching) IsEmptyNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.internalIdx >= len(s.internal) && len(s.external) == 0
}

func (s *Switching) HasOnlyDaemons() bool {
	s.mu.Lock()
	allDaemon := true
	check := func(e *event.Event) bool {
		if e == nil {
			return true
		}
		if _, dead := s.removed[e]; dead {
			return true
		}
		return e.Daemon
	}
	for _, e := range s.internal[s.internalIdx:] {
		if !check(e) {
			allDaemon = false
			break
		}
	}
	if allDaemon {
		for _, e := range s.external {
			if !check(e) {
				allDaemon = false
				break
			}
		}
	}
	s.mu.Unlock()
	return allDaemon && s.scheduled.HasOnlyDaemons()
}

func (s *Switching) Size() int {
	s.mu.Lock()
	n := (len(s.internal) - s.internalIdx) + len(s.external) - len(s.removed)
	s.mu.Unlock()
	if n < 0 {
		n = 0
	}
	return n + s.scheduled.Size()
}
