package queue

import (
	"container/heap"
	"sync"

	"github.com/joeycumines/go-evencache/event"
)

// eventHeap is a container/heap.Interface min-heap of *event.Event, ordered
// by event.Compare.
type eventHeap []*event.Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return event.Less(h[i], h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)         { *h = append(*h, x.(*event.Event)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// scheduledQueue is a mutex-guarded min-heap used by the Ring and Switching
// variants for the "do-at" side, with tombstone-based removal (a removed event stays
// in the heap until it is popped, then silently discarded).
type scheduledQueue struct {
	mu        sync.Mutex
	heap      eventHeap
	tombstone map[*event.Event]struct{}
}

func newScheduledQueue() *scheduledQueue {
	return &scheduledQueue{tombstone: make(map[*event.Event]struct{})}
}

func (s *scheduledQueue) Add(e *event.Event) {
	s.mu.Lock()
	heap.Push(&s.heap, e)
	s.mu.Unlock()
}

func (s *scheduledQueue) Remove(e *event.Event) {
	s.mu.Lock()
	s.tombstone[e] = struct{}{}
	s.mu.Unlock()
}

// PollNext returns the earliest non-tombstoned event with Time <= now, or
// nil if there is none ready yet.
func (s *scheduledQueue) PollNext(now float64) *event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.heap.Len() > 0 {
		if s.heap[0].Time > now {
			return nil
		}
		e := heap.Pop(&s.heap).(*event.Event)
		if _, dead := s.tombstone[e]; dead {
			delete(s.tombstone, e)
			continue
		}
		return e
	}
	return nil
}

func (s *scheduledQueue) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len() - len(s.tombstone)
}

// HasOnlyDaemons reports whether every live (non-tombstoned) entry is a
// daemon event.
func (s *scheduledQueue) HasOnlyDaemons() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.heap {
		if _, dead := s.tombstone[e]; dead {
			continue
		}
		if !e.Daemon {
			return false
		}
	}
	return true
}
