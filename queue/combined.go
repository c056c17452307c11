package queue

import (
	"container/heap"
	"sync"

	"github.com/joeycumines/go-evencache/event"
)

// combinedEntry pairs an event with whether it was submitted via AddNow,
// so now events always sort ahead of scheduled ones regardless of Time.
type combinedEntry struct {
	e   *event.Event
	now bool
}

type combinedHeap []combinedEntry

func (h combinedHeap) Len() int { return len(h) }

func (h combinedHeap) Less(i, j int) bool {
	if h[i].now != h[j].now {
		return h[i].now
	}
	return event.Less(h[i].e, h[j].e)
}

func (h combinedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *combinedHeap) Push(x any) { *h = append(*h, x.(combinedEntry)) }

func (h *combinedHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

// Combined is the lowest-throughput, simplest variant: a single mutex
// guards one heap ordered on (now-flag, time, id) so that every pending
// "now" event sorts ahead of every scheduled event. Suitable for debugging
// and low-volume use.
type Combined struct {
	mu   sync.Mutex
	heap combinedHeap
}

var _ Queue = (*Combined)(nil)

// NewCombined constructs a Combined queue.
func NewCombined() *Combined {
	return &Combined{}
}

func (c *Combined) AddNow(e *event.Event) {
	c.mu.Lock()
	heap.Push(&c.heap, combinedEntry{e: e, now: true})
	c.mu.Unlock()
}

func (c *Combined) AddScheduled(e *event.Event) {
	c.mu.Lock()
	heap.Push(&c.heap, combinedEntry{e: e})
	c.mu.Unlock()
}

func (c *Combined) Remove(e *event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, x := range c.heap {
		if x.e == e {
			heap.Remove(&c.heap, i)
			return
		}
	}
}

// PollNextNow pops the next "now" event, or nil if none is pending.
func (c *Combined) PollNextNow() *event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.heap.Len() == 0 || !c.heap[0].now {
		return nil
	}
	return heap.Pop(&c.heap).(combinedEntry).e
}

// PollNextScheduled pops the earliest scheduled event with Time <= now,
// ignoring any pending "now" events. The heap's partial order only
// guarantees the global minimum is at the root, so finding the minimum
// among scheduled-only entries requires a linear scan; acceptable for this,
// the simplest and lowest-throughput variant.
func (c *Combined) PollNextScheduled(now float64) *event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	best := -1
	for i, x := range c.heap {
		if x.now {
			continue
		}
		if best == -1 || event.Less(x.e, c.heap[best].e) {
			best = i
		}
	}
	if best == -1 || c.heap[best].e.Time > now {
		return nil
	}
	return heap.Remove(&c.heap, best).(combinedEntry).e
}

func (c *Combined) PollNext(now float64) *event.Event {
	c.mu.Lock()
	if c.heap.Len() > 0 && c.heap[0].now {
		e := heap.Pop(&c.heap).(combinedEntry).e
		c.mu.Unlock()
		return e
	}
	if c.heap.Len() > 0 && c.heap[0].e.Time <= now {
		e := heap.Pop(&c.heap).(combinedEntry).e
		c.mu.Unlock()
		return e
	}
	c.mu.Unlock()
	return nil
}

func (c *Combined) IsEmptyNow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heap.Len() == 0 || !c.heap[0].now
}

func (c *Combined) HasOnlyDaemons() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, x := range c.heap {
		if !x.e.Daemon {
			return false
		}
	}
	return true
}

func (c *Combined) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heap.Len()
}
