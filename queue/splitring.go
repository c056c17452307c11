package queue

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/joeycumines/go-evencache/event"
)

// ringCore is the bare MPSC ring mechanics shared by Ring and SplitRing,
// without any scheduled-event heap attached.
type ringCore struct {
	buffer [ringBufferSize]*event.Event
	valid  [ringBufferSize]atomic.Bool
	seq    [ringBufferSize]atomic.Uint64
	head   atomic.Uint64
	tail   atomic.Uint64

	overflowMu   sync.Mutex
	overflow     []*event.Event
	overflowHead int
}

func newRingCore() *ringCore {
	c := &ringCore{}
	for i := range c.seq {
		c.seq[i].Store(ringSeqSkip)
	}
	return c
}

func (c *ringCore) push(e *event.Event) {
	c.overflowMu.Lock()
	if len(c.overflow)-c.overflowHead > 0 {
		c.overflow = append(c.overflow, e)
		c.overflowMu.Unlock()
		return
	}
	c.overflowMu.Unlock()

	for {
		tail := c.tail.Load()
		head := c.head.Load()
		if tail-head >= ringBufferSize {
			break
		}
		if c.tail.CompareAndSwap(tail, tail+1) {
			idx := tail % ringBufferSize
			c.buffer[idx] = e
			c.valid[idx].Store(true)
			c.seq[idx].Store(tail + 1)
			return
		}
	}

	c.overflowMu.Lock()
	if c.overflow == nil {
		c.overflow = make([]*event.Event, 0, ringOverflowInitCap)
	}
	c.overflow = append(c.overflow, e)
	c.overflowMu.Unlock()
}

func (c *ringCore) pop(skip func(*event.Event) bool) *event.Event {
	head := c.head.Load()
	tail := c.tail.Load()

	for head < tail {
		idx := head % ringBufferSize
		seq := c.seq[idx].Load()
		if seq == ringSeqSkip || !c.valid[idx].Load() {
			runtime.Gosched()
			head = c.head.Load()
			tail = c.tail.Load()
			continue
		}
		e := c.buffer[idx]
		c.buffer[idx] = nil
		c.valid[idx].Store(false)
		c.seq[idx].Store(ringSeqSkip)
		c.head.Add(1)
		if skip(e) {
			head = c.head.Load()
			tail = c.tail.Load()
			continue
		}
		return e
	}

	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()
	for c.overflowHead < len(c.overflow) {
		e := c.overflow[c.overflowHead]
		c.overflow[c.overflowHead] = nil
		c.overflowHead++
		if c.overflowHead > len(c.overflow)/2 && c.overflowHead > 64 {
			copy(c.overflow, c.overflow[c.overflowHead:])
			c.overflow = c.overflow[:len(c.overflow)-c.overflowHead]
			c.overflowHead = 0
		}
		if skip(e) {
			continue
		}
		return e
	}
	return nil
}

func (c *ringCore) isEmpty() bool {
	head := c.head.Load()
	tail := c.tail.Load()
	if tail > head {
		return false
	}
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()
	return len(c.overflow)-c.overflowHead <= 0
}

func (c *ringCore) size() int {
	head := c.head.Load()
	tail := c.tail.Load()
	n := 0
	if tail > head {
		n = int(tail - head)
	}
	c.overflowMu.Lock()
	n += len(c.overflow) - c.overflowHead
	c.overflowMu.Unlock()
	return n
}

func (c *ringCore) allDaemon() bool {
	head := c.head.Load()
	tail := c.tail.Load()
	for i := head; i < tail; i++ {
		if e := c.buffer[i%ringBufferSize]; e != nil && !e.Daemon {
			return false
		}
	}
	c.overflowMu.Lock()
	defer c.overflowMu.Unlock()
	for _, e := range c.overflow[c.overflowHead:] {
		if e != nil && !e.Daemon {
			return false
		}
	}
	return true
}

// SplitRing is the lowest-latency variant: two fully independent lock-free
// ring buffers, one for "now" events and one for scheduled events, each
// with its own overflow — unlike Ring, which backs "now" with a ring but
// "scheduled" with a mutex-guarded min-heap. Consumption always prefers the
// now ring.
//
// A plain ring is FIFO, not priority-ordered, so the scheduled ring can only
// guarantee the strict (time, id) ordering invariant for producers that
// submit scheduled events in non-decreasing time order (true of the common
// case: a component re-scheduling itself relative to the advancing clock).
// PollNextScheduled peeks the ring's head (caching it across calls that
// find it not yet due, so it isn't repeatedly popped and re-queued) and
// returns it once due; an out-of-order submission behind it waits until the
// head clears, trading strict global ordering for avoiding a heap on the
// hot path. Pick Ring instead when submissions may arrive out of time
// order and the ordering invariant must hold unconditionally.
type SplitRing struct {
	now       *ringCore
	scheduled *ringCore

	peekedMu sync.Mutex
	peeked   *event.Event
	peekedOK bool

	mu      sync.Mutex
	removed map[*event.Event]struct{}
}

var _ Queue = (*SplitRing)(nil)

// NewSplitRing constructs a SplitRing queue.
func NewSplitRing() *SplitRing {
	return &SplitRing{
		now:       newRingCore(),
		scheduled: newRingCore(),
		removed:   make(map[*event.Event]struct{}),
	}
}

func (s *SplitRing) AddNow(e *event.Event) {
	s.now.push(e)
}

func (s *SplitRing) AddScheduled(e *event.Event) {
	s.scheduled.push(e)
}

func (s *SplitRing) Remove(e *event.Event) {
	s.mu.Lock()
	s.removed[e] = struct{}{}
	s.mu.Unlock()
}

func (s *SplitRing) isRemoved(e *event.Event) bool {
	s.mu.Lock()
	_, dead := s.removed[e]
	if dead {
		delete(s.removed, e)
	}
	s.mu.Unlock()
	return dead
}

func (s *SplitRing) PollNextNow() *event.Event {
	return s.now.pop(s.isRemoved)
}

func (s *SplitRing) PollNextScheduled(now float64) *event.Event {
	s.peekedMu.Lock()
	defer s.peekedMu.Unlock()

	for {
		if !s.peekedOK {
			e := s.scheduled.pop(s.isRemoved)
			if e == nil {
				return nil
			}
			s.peeked, s.peekedOK = e, true
		}
		if s.peeked.Time > now {
			return nil
		}
		e := s.peeked
		s.peeked, s.peekedOK = nil, false
		if s.isRemoved(e) {
			continue
		}
		return e
	}
}

func (s *SplitRing) PollNext(now float64) *event.Event {
	if e := s.PollNextNow(); e != nil {
		return e
	}
	return s.PollNextScheduled(now)
}

func (s *SplitRing) IsEmptyNow() bool {
	return s.now.isEmpty()
}

func (s *SplitRing) HasOnlyDaemons() bool {
	s.peekedMu.Lock()
	peekedOK, peeked := s.peekedOK, s.peeked
	s.peekedMu.Unlock()
	if peekedOK && !peeked.Daemon {
		return false
	}
	return s.now.allDaemon() && s.scheduled.allDaemon()
}

func (s *SplitRing) Size() int {
	s.peekedMu.Lock()
	extra := 0
	if s.peekedOK {
		extra = 1
	}
	s.peekedMu.Unlock()
	return s.now.size() + s.scheduled.size() + extra
}
