// Package busyloop implements the realtime, dedicated-goroutine scheduler
// discipline: a consumer goroutine spins on one of the four queue.Queue
// variants, in either a simple throughput loop or a two-phase low-latency
// loop that prioritises "now" events over scheduled ones.
package busyloop

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-evencache/errs"
	"github.com/joeycumines/go-evencache/event"
	"github.com/joeycumines/go-evencache/idgen"
	"github.com/joeycumines/go-evencache/logging"
	"github.com/joeycumines/go-evencache/queue"
	"github.com/joeycumines/go-evencache/scheduler"
	"github.com/joeycumines/go-evencache/timeprovider"
)

// QueueVariant selects the underlying queue.Queue implementation.
type QueueVariant int

const (
	VariantSwitching QueueVariant = iota // default
	VariantCombined
	VariantRing
	VariantSplitRing
)

// Option configures a Scheduler at construction.
type Option interface{ apply(*options) }

type options struct {
	variant           QueueVariant
	parkDurationNanos int64
	lowLatency        bool
	heartbeat         bool
	metrics           bool
	logger            logging.Logger
	name              string
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithQueueVariant selects which queue.Queue implementation backs the
// scheduler. Defaults to VariantSwitching.
func WithQueueVariant(v QueueVariant) Option {
	return optionFunc(func(o *options) { o.variant = v })
}

// WithParkDurationNanos sets the park duration used by the low-latency
// loop's scheduled phase when no event is immediately ready. Zero means a
// true busy spin (lowest latency, highest CPU use).
func WithParkDurationNanos(n int64) Option {
	return optionFunc(func(o *options) { o.parkDurationNanos = n })
}

// WithLowLatencyLoop selects the two-phase now/scheduled loop instead of the
// simpler single-phase throughput loop.
func WithLowLatencyLoop(v bool) Option {
	return optionFunc(func(o *options) { o.lowLatency = v })
}

// WithHeartbeat enables a self-rescheduling 1-second timer that logs
// actual-vs-expected delay, for diagnosing scheduler starvation.
func WithHeartbeat(v bool) Option {
	return optionFunc(func(o *options) { o.heartbeat = v })
}

// WithMetrics enables the opt-in Metrics() counters.
func WithMetrics(v bool) Option {
	return optionFunc(func(o *options) { o.metrics = v })
}

// WithLogger installs the Logger used for failure/recovery diagnostics.
func WithLogger(l logging.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

// WithName sets the scheduler instance's diagnostic name, surfaced in log
// fields (Go goroutines have no user-assignable OS name).
func WithName(name string) Option {
	return optionFunc(func(o *options) { o.name = name })
}

func resolveOptions(opts []Option) options {
	o := options{logger: logging.Nop()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.name == "" {
		o.name = fmt.Sprintf("busyloop-%d", idgen.Schedulers.Next())
	}
	o.logger = logging.Safe(o.logger)
	return o
}

// Scheduler is the realtime busy-loop scheduler discipline: a dedicated
// consumer goroutine drains a queue.Queue as fast as possible (or, in
// low-latency mode, prioritising "now" events and parking briefly between
// scheduled-event checks).
type Scheduler struct {
	opts  options
	tp    timeprovider.UnitTimeProvider
	q     queue.Queue
	state *scheduler.AtomicState[scheduler.LoopState]

	stopCh chan struct{}
	doneCh chan struct{}
	stopOnce sync.Once

	listenerMu  sync.Mutex
	failure     []func(error)
	recoverable []func(error)
	shutdown    []func()

	metrics   scheduler.Metrics
	hasMetric bool
}

var _ scheduler.Scheduler = (*Scheduler)(nil)
var _ event.Canceller = (*Scheduler)(nil)

// New constructs and starts a Scheduler on its own dedicated goroutine.
func New(tp timeprovider.UnitTimeProvider, opts ...Option) *Scheduler {
	o := resolveOptions(opts)
	var q queue.Queue
	switch o.variant {
	case VariantCombined:
		q = queue.NewCombined()
	case VariantRing:
		q = queue.NewRing()
	case VariantSplitRing:
		q = queue.NewSplitRing()
	default:
		q = queue.NewSwitching()
	}
	s := &Scheduler{
		opts:      o,
		tp:        tp,
		q:         q,
		state:     scheduler.NewAtomicState(scheduler.LoopAwake),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		hasMetric: o.metrics,
	}
	go s.run()
	if o.heartbeat {
		s.scheduleHeartbeat()
	}
	return s
}

// Name returns the scheduler's diagnostic name.
func (s *Scheduler) Name() string { return s.opts.name }

// Metrics returns a snapshot of the opt-in counters (all zero if metrics
// were not enabled via WithMetrics).
func (s *Scheduler) Metrics() scheduler.Metrics {
	return scheduler.Metrics{
		EventsExecuted:       atomic.LoadUint64(&s.metrics.EventsExecuted),
		EventsCancelled:      atomic.LoadUint64(&s.metrics.EventsCancelled),
		EventsFailed:         atomic.LoadUint64(&s.metrics.EventsFailed),
		QueueDepthAtLastPoll: atomic.LoadUint64(&s.metrics.QueueDepthAtLastPoll),
	}
}

// DoNow schedules action to run as soon as the consumer goroutine is free.
// Safe to call from any goroutine.
func (s *Scheduler) DoNow(description string, action func()) *event.Event {
	e := event.New(s.tp.Now(), description, action, false, s)
	s.q.AddNow(e)
	return e
}

// DoAt schedules action to run once the scheduler's clock reaches t. Safe
// to call from any goroutine; never errors (there is no strict-ordering
// concept for a realtime scheduler -- a past `t` simply runs immediately).
func (s *Scheduler) DoAt(t float64, description string, action func()) (*event.Event, error) {
	e := event.New(t, description, action, false, s)
	s.q.AddScheduled(e)
	return e, nil
}

// DoIn schedules action to run after delay, in the time provider's units.
func (s *Scheduler) DoIn(delay float64, description string, action func()) (*event.Event, error) {
	return s.DoAt(s.tp.Now()+delay, description, action)
}

// Cancel cancels e. Safe to call from any goroutine, any number of times.
func (s *Scheduler) Cancel(e *event.Event) { e.Cancel() }

// CancelEvent implements event.Canceller: removes e from the queue
// (best-effort) and always enqueues a tiny "cancel me" task, whichever
// goroutine calls it, so the cancelled flag is set on the owning goroutine
// even if Remove's tombstone is missed by an in-flight Poll -- avoiding the
// non-atomic flag write racing with Execute.
func (s *Scheduler) CancelEvent(e *event.Event) {
	s.q.Remove(e)
	if s.hasMetric {
		atomic.AddUint64(&s.metrics.EventsCancelled, 1)
	}
	cancelTask := event.New(s.tp.Now(), "cancel:"+e.Description, e.CancelDirect, true, nil)
	s.q.AddNow(cancelTask)
}

// Now returns the scheduler's current time.
func (s *Scheduler) Now() float64 { return s.tp.Now() }

// AddFailureListener registers l to be called on a fatal event-action
// failure, just before the scheduler stops.
func (s *Scheduler) AddFailureListener(l func(error)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.failure = append(append([]func(error){}, s.failure...), l)
}

// AddRecoverableListener registers l to be called whenever an event action
// fails with an error classified as errs.RecoverableError.
func (s *Scheduler) AddRecoverableListener(l func(error)) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.recoverable = append(append([]func(error){}, s.recoverable...), l)
}

// AddShutdownHook registers h to run once, during a Stop triggered by a
// fatal failure or an explicit Stop call.
func (s *Scheduler) AddShutdownHook(h func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.shutdown = append(append([]func(){}, s.shutdown...), h)
}

func (s *Scheduler) snapshotFailure() []func(error) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.failure
}

func (s *Scheduler) snapshotRecoverable() []func(error) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.recoverable
}

func (s *Scheduler) snapshotShutdown() []func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.shutdown
}

// PrepareToStop is a no-op for this discipline: a busy loop has no do-at
// queue to pre-clear, so teardown is entirely Stop's job.
func (s *Scheduler) PrepareToStop() {}

// Stop requests the consumer goroutine terminate and blocks until it has.
// Safe to call more than once, from any goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.opts.logger.Info("busyloop scheduler: stopping", nil)
		close(s.stopCh)
	})
	<-s.doneCh
}

func (s *Scheduler) shouldStop() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	s.state.Store(scheduler.LoopRunning)
	if s.opts.lowLatency {
		s.runLowLatency()
	} else {
		s.runThroughput()
	}
	s.state.Store(scheduler.LoopTerminated)
	for _, h := range s.snapshotShutdown() {
		func() {
			defer func() { recover() }()
			h()
		}()
	}
}

func (s *Scheduler) runThroughput() {
	for !s.shouldStop() {
		e := s.q.PollNext(s.tp.Now())
		if e == nil {
			continue
		}
		if s.executeOrHandle(e) {
			return
		}
	}
}

func (s *Scheduler) runLowLatency() {
	for !s.shouldStop() {
		for !s.shouldStop() {
			e := s.q.PollNextNow()
			if e == nil {
				break
			}
			if s.executeOrHandle(e) {
				return
			}
		}
		for !s.shouldStop() && s.q.IsEmptyNow() {
			now := s.tp.Now()
			e := s.q.PollNextScheduled(now)
			if e != nil {
				if s.executeOrHandle(e) {
					return
				}
				continue
			}
			s.park()
		}
	}
}

func (s *Scheduler) park() {
	if s.opts.parkDurationNanos <= 0 {
		runtime.Gosched()
		return
	}
	if s.opts.parkDurationNanos < 1000 {
		// Go cannot reliably sleep sub-microsecond durations; yield instead.
		runtime.Gosched()
		return
	}
	time.Sleep(time.Duration(s.opts.parkDurationNanos))
}

// executeOrHandle runs e, classifying any recovered panic as recoverable
// (notify, continue) or fatal (notify, run shutdown hooks, stop). Returns
// true if the loop must stop.
func (s *Scheduler) executeOrHandle(e *event.Event) (stopped bool) {
	err := s.safeExecute(e)
	if s.hasMetric {
		atomic.AddUint64(&s.metrics.EventsExecuted, 1)
	}
	if err == nil {
		return false
	}
	var rec *errs.RecoverableError
	if errors.As(err, &rec) {
		recErr := s.notifyRecoverable(err)
		if recErr == nil {
			return false
		}
		// a failure inside the recovery path escalates to a full failure
		err = recErr
	}
	if s.hasMetric {
		atomic.AddUint64(&s.metrics.EventsFailed, 1)
	}
	s.opts.logger.Error("busyloop scheduler: event action failed fatally; stopping", err)
	for _, l := range s.snapshotFailure() {
		func() {
			defer func() { recover() }()
			l(err)
		}()
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	return true
}

// notifyRecoverable runs the recoverable listeners with cause; a panic from
// any listener escalates the whole incident, returned as the fatal error.
func (s *Scheduler) notifyRecoverable(cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("busyloop scheduler: recoverable listener panicked: %v", r)
		}
	}()
	for _, l := range s.snapshotRecoverable() {
		l(cause)
	}
	return nil
}

func (s *Scheduler) safeExecute(e *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if asErr, ok := r.(error); ok {
				err = asErr
			} else {
				err = fmt.Errorf("busyloop scheduler: event action panicked: %v", r)
			}
		}
	}()
	e.Execute()
	return nil
}

func (s *Scheduler) scheduleHeartbeat() {
	var tick func()
	last := s.tp.Now()
	tick = func() {
		now := s.tp.Now()
		expected := s.tp.FromDuration(time.Second)
		actual := now - last
		if actual > expected*1.5 {
			s.opts.logger.Info(fmt.Sprintf("busyloop scheduler %s: heartbeat delayed (expected %v, actual %v)", s.opts.name, expected, actual), nil)
		}
		last = now
		if s.shouldStop() {
			return
		}
		s.q.AddScheduled(event.New(now+s.tp.FromDuration(time.Second), "heartbeat", tick, true, nil))
	}
	s.q.AddScheduled(event.New(s.tp.Now()+s.tp.FromDuration(time.Second), "heartbeat", tick, true, nil))
}
