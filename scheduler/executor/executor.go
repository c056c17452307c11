// Package executor implements the realtime, single-goroutine timed-worker
// scheduler discipline: the Go analogue of a single-threaded
// ScheduledExecutorService. Every DoAt call arms a time.AfterFunc that hands
// the event off to one dedicated consumer goroutine over a channel, so
// execution is always serialized even though multiple timers can fire
// concurrently from the Go runtime's own timer goroutines.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/go-evencache/errs"
	"github.com/joeycumines/go-evencache/event"
	"github.com/joeycumines/go-evencache/idgen"
	"github.com/joeycumines/go-evencache/logging"
	"github.com/joeycumines/go-evencache/scheduler"
	"github.com/joeycumines/go-evencache/timeprovider"
)

// Option configures a Scheduler at construction.
type Option interface{ apply(*options) }

type options struct {
	name           string
	daemonWorker   bool
	removeOnCancel bool
	metrics        bool
	logger         logging.Logger
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithName sets the scheduler's diagnostic name.
func WithName(name string) Option { return optionFunc(func(o *options) { o.name = name }) }

// WithDaemonWorker marks the scheduler as non-essential: purely
// documentation/metrics here, since Go has no concept of a JVM daemon
// thread keeping the process alive.
func WithDaemonWorker(v bool) Option { return optionFunc(func(o *options) { o.daemonWorker = v }) }

// WithRemoveOnCancel controls whether a cancelled event's timer entry is
// eagerly removed from the internal map (true) or left there until Stop
// clears the map (false); the stopped timer never fires to remove it.
func WithRemoveOnCancel(v bool) Option {
	return optionFunc(func(o *options) { o.removeOnCancel = v })
}

// WithMetrics enables the opt-in Metrics() counters.
func WithMetrics(v bool) Option { return optionFunc(func(o *options) { o.metrics = v }) }

// WithLogger installs the Logger used for failure diagnostics.
func WithLogger(l logging.Logger) Option { return optionFunc(func(o *options) { o.logger = l }) }

func resolveOptions(opts []Option) options {
	o := options{removeOnCancel: true, logger: logging.Nop()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	if o.name == "" {
		o.name = fmt.Sprintf("executor-%d", idgen.Schedulers.Next())
	}
	o.logger = logging.Safe(o.logger)
	return o
}

// Scheduler is the executor-backed realtime scheduler discipline.
type Scheduler struct {
	opts options
	tp   timeprovider.UnitTimeProvider

	submitCh chan *event.Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once

	timers sync.Map // *event.Event -> *atomic.Pointer[time.Timer]

	listenerMu  sync.Mutex
	failure     []func(error)
	recoverable []func(error)
	shutdown    []func()

	metrics   scheduler.Metrics
	hasMetric bool
}

var _ scheduler.Scheduler = (*Scheduler)(nil)
var _ event.Canceller = (*Scheduler)(nil)

// New constructs and starts a Scheduler.
func New(tp timeprovider.UnitTimeProvider, opts ...Option) *Scheduler {
	o := resolveOptions(opts)
	s := &Scheduler{
		opts:      o,
		tp:        tp,
		submitCh:  make(chan *event.Event, 64),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		hasMetric: o.metrics,
	}
	go s.run()
	return s
}

// Name returns the scheduler's diagnostic name.
func (s *Scheduler) Name() string { return s.opts.name }

// Metrics returns a snapshot of the opt-in counters.
func (s *Scheduler) Metrics() scheduler.Metrics {
	return scheduler.Metrics{
		EventsExecuted:       atomic.LoadUint64(&s.metrics.EventsExecuted),
		EventsCancelled:      atomic.LoadUint64(&s.metrics.EventsCancelled),
		EventsFailed:         atomic.LoadUint64(&s.metrics.EventsFailed),
		QueueDepthAtLastPoll: atomic.LoadUint64(&s.metrics.QueueDepthAtLastPoll),
	}
}

// DoNow schedules action to run as soon as possible.
func (s *Scheduler) DoNow(description string, action func()) *event.Event {
	e, _ := s.DoAt(s.tp.Now(), description, action)
	return e
}

// DoAt schedules action to run once the scheduler's clock reaches t,
// translated into "schedule in (t - now)" against the worker's timer.
func (s *Scheduler) DoAt(t float64, description string, action func()) (*event.Event, error) {
	e := event.New(t, description, action, false, s)
	d := s.tp.ToDuration(t - s.tp.Now())
	if d < 0 {
		d = 0
	}
	ptr := &atomic.Pointer[time.Timer]{}
	s.timers.Store(e, ptr)
	timer := time.AfterFunc(d, func() {
		s.timers.Delete(e)
		select {
		case s.submitCh <- e:
		case <-s.stopCh:
		}
	})
	ptr.CompareAndSwap(nil, timer)
	return e, nil
}

// DoIn schedules action to run after delay, in the time provider's units.
func (s *Scheduler) DoIn(delay float64, description string, action func()) (*event.Event, error) {
	return s.DoAt(s.tp.Now()+delay, description, action)
}

// Cancel cancels e. Safe to call from any goroutine, any number of times.
func (s *Scheduler) Cancel(e *event.Event) { e.Cancel() }

// CancelEvent implements event.Canceller: stops e's backing timer (if it
// has not fired yet) and, if removeOnCancel is set, evicts its map entry;
// the cancelled flag itself is set via a tiny task submitted to the
// consumer goroutine, so the non-atomic write only ever happens there.
func (s *Scheduler) CancelEvent(e *event.Event) {
	if v, ok := s.timers.Load(e); ok {
		if ptr, ok := v.(*atomic.Pointer[time.Timer]); ok {
			if t := ptr.Load(); t != nil {
				t.Stop()
			}
		}
		if s.opts.removeOnCancel {
			s.timers.Delete(e)
		}
	}
	if s.hasMetric {
		atomic.AddUint64(&s.metrics.EventsCancelled, 1)
	}
	cancelTask := event.New(s.tp.Now(), "cancel:"+e.Description, e.CancelDirect, true, nil)
	select {
	case s.submitCh <- cancelTask:
	case <-s.stopCh:
	}
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

// AddShutdownHook registers h to run once, during Stop.
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

// Stop runs shutdown hooks, requests the worker goroutine terminate, awaits
// up to one second, then clears the timer map (stopping every pending
// timer it finds). Safe to call more than once, from any goroutine.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		for _, h := range s.snapshotShutdown() {
			func() {
				defer func() { recover() }()
				h()
			}()
		}
		close(s.stopCh)
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var g errgroup.Group
	g.Go(func() error {
		select {
		case <-s.doneCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err := g.Wait(); err != nil {
		s.opts.logger.Error("executor scheduler: worker goroutine did not stop within 1s", err)
	}
	s.timers.Range(func(key, value any) bool {
		if ptr, ok := value.(*atomic.Pointer[time.Timer]); ok {
			if t := ptr.Load(); t != nil {
				t.Stop()
			}
		}
		s.timers.Delete(key)
		return true
	})
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case e := <-s.submitCh:
			if s.executeOrHandle(e) {
				return
			}
		}
	}
}

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
	s.opts.logger.Error("executor scheduler: event action failed fatally; stopping", err)
	for _, l := range s.snapshotFailure() {
		func() {
			defer func() { recover() }()
			l(err)
		}()
	}
	s.stopOnce.Do(func() {
		for _, h := range s.snapshotShutdown() {
			func() {
				defer func() { recover() }()
				h()
			}()
		}
		close(s.stopCh)
	})
	return true
}

// notifyRecoverable runs the recoverable listeners with cause; a panic from
// any listener escalates the whole incident, returned as the fatal error.
func (s *Scheduler) notifyRecoverable(cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor scheduler: recoverable listener panicked: %v", r)
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
				err = fmt.Errorf("executor scheduler: event action panicked: %v", r)
			}
		}
	}()
	e.Execute()
	return nil
}
