// Package discrete implements the virtual-time, single-goroutine cooperative
// scheduler discipline: a FIFO do-now queue drained ahead of a (time, id)
// priority do-at queue, with virtual time advanced only by event execution.
package discrete

import (
	"container/heap"
	"errors"
	"fmt"
	"sync"

	"github.com/joeycumines/go-evencache/errs"
	"github.com/joeycumines/go-evencache/event"
	"github.com/joeycumines/go-evencache/internal/goroutineid"
	"github.com/joeycumines/go-evencache/logging"
	"github.com/joeycumines/go-evencache/scheduler"
	"github.com/joeycumines/go-evencache/timeprovider"
)

// doAtHeap is a container/heap.Interface min-heap ordered by event.Compare,
// local to this package (the analogous type in package queue is unexported
// there too; this scheduler has its own single-goroutine do-at queue rather
// than a thread-safe one, since only the owning goroutine ever touches it
// once submitted).
type doAtHeap []*event.Event

func (h doAtHeap) Len() int           { return len(h) }
func (h doAtHeap) Less(i, j int) bool { return event.Less(h[i], h[j]) }
func (h doAtHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *doAtHeap) Push(x any)        { *h = append(*h, x.(*event.Event)) }
func (h *doAtHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Option configures a Scheduler at construction.
type Option interface{ apply(*options) }

type options struct {
	enforceStrictEventOrdering bool
	logExceptions              bool
	logger                     logging.Logger
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithStrictEventOrdering rejects DoAt/DoIn calls scheduling into the past
// instead of silently clamping to "now".
func WithStrictEventOrdering(strict bool) Option {
	return optionFunc(func(o *options) { o.enforceStrictEventOrdering = strict })
}

// WithLogExceptions controls whether a fatal event-action failure is logged
// via the configured Logger before the scheduler stops. Defaults to true;
// tests that intentionally trigger failures typically disable this.
func WithLogExceptions(log bool) Option {
	return optionFunc(func(o *options) { o.logExceptions = log })
}

// WithLogger installs the Logger used for diagnostics. Defaults to a no-op.
func WithLogger(l logging.Logger) Option {
	return optionFunc(func(o *options) { o.logger = l })
}

func resolveOptions(opts []Option) options {
	o := options{logExceptions: true, logger: logging.Nop()}
	for _, opt := range opts {
		opt.apply(&o)
	}
	o.logger = logging.Safe(o.logger)
	return o
}

// Scheduler is the discrete-event (virtual time) scheduler discipline.
//
// It has exactly one owning goroutine: whichever goroutine first calls any
// mutating method becomes pinned as the owner, and every subsequent call
// from a different goroutine fails fast with an *errs.ConcurrentMutationError
// (Stop is one exception: it may be called from any goroutine, matching
// its "any -> stopped, unconditionally" transition; Cancel is another: a
// foreign-goroutine Cancel logs an error and sets the flag anyway). Draining (executing
// ready events) only ever happens synchronously inside Run, UnPause,
// RunForDuration or RunUntilTime -- DoNow/DoAt/DoIn only enqueue.
type Scheduler struct {
	opts options
	tp   *timeprovider.ManualTimeProvider

	ownerGID  uint64
	ownerSet  bool
	ownerOnce sync.Mutex

	mu      sync.Mutex
	doNowQ  []*event.Event
	doAtH   doAtHeap
	state   scheduler.RunState
	pauseReq bool
	runUntilActive bool

	listenerMu    sync.Mutex
	failure       []func(error)
	recoverable   []func(error)
	shutdownHooks []func()
}

var _ scheduler.Scheduler = (*Scheduler)(nil)
var _ event.Canceller = (*Scheduler)(nil)

// New constructs a Scheduler with virtual time starting at start.
func New(start float64, opts ...Option) *Scheduler {
	return &Scheduler{
		opts:  resolveOptions(opts),
		tp:    timeprovider.NewManualTimeProvider(start),
		state: scheduler.StateIdle,
	}
}

// TimeProvider exposes the scheduler's virtual clock, for components (e.g.
// the repeating-task helper) that need unit-aware conversion.
func (s *Scheduler) TimeProvider() *timeprovider.ManualTimeProvider { return s.tp }

// pin claims (on first call) or verifies (on later calls) the owning
// goroutine, returning an *errs.ConcurrentMutationError on conflict.
func (s *Scheduler) pin() error {
	gid := goroutineid.Current()
	s.ownerOnce.Lock()
	defer s.ownerOnce.Unlock()
	if !s.ownerSet {
		s.ownerGID = gid
		s.ownerSet = true
		return nil
	}
	if s.ownerGID == gid {
		return nil
	}
	return errs.NewConcurrentMutationError(s.ownerGID, gid)
}

// pinOrPanic is used by DoNow, whose interface signature has no error
// return: a foreign-goroutine call is a programmer
// error in this scheduler, which has no safe cross-goroutine submission
// path (unlike the busy-loop/executor disciplines), so it fails loud.
func (s *Scheduler) pinOrPanic() {
	if err := s.pin(); err != nil {
		panic(err)
	}
}

func (s *Scheduler) loadState() scheduler.RunState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DoNow schedules action to run as soon as possible. Must be called from
// the owning goroutine.
func (s *Scheduler) DoNow(description string, action func()) *event.Event {
	s.pinOrPanic()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == scheduler.StateStopped {
		// gate: doNow requires "not stopped"; silently drop per the
		// scheduler-is-gone convention used by the busy-loop variants.
		return event.New(s.tp.Now(), description, nil, true, s)
	}
	e := event.New(s.tp.Now(), description, action, false, s)
	s.doNowQ = append(s.doNowQ, e)
	return e
}

// DoAt schedules action to run once virtual time reaches t.
func (s *Scheduler) DoAt(t float64, description string, action func()) (*event.Event, error) {
	if err := s.pin(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == scheduler.StateStopping || s.state == scheduler.StateStopped {
		return nil, errs.NewConfigurationError("discrete scheduler: cannot DoAt once stopping/stopped", nil)
	}
	now := s.tp.Now()
	if t < now {
		if s.opts.enforceStrictEventOrdering {
			return nil, errs.NewConfigurationError(fmt.Sprintf("discrete scheduler: DoAt(%v) is before now (%v) under strict ordering", t, now), nil)
		}
		t = now
	}
	e := event.New(t, description, action, false, s)
	heap.Push(&s.doAtH, e)
	return e, nil
}

// DoIn schedules action to run after delay virtual-time units.
func (s *Scheduler) DoIn(delay float64, description string, action func()) (*event.Event, error) {
	if err := s.pin(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	now := s.tp.Now()
	s.mu.Unlock()
	return s.DoAt(now+delay, description, action)
}

// Cancel cancels e. Safe to call more than once; a no-op once e has
// executed.
func (s *Scheduler) Cancel(e *event.Event) { e.Cancel() }

// CancelEvent implements event.Canceller. The cancellation flag is a
// plain, non-atomic field (see event.Event), so this is only safe from the
// owning goroutine; a foreign goroutine calling Cancel on a
// discrete-scheduler event is unsupported.
func (s *Scheduler) CancelEvent(e *event.Event) {
	if gid := goroutineid.Current(); s.ownerSet && gid != s.ownerGID {
		s.opts.logger.Error("discrete scheduler: Cancel called from a foreign goroutine; cancellation flag mutation is racy here", nil)
	}
	e.CancelDirect()
}

// Now returns the scheduler's current virtual time.
func (s *Scheduler) Now() float64 { return s.tp.Now() }

// State reports the scheduler's current run state.
func (s *Scheduler) State() scheduler.RunState { return s.loadState() }

// AddFailureListener registers l to be called (with the triggering error)
// whenever a fatal event-action failure stops the scheduler.
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

// AddShutdownHook registers h to run once, during Stop, after the scheduler
// has moved to the Stopped state.
func (s *Scheduler) AddShutdownHook(h func()) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.shutdownHooks = append(append([]func(){}, s.shutdownHooks...), h)
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

func (s *Scheduler) snapshotShutdownHooks() []func() {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.shutdownHooks
}

// Pause transitions Idle -> Paused. Must be called from the owning
// goroutine.
func (s *Scheduler) Pause() error {
	if err := s.pin(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != scheduler.StateIdle {
		return errs.NewConfigurationError(fmt.Sprintf("discrete scheduler: cannot pause from state %s", s.state), nil)
	}
	s.state = scheduler.StatePaused
	return nil
}

// UnPause transitions Paused -> Executing, drains all ready events, then
// settles at Idle (or Paused, if a RunForDuration/RunUntilTime sentinel
// re-pauses it -- not normally expected from a bare UnPause).
func (s *Scheduler) UnPause() error {
	if err := s.pin(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != scheduler.StatePaused {
		s.mu.Unlock()
		return errs.NewConfigurationError("discrete scheduler: UnPause requires the Paused state", nil)
	}
	s.state = scheduler.StateExecuting
	s.mu.Unlock()
	return s.drainLoop()
}

// PrepareToStop transitions into the Stopping state and clears the pending
// do-at queue (pending do-now events are preserved, to be flushed by Stop).
func (s *Scheduler) PrepareToStop() error {
	if err := s.pin(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == scheduler.StatePaused || s.state == scheduler.StateStopping || s.state == scheduler.StateStopped {
		return errs.NewConfigurationError(fmt.Sprintf("discrete scheduler: cannot prepare to stop from state %s", s.state), nil)
	}
	s.state = scheduler.StateStopping
	s.doAtH = nil
	return nil
}

// Stop tears the scheduler down unconditionally. Safe to call from any
// goroutine, and more than once. If the scheduler was Stopping, any
// remaining do-now events are flushed first.
func (s *Scheduler) Stop() { s.stop(nil) }

func (s *Scheduler) stop(cause error) {
	s.mu.Lock()
	prev := s.state
	if prev == scheduler.StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = scheduler.StateStopped
	flush := prev == scheduler.StateStopping
	s.mu.Unlock()

	if flush {
		for {
			e, ok := s.popDoNow()
			if !ok {
				break
			}
			_ = s.executeOne(e)
		}
	}

	for _, h := range s.snapshotShutdownHooks() {
		func() {
			defer func() { recover() }()
			h()
		}()
	}
	if cause != nil {
		for _, l := range s.snapshotFailure() {
			func() {
				defer func() { recover() }()
				l(cause)
			}()
		}
	}
}

// Run drains the do-now queue (FIFO) and the do-at queue (earliest first,
// advancing virtual time to each event's scheduled time) until both are
// empty or the scheduler stops/pauses. It returns the error that caused a
// fatal stop, if any.
func (s *Scheduler) Run() error {
	if err := s.pin(); err != nil {
		return err
	}
	return s.drainLoop()
}

// RunForDuration is equivalent to RunUntilTime(Now() + d).
func (s *Scheduler) RunForDuration(d float64) error {
	if err := s.pin(); err != nil {
		return err
	}
	return s.RunUntilTime(s.tp.Now() + d)
}

// RunUntilTime runs until virtual time reaches end, then re-pauses --
// guaranteeing every event scheduled exactly at end runs first. Requires
// the scheduler to already be Paused, and end must not be in the past.
func (s *Scheduler) RunUntilTime(end float64) error {
	if err := s.pin(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state != scheduler.StatePaused {
		s.mu.Unlock()
		return errs.NewConfigurationError("discrete scheduler: RunUntilTime requires the Paused state", nil)
	}
	if s.runUntilActive {
		s.mu.Unlock()
		return errs.NewConfigurationError("discrete scheduler: a RunForDuration/RunUntilTime call is already in progress", nil)
	}
	if end < s.tp.Now() {
		s.mu.Unlock()
		return errs.NewConfigurationError("discrete scheduler: RunUntilTime end is in the past", nil)
	}
	s.runUntilActive = true
	s.state = scheduler.StateExecuting
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.runUntilActive = false
		s.mu.Unlock()
	}()

	// Self-scheduling sentinel at exactly `end`: when it runs, it peeks
	// what's left in the do-at queue and only re-pauses if the earliest
	// remaining event is strictly beyond `end`, guaranteeing ties at `end`
	// all run first.
	s.mu.Lock()
	sentinel := event.New(end, "run-until-sentinel", nil, true, nil)
	sentinel.Action = func() {
		s.mu.Lock()
		beyond := len(s.doAtH) == 0 || s.doAtH[0].Time > end
		if beyond {
			s.pauseReq = true
		}
		s.mu.Unlock()
	}
	heap.Push(&s.doAtH, sentinel)
	s.mu.Unlock()

	return s.drainLoop()
}

func (s *Scheduler) popDoNow() (*event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.doNowQ) == 0 {
		return nil, false
	}
	e := s.doNowQ[0]
	s.doNowQ = s.doNowQ[1:]
	return e, true
}

func (s *Scheduler) popDoAtReady() (*event.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.doAtH) == 0 {
		return nil, false
	}
	e := heap.Pop(&s.doAtH).(*event.Event)
	return e, true
}

func (s *Scheduler) checkPauseRequested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseReq {
		s.pauseReq = false
		s.state = scheduler.StatePaused
		return true
	}
	return false
}

func (s *Scheduler) drainLoop() error {
	for {
		s.mu.Lock()
		st := s.state
		s.mu.Unlock()
		if st == scheduler.StateStopped || st == scheduler.StateStopping {
			return nil
		}

		e, ok := s.popDoNow()
		if !ok {
			var ready bool
			e, ready = s.popDoAtReady()
			if ready {
				s.mu.Lock()
				s.tp.Set(e.Time)
				s.mu.Unlock()
				ok = true
			}
		}
		if !ok {
			s.mu.Lock()
			s.state = scheduler.StateIdle
			s.mu.Unlock()
			return nil
		}

		s.mu.Lock()
		s.state = scheduler.StateExecuting
		s.mu.Unlock()

		if err := s.executeOne(e); err != nil {
			return err
		}
		if s.checkPauseRequested() {
			return nil
		}
	}
}

// executeOne runs e.Execute, classifying any recovered panic as recoverable
// (notify and continue) or fatal (notify, stop, and return the error).
func (s *Scheduler) executeOne(e *event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			cause := panicToError(r)
			var rec *errs.RecoverableError
			if errors.As(cause, &rec) {
				recErr := s.notifyRecoverable(cause)
				if recErr == nil {
					return
				}
				// a failure inside the recovery path escalates to a full
				// failure
				cause = recErr
			}
			if s.opts.logExceptions {
				s.opts.logger.Error("discrete scheduler: event action failed fatally", cause)
			}
			s.stop(cause)
			err = cause
		}
	}()
	e.Execute()
	return nil
}

// notifyRecoverable runs the recoverable listeners with cause; a panic from
// any listener escalates the whole incident, returned as the fatal error.
func (s *Scheduler) notifyRecoverable(cause error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("discrete scheduler: recoverable listener panicked: %v", r)
		}
	}()
	for _, l := range s.snapshotRecoverable() {
		l(cause)
	}
	return nil
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return fmt.Errorf("discrete scheduler: event action panicked: %v", r)
}
