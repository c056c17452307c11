// Package scheduler holds the types shared by the discrete, busy-loop and
// executor scheduler implementations: the lifecycle state enums, the atomic
// CAS state machine they're built on, and the common Scheduler/Metrics
// surface.
package scheduler

import "sync/atomic"

// RunState models the discrete scheduler's five-state lifecycle.
//
//	idle --Pause--> paused --UnPause--> executing --(drained)--> idle
//	idle --Run--> executing --(drained)--> idle
//	(idle or executing) --PrepareToStop--> stopping --Stop--> stopped
//	(any) --Stop--> stopped
//
// DoNow/DoAt only enqueue: they do not change the state and do not start
// execution.
type RunState uint32

const (
	StateIdle RunState = iota
	StatePaused
	StateExecuting
	StateStopping
	StateStopped
)

func (s RunState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StatePaused:
		return "Paused"
	case StateExecuting:
		return "Executing"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// LoopState models the busy-loop and executor schedulers' four-state
// lifecycle.
type LoopState uint32

const (
	LoopAwake LoopState = iota
	LoopRunning
	LoopTerminating
	LoopTerminated
)

func (s LoopState) String() string {
	switch s {
	case LoopAwake:
		return "Awake"
	case LoopRunning:
		return "Running"
	case LoopTerminating:
		return "Terminating"
	case LoopTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// AtomicState is a lock-free CAS state machine generalised, via a type
// parameter, over any uint32-backed enum.
type AtomicState[S ~uint32] struct {
	v atomic.Uint32
}

// NewAtomicState constructs an AtomicState initialised to initial.
func NewAtomicState[S ~uint32](initial S) *AtomicState[S] {
	a := &AtomicState[S]{}
	a.v.Store(uint32(initial))
	return a
}

// Load returns the current state atomically.
func (a *AtomicState[S]) Load() S {
	return S(a.v.Load())
}

// Store atomically stores a new state, bypassing transition validation.
// Reserved for irreversible terminal states.
func (a *AtomicState[S]) Store(s S) {
	a.v.Store(uint32(s))
}

// TryTransition attempts a single CAS from `from` to `to`.
func (a *AtomicState[S]) TryTransition(from, to S) bool {
	return a.v.CompareAndSwap(uint32(from), uint32(to))
}

// TransitionAny attempts to move from any state in validFrom to to.
func (a *AtomicState[S]) TransitionAny(validFrom []S, to S) bool {
	for _, from := range validFrom {
		if a.v.CompareAndSwap(uint32(from), uint32(to)) {
			return true
		}
	}
	return false
}
