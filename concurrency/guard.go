// Package concurrency implements the active-mutator sentinel shared by the
// discrete scheduler and the object store: it detects both a second
// goroutine entering a mutating operation while one is in progress, and the
// same goroutine re-entering (e.g. via a listener called from a write path).
package concurrency

import (
	"sync/atomic"

	"github.com/joeycumines/go-evencache/errs"
	"github.com/joeycumines/go-evencache/internal/goroutineid"
)

// Guard is a zero-value-ready active-mutator sentinel.
type Guard struct {
	active atomic.Uint64 // 0 = none; otherwise goroutine id + 1
}

// Enter marks the calling goroutine as the active mutator, returning a
// release func to call (typically deferred) at the end of the mutation. If
// another mutation is already active — from this goroutine or another — it
// returns a ConcurrentMutationError naming both goroutine ids instead.
func (g *Guard) Enter() (release func(), err error) {
	gid := goroutineid.Current() + 1
	if !g.active.CompareAndSwap(0, gid) {
		current := g.active.Load()
		return nil, errs.NewConcurrentMutationError(current-1, gid-1)
	}
	return func() { g.active.Store(0) }, nil
}

// ActiveGoroutineID reports the goroutine id currently holding the guard, if
// any.
func (g *Guard) ActiveGoroutineID() (id uint64, active bool) {
	v := g.active.Load()
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

// IsActiveGoroutine reports whether the calling goroutine currently holds
// the guard, permitting reads from the active mutator without re-entering.
func (g *Guard) IsActiveGoroutine() bool {
	id, active := g.ActiveGoroutineID()
	return active && id == goroutineid.Current()
}
