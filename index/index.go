// Package index implements the full family of derived lookup structures
// the cache maintains alongside its primary id->record map: one-to-one,
// one-to-many, many-to-one, many-to-many (plain and optional-keyed),
// sorted and separately-sorted buckets, predicate partitions, a counting
// index, and two aggregations (CachedGroupBy, CachedSort).
//
// Every concrete index in this package assumes it is only ever mutated
// from inside the owning cache's single active-mutator critical section
// (see package concurrency): none of them lock internally. Each one
// implements Index[T], so the cache can hold a single, uniform
// `[]Index[T]` regardless of each index's own internal key type.
package index

import (
	"fmt"

	"github.com/joeycumines/go-evencache/errs"
)

// Hint is a build-time optimisation hint accepted by every constructor in
// this package. A hint only sets the initial capacity of the index's
// internal maps; it does not choose between different data structures, and
// it never changes observable semantics.
type Hint int

const (
	HintNone Hint = iota
	HintOptimiseForUpdate
	HintOptimiseForQuery
	HintOptimiseForInfrequentChanges
)

// Option configures an index at construction, following the same
// functional-options convention as the scheduler packages.
type Option interface{ apply(*options) }

type options struct {
	hint Hint
}

type optionFunc func(*options)

func (f optionFunc) apply(o *options) { f(o) }

// WithHint supplies a build-time optimisation hint.
func WithHint(h Hint) Option {
	return optionFunc(func(o *options) { o.hint = h })
}

func resolveOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}
	return o
}

// initialCap translates the construction hint into an initial sizing for
// the index's internal map(s). Hints never change observable semantics.
func (o options) initialCap() int {
	switch o.hint {
	case HintOptimiseForQuery, HintOptimiseForInfrequentChanges:
		return 256
	case HintOptimiseForUpdate:
		return 64
	default:
		return 0
	}
}

// Change describes one record's before/after state within an atomic batch.
// A zero Old means the change is an add; a zero New means it's a delete;
// both non-zero means an update.
type Change[T comparable] struct {
	Old T
	New T
}

// IsAdd reports whether this Change represents a pure add (no prior Old).
func (c Change[T]) IsAdd() bool {
	var zero T
	return c.Old == zero && c.New != zero
}

// IsDelete reports whether this Change represents a pure delete (no New).
func (c Change[T]) IsDelete() bool {
	var zero T
	return c.New == zero && c.Old != zero
}

// Reversed swaps Old and New, yielding the complementary change used to
// undo this one during rollback.
func (c Change[T]) Reversed() Change[T] { return Change[T]{Old: c.New, New: c.Old} }

// Index is the contract every index variant in this package implements,
// and the only contract the cache package depends on. K (each index's own
// derived key type) is deliberately not part of this interface -- it is
// internal to each concrete type, so a cache can hold indices of different
// key types side by side in one `[]Index[T]`.
type Index[T comparable] interface {
	// Name returns the index's diagnostic name, used in IndexUpdateError.
	Name() string
	// Add indexes r. A zero r is a no-op (no record to index).
	Add(r T) error
	// Remove de-indexes r. A zero r, or an r never added, is a no-op.
	Remove(r T) error
	// Update removes old and adds new, as one logical step; on failure the
	// index is restored to its pre-call state.
	Update(old, new T) error
	// UpdateAll applies every change in changes atomically: all removes
	// first, then all adds; on any failure, already-applied steps are
	// undone and the error is returned.
	UpdateAll(changes []Change[T]) error
	// Invalidate discards any memoised Snapshot, forcing the next Snapshot
	// call to recompute. Called by the cache after every successful
	// mutation that touched this index.
	Invalidate()
}

// DefaultUpdate implements the standard remove-then-add Update semantics
// shared by every index variant in this package: remove(old) then add(new),
// with old re-added on an add failure. A remove failure is returned as is,
// with nothing to restore; it cannot occur in practice, since Remove never
// fails for any variant defined here.
func DefaultUpdate[T comparable](ix Index[T], old, new T) error {
	var zero T
	switch {
	case old == zero && new == zero:
		return nil
	case old == zero:
		return ix.Add(new)
	case new == zero:
		return ix.Remove(old)
	}
	if err := ix.Remove(old); err != nil {
		return err
	}
	if err := ix.Add(new); err != nil {
		_ = ix.Add(old)
		return err
	}
	return nil
}

// DefaultUpdateAll implements the standard two-phase batch semantics
// shared by every index variant in this package: every Old is removed
// first (in order), then every New is added (in order). A failure during
// the remove phase re-adds everything already removed, in reverse order. A
// failure during the add phase removes everything already (re-)added in
// this call, in reverse order, then re-adds everything originally removed,
// in reverse order -- restoring the index to exactly its pre-call state.
func DefaultUpdateAll[T comparable](ix Index[T], changes []Change[T]) error {
	var zero T
	removed := make([]T, 0, len(changes))
	for _, c := range changes {
		if c.Old == zero {
			continue
		}
		if err := ix.Remove(c.Old); err != nil {
			for j := len(removed) - 1; j >= 0; j-- {
				_ = ix.Add(removed[j])
			}
			return err
		}
		removed = append(removed, c.Old)
	}
	added := make([]T, 0, len(changes))
	for _, c := range changes {
		if c.New == zero {
			continue
		}
		if err := ix.Add(c.New); err != nil {
			for j := len(added) - 1; j >= 0; j-- {
				_ = ix.Remove(added[j])
			}
			for j := len(removed) - 1; j >= 0; j-- {
				_ = ix.Add(removed[j])
			}
			return err
		}
		added = append(added, c.New)
	}
	return nil
}

// collisionError builds the IndexUpdateError raised by every single-keyed
// (one-to-one-shaped) variant when a key is already occupied by a
// different record.
func collisionError(name string, key any) error {
	return errs.NewIndexUpdateError(name, fmt.Sprintf("key %v already mapped to a different record", key), nil)
}

func tieError(name string, key any) error {
	return errs.NewIndexUpdateError(name, fmt.Sprintf("comparator returned 0 for distinct records in bucket %v", key), nil)
}

// removeFirst removes the first occurrence of r (by identity, via ==) from
// s, preserving the order of the remaining elements, and returns the
// shortened slice.
func removeFirst[T comparable](s []T, r T) []T {
	for i, v := range s {
		if v == r {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
