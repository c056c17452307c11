// Package cache implements the indexed immutable object cache: a
// transactional id->record store that keeps an arbitrary number of
// attached derived indices (see package index) consistent with it and
// with each other, rolling back every effect of a batch the instant any
// part of it fails.
//
// A single active-mutator goroutine holds the store at a time (enforced by
// package concurrency's goroutine-identity sentinel); listener sets are
// copy-on-write, so notification iterates an immutable snapshot.
package cache

import (
	"fmt"
	"sync"

	"github.com/joeycumines/go-evencache/concurrency"
	"github.com/joeycumines/go-evencache/errs"
	"github.com/joeycumines/go-evencache/index"
	"github.com/joeycumines/go-evencache/internal/goroutineid"
)

// AddedListener is notified once per record that survives an Add (or an
// update that results in an add).
type AddedListener[T any] func(new T)

// RemovedListener is notified once per record that survives a Delete (or
// an update that results in a delete).
type RemovedListener[T any] func(old T)

// ChangedListener is notified once per surviving single operation in a
// batch, regardless of its shape; old or new may be the zero value.
type ChangedListener[T any] func(old, new T)

// BatchListener is notified exactly once per successful mutating call
// (every *All call, and also every single Add, Update, Delete or Clear),
// with every change in the batch in submission order.
type BatchListener[T comparable] func(changes []index.Change[T])

// ObjectStore is the transactional id->record cache. T is the record type
// (must be comparable so identity checks and index removal can use plain
// ==); ID is the type records are keyed by.
type ObjectStore[T comparable, ID comparable] struct {
	idFunc  func(T) ID
	indices []index.Index[T]
	guard   concurrency.Guard

	records map[ID]T

	snapshot      map[ID]T
	snapshotValid bool

	listenerMu sync.Mutex
	added      []AddedListener[T]
	removed    []RemovedListener[T]
	changed    []ChangedListener[T]
	batch      []BatchListener[T]
}

// New constructs an empty ObjectStore keyed by idFunc, maintaining every
// index in indices alongside the primary map.
func New[T comparable, ID comparable](idFunc func(T) ID, indices ...index.Index[T]) *ObjectStore[T, ID] {
	return &ObjectStore[T, ID]{
		idFunc:  idFunc,
		indices: append([]index.Index[T]{}, indices...),
		records: make(map[ID]T),
	}
}

// AddAddedListener registers l to run after every surviving add.
func (s *ObjectStore[T, ID]) AddAddedListener(l AddedListener[T]) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.added = append(append([]AddedListener[T]{}, s.added...), l)
}

// AddRemovedListener registers l to run after every surviving delete.
func (s *ObjectStore[T, ID]) AddRemovedListener(l RemovedListener[T]) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.removed = append(append([]RemovedListener[T]{}, s.removed...), l)
}

// AddChangedListener registers l to run after every surviving operation.
func (s *ObjectStore[T, ID]) AddChangedListener(l ChangedListener[T]) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.changed = append(append([]ChangedListener[T]{}, s.changed...), l)
}

// AddBatchListener registers l to run once per successful batch.
func (s *ObjectStore[T, ID]) AddBatchListener(l BatchListener[T]) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.batch = append(append([]BatchListener[T]{}, s.batch...), l)
}

func (s *ObjectStore[T, ID]) snapshotAdded() []AddedListener[T] {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.added
}

func (s *ObjectStore[T, ID]) snapshotRemoved() []RemovedListener[T] {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.removed
}

func (s *ObjectStore[T, ID]) snapshotChanged() []ChangedListener[T] {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.changed
}

func (s *ObjectStore[T, ID]) snapshotBatch() []BatchListener[T] {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	return s.batch
}

// Add inserts r as a new record. Fails if an id collision exists.
func (s *ObjectStore[T, ID]) Add(r T) error {
	return s.commit([]index.Change[T]{{New: r}})
}

// AddAll inserts every record in rs atomically.
func (s *ObjectStore[T, ID]) AddAll(rs []T) error {
	changes := make([]index.Change[T], len(rs))
	for i, r := range rs {
		changes[i] = index.Change[T]{New: r}
	}
	return s.commit(changes)
}

// Update replaces old with new. A zero old is treated as an add; a zero
// new is treated as a delete. Fails if the record currently stored under
// old's id is not identity-equal (==) to old.
func (s *ObjectStore[T, ID]) Update(old, new T) error {
	return s.commit([]index.Change[T]{{Old: old, New: new}})
}

// UpdateAll applies every change in changes atomically, in the same
// fashion as Update.
func (s *ObjectStore[T, ID]) UpdateAll(changes []index.Change[T]) error {
	return s.commit(append([]index.Change[T]{}, changes...))
}

// Delete removes the record stored under id. Fails if id is absent.
func (s *ObjectStore[T, ID]) Delete(id ID) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	cur, ok := s.records[id]
	if !ok {
		return errs.NewCacheUpdateError(fmt.Sprintf("delete: id %v not present", id), nil)
	}
	return s.commitLocked([]index.Change[T]{{Old: cur}})
}

// DeleteAll removes every record named by ids atomically. Fails (without
// effect) if any id in ids is absent.
func (s *ObjectStore[T, ID]) DeleteAll(ids []ID) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	changes := make([]index.Change[T], 0, len(ids))
	for _, id := range ids {
		cur, ok := s.records[id]
		if !ok {
			return errs.NewCacheUpdateError(fmt.Sprintf("deleteAll: id %v not present", id), nil)
		}
		changes = append(changes, index.Change[T]{Old: cur})
	}
	return s.commitLocked(changes)
}

// Clear removes every record currently in the store, atomically.
func (s *ObjectStore[T, ID]) Clear() error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	changes := make([]index.Change[T], 0, len(s.records))
	for _, r := range s.records {
		changes = append(changes, index.Change[T]{Old: r})
	}
	return s.commitLocked(changes)
}

func (s *ObjectStore[T, ID]) commit(changes []index.Change[T]) error {
	release, err := s.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	return s.commitLocked(changes)
}

// commitLocked runs the two-stage (primary store, then indices) batch
// algorithm described in the object store's transaction rules, assuming
// the guard is already held by the calling goroutine.
func (s *ObjectStore[T, ID]) commitLocked(changes []index.Change[T]) error {
	if len(changes) == 0 {
		return nil
	}

	applied, err := s.applyPrimary(changes)
	if err != nil {
		return errs.NewCacheUpdateError("object store: primary update rejected", err)
	}

	succeeded := make([]index.Index[T], 0, len(s.indices))
	for _, ix := range s.indices {
		if err := ix.UpdateAll(changes); err != nil {
			reversed := reverseChanges(changes)
			for j := len(succeeded) - 1; j >= 0; j-- {
				_ = succeeded[j].UpdateAll(reversed)
			}
			s.undoPrimary(applied)
			return errs.NewCacheUpdateError(fmt.Sprintf("object store: index %q rejected batch", ix.Name()), err)
		}
		succeeded = append(succeeded, ix)
	}

	s.snapshotValid = false
	for _, ix := range s.indices {
		ix.Invalidate()
	}
	s.fireListeners(changes)
	return nil
}

// applyPrimary validates and applies changes to the primary id->record
// map, stopping and rolling back its own partial effect at the first
// invalid change.
func (s *ObjectStore[T, ID]) applyPrimary(changes []index.Change[T]) ([]index.Change[T], error) {
	var zero T
	applied := make([]index.Change[T], 0, len(changes))
	for _, c := range changes {
		switch {
		case c.Old == zero && c.New == zero:
			continue
		case c.Old == zero:
			id := s.idFunc(c.New)
			if _, exists := s.records[id]; exists {
				s.undoPrimary(applied)
				return nil, errs.NewIndexUpdateError("primary", fmt.Sprintf("id %v already present", id), nil)
			}
			s.records[id] = c.New
		case c.New == zero:
			id := s.idFunc(c.Old)
			cur, exists := s.records[id]
			if !exists || cur != c.Old {
				s.undoPrimary(applied)
				return nil, errs.NewIndexUpdateError("primary", fmt.Sprintf("id %v not present or stale", id), nil)
			}
			delete(s.records, id)
		default:
			id := s.idFunc(c.Old)
			cur, exists := s.records[id]
			if !exists || cur != c.Old {
				s.undoPrimary(applied)
				return nil, errs.NewIndexUpdateError("primary", fmt.Sprintf("id %v not present or stale", id), nil)
			}
			s.records[id] = c.New
		}
		applied = append(applied, c)
	}
	return applied, nil
}

// undoPrimary reverses every change in applied, in reverse order, directly
// against the primary map (no re-validation: these are known-good inverse
// operations).
func (s *ObjectStore[T, ID]) undoPrimary(applied []index.Change[T]) {
	var zero T
	for i := len(applied) - 1; i >= 0; i-- {
		c := applied[i]
		switch {
		case c.Old == zero && c.New == zero:
		case c.Old == zero: // undo an add: remove
			delete(s.records, s.idFunc(c.New))
		case c.New == zero: // undo a delete: re-add
			s.records[s.idFunc(c.Old)] = c.Old
		default: // undo an update: restore old
			s.records[s.idFunc(c.Old)] = c.Old
		}
	}
}

func reverseChanges[T comparable](changes []index.Change[T]) []index.Change[T] {
	out := make([]index.Change[T], len(changes))
	for i, c := range changes {
		out[i] = c.Reversed()
	}
	return out
}

// fireListeners notifies every registered listener, in the fixed order
// added/removed/changed per-change then a single batch call. Per the
// delivery rules, a listener's panic propagates straight to the caller:
// the cache update is already final by this point, so there is nothing
// left to roll back.
func (s *ObjectStore[T, ID]) fireListeners(changes []index.Change[T]) {
	var zero T
	for _, c := range changes {
		if c.Old == zero && c.New != zero {
			for _, l := range s.snapshotAdded() {
				l(c.New)
			}
		}
		if c.New == zero && c.Old != zero {
			for _, l := range s.snapshotRemoved() {
				l(c.Old)
			}
		}
		for _, l := range s.snapshotChanged() {
			l(c.Old, c.New)
		}
	}
	for _, l := range s.snapshotBatch() {
		l(changes)
	}
}

func (s *ObjectStore[T, ID]) checkReadAllowed() error {
	id, active := s.guard.ActiveGoroutineID()
	if !active || s.guard.IsActiveGoroutine() {
		return nil
	}
	return errs.NewConcurrentMutationError(id, goroutineid.Current())
}

// Get returns the record stored under id, if any.
func (s *ObjectStore[T, ID]) Get(id ID) (T, bool, error) {
	var zero T
	if err := s.checkReadAllowed(); err != nil {
		return zero, false, err
	}
	r, ok := s.records[id]
	return r, ok, nil
}

// ContainsID reports whether id is currently present.
func (s *ObjectStore[T, ID]) ContainsID(id ID) (bool, error) {
	if err := s.checkReadAllowed(); err != nil {
		return false, err
	}
	_, ok := s.records[id]
	return ok, nil
}

// Size returns the current record count.
func (s *ObjectStore[T, ID]) Size() (int, error) {
	if err := s.checkReadAllowed(); err != nil {
		return 0, err
	}
	return len(s.records), nil
}

// Snapshot returns an immutable-by-convention view of the store's current
// contents. The same map value is returned from repeated calls made
// between successful mutations; a rolled-back batch never invalidates it.
func (s *ObjectStore[T, ID]) Snapshot() (map[ID]T, error) {
	if err := s.checkReadAllowed(); err != nil {
		return nil, err
	}
	if !s.snapshotValid {
		snap := make(map[ID]T, len(s.records))
		for k, v := range s.records {
			snap[k] = v
		}
		s.snapshot = snap
		s.snapshotValid = true
	}
	return s.snapshot, nil
}

// ForEach calls f once per record, in unspecified order, stopping early if
// f returns false.
func (s *ObjectStore[T, ID]) ForEach(f func(id ID, r T) bool) error {
	if err := s.checkReadAllowed(); err != nil {
		return err
	}
	for k, v := range s.records {
		if !f(k, v) {
			break
		}
	}
	return nil
}

// Cursor is a pull-based, non-removing iterator returned by Iterator: call
// Next repeatedly until it reports false.
type Cursor[T any, ID any] struct {
	ids  []ID
	vals []T
	pos  int
}

// Next advances the cursor, returning the next id/record pair, or
// ok == false once exhausted.
func (c *Cursor[T, ID]) Next() (id ID, r T, ok bool) {
	if c.pos >= len(c.ids) {
		return id, r, false
	}
	id, r = c.ids[c.pos], c.vals[c.pos]
	c.pos++
	return id, r, true
}

// Iterator returns a Cursor over a point-in-time copy of the store's
// contents, safe to walk after the calling goroutine releases the guard
// (e.g. from within a listener, or after a read-only call returns).
func (s *ObjectStore[T, ID]) Iterator() (*Cursor[T, ID], error) {
	if err := s.checkReadAllowed(); err != nil {
		return nil, err
	}
	ids := make([]ID, 0, len(s.records))
	vals := make([]T, 0, len(s.records))
	for k, v := range s.records {
		ids = append(ids, k)
		vals = append(vals, v)
	}
	return &Cursor[T, ID]{ids: ids, vals: vals}, nil
}

// Entry pairs an id and record for Stream delivery.
type Entry[ID any, T any] struct {
	ID     ID
	Record T
}

// Stream returns a closed, pre-populated channel carrying a point-in-time
// copy of the store's contents -- a push-style counterpart to Iterator for
// callers that want to range over results with a select loop alongside
// other channels.
func (s *ObjectStore[T, ID]) Stream() (<-chan Entry[ID, T], error) {
	if err := s.checkReadAllowed(); err != nil {
		return nil, err
	}
	ch := make(chan Entry[ID, T], len(s.records))
	for k, v := range s.records {
		ch <- Entry[ID, T]{ID: k, Record: v}
	}
	close(ch)
	return ch, nil
}
