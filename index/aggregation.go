package index

import (
	"sort"

	"golang.org/x/exp/constraints"
)

// Natural builds a Comparator from any type with a natural total order
// (numbers, strings), for the common case where a sorted index's records
// are themselves directly orderable rather than needing a bespoke
// comparator.
func Natural[T constraints.Ordered]() Comparator[T] {
	return func(a, b T) int {
		switch {
		case a < b:
			return -1
		case a > b:
			return 1
		default:
			return 0
		}
	}
}

// NewCachedSortNatural constructs a CachedSort ordered by T's natural
// order, for records that are themselves directly comparable (e.g. plain
// numeric ids or strings) rather than needing a bespoke Comparator.
func NewCachedSortNatural[T interface {
	comparable
	constraints.Ordered
}](name string, opts ...Option) *CachedSort[T] {
	return NewCachedSort[T](name, Natural[T](), opts...)
}

// Aggregator incrementally folds a bucket's records into a value A. Add is
// called once per record added to a group; Remove is called once per
// record removed. Both must keep A consistent with what a from-scratch
// fold over the surviving records would produce -- the contract
// CachedGroupBy relies on instead of ever recomputing a bucket in full.
type Aggregator[T any, A any] interface {
	// Zero returns the aggregate for an empty group.
	Zero() A
	// Add folds r into acc, returning the updated aggregate.
	Add(acc A, r T) A
	// Remove unfolds r from acc, returning the updated aggregate. Only
	// ever called with an r previously folded in via Add.
	Remove(acc A, r T) A
}

// CachedGroupBy maintains map<K, A>, one aggregate per derived key, updated
// incrementally on every Add/Remove rather than recomputed from scratch.
type CachedGroupBy[T comparable, K comparable, A any] struct {
	name    string
	keyFunc func(T) K
	agg     Aggregator[T, A]
	values  map[K]A
	snap    map[K]A
}

// NewCachedGroupBy constructs a CachedGroupBy index.
func NewCachedGroupBy[T comparable, K comparable, A any](name string, keyFunc func(T) K, agg Aggregator[T, A], opts ...Option) *CachedGroupBy[T, K, A] {
	o := resolveOptions(opts)
	return &CachedGroupBy[T, K, A]{name: name, keyFunc: keyFunc, agg: agg, values: make(map[K]A, o.initialCap())}
}

func (ix *CachedGroupBy[T, K, A]) Name() string { return ix.name }

func (ix *CachedGroupBy[T, K, A]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	cur, ok := ix.values[k]
	if !ok {
		cur = ix.agg.Zero()
	}
	ix.values[k] = ix.agg.Add(cur, r)
	return nil
}

func (ix *CachedGroupBy[T, K, A]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	cur, ok := ix.values[k]
	if !ok {
		return nil
	}
	ix.values[k] = ix.agg.Remove(cur, r)
	return nil
}

func (ix *CachedGroupBy[T, K, A]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *CachedGroupBy[T, K, A]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *CachedGroupBy[T, K, A]) Invalidate() { ix.snap = nil }

// Snapshot returns a memoised copy of the full key->aggregate mapping:
// repeated calls return the same map value until the owning cache's next
// successful mutation invalidates it.
func (ix *CachedGroupBy[T, K, A]) Snapshot() map[K]A {
	if ix.snap == nil {
		snap := make(map[K]A, len(ix.values))
		for k, v := range ix.values {
			snap[k] = v
		}
		ix.snap = snap
	}
	return ix.snap
}

// Get returns the current aggregate for k, and whether any record has ever
// been folded into that group (a group, once created, is never removed
// even if its aggregate value equals Zero -- callers that care about
// emptiness should compare against Zero themselves).
func (ix *CachedGroupBy[T, K, A]) Get(k K) (A, bool) {
	v, ok := ix.values[k]
	return v, ok
}

// CachedSort maintains a single globally sorted view of every indexed
// record, per cmp, failing on ties between distinct records exactly like
// the other sorted variants.
type CachedSort[T comparable] struct {
	name   string
	cmp    Comparator[T]
	sorted []T
	snap   []T
}

// NewCachedSort constructs a CachedSort index.
func NewCachedSort[T comparable](name string, cmp Comparator[T], opts ...Option) *CachedSort[T] {
	o := resolveOptions(opts)
	return &CachedSort[T]{name: name, cmp: cmp, sorted: make([]T, 0, o.initialCap())}
}

func (ix *CachedSort[T]) Name() string { return ix.name }

func (ix *CachedSort[T]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	pos := sort.Search(len(ix.sorted), func(i int) bool { return ix.cmp(ix.sorted[i], r) >= 0 })
	if pos < len(ix.sorted) {
		if ix.sorted[pos] == r {
			return nil
		}
		if ix.cmp(ix.sorted[pos], r) == 0 {
			return tieError(ix.name, "global")
		}
	}
	ix.sorted = append(ix.sorted, r)
	copy(ix.sorted[pos+1:], ix.sorted[pos:])
	ix.sorted[pos] = r
	return nil
}

func (ix *CachedSort[T]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	ix.sorted = removeFirst(ix.sorted, r)
	return nil
}

func (ix *CachedSort[T]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *CachedSort[T]) UpdateAll(changes []Change[T]) error { return DefaultUpdateAll[T](ix, changes) }

func (ix *CachedSort[T]) Invalidate() { ix.snap = nil }

// Snapshot returns a memoised copy of the globally ordered view: repeated
// calls return the same slice value until the owning cache's next successful
// mutation invalidates it. Use Sorted for a fresh, caller-owned copy.
func (ix *CachedSort[T]) Snapshot() []T {
	if ix.snap == nil {
		ix.snap = ix.Sorted()
	}
	return ix.snap
}

// Sorted returns a copy of the current globally ordered view.
func (ix *CachedSort[T]) Sorted() []T {
	out := make([]T, len(ix.sorted))
	copy(out, ix.sorted)
	return out
}
