package index

import "sort"

// Predicate partitions records into "matches" and "does not match" a
// boolean test, keeping only the matching subset in memory.
type Predicate[T comparable] struct {
	name  string
	test  func(T) bool
	match []T
}

// NewPredicate constructs a Predicate index.
func NewPredicate[T comparable](name string, test func(T) bool, opts ...Option) *Predicate[T] {
	o := resolveOptions(opts)
	return &Predicate[T]{name: name, test: test, match: make([]T, 0, o.initialCap())}
}

func (ix *Predicate[T]) Name() string { return ix.name }

func (ix *Predicate[T]) Add(r T) error {
	var zero T
	if r == zero || !ix.test(r) {
		return nil
	}
	for _, v := range ix.match {
		if v == r {
			return nil
		}
	}
	ix.match = append(ix.match, r)
	return nil
}

func (ix *Predicate[T]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	ix.match = removeFirst(ix.match, r)
	return nil
}

func (ix *Predicate[T]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *Predicate[T]) UpdateAll(changes []Change[T]) error { return DefaultUpdateAll[T](ix, changes) }

func (ix *Predicate[T]) Invalidate() {}

// Matches returns a copy of the current matching set.
func (ix *Predicate[T]) Matches() []T {
	out := make([]T, len(ix.match))
	copy(out, ix.match)
	return out
}

// PredicateSorted is a Predicate whose matching subset is additionally
// kept in cmp order, with the same tie-on-distinct-records failure mode as
// the sorted index variants.
type PredicateSorted[T comparable] struct {
	name  string
	test  func(T) bool
	cmp   Comparator[T]
	match []T
}

// NewPredicateSorted constructs a PredicateSorted index.
func NewPredicateSorted[T comparable](name string, test func(T) bool, cmp Comparator[T], opts ...Option) *PredicateSorted[T] {
	o := resolveOptions(opts)
	return &PredicateSorted[T]{name: name, test: test, cmp: cmp, match: make([]T, 0, o.initialCap())}
}

func (ix *PredicateSorted[T]) Name() string { return ix.name }

func (ix *PredicateSorted[T]) Add(r T) error {
	var zero T
	if r == zero || !ix.test(r) {
		return nil
	}
	pos := sort.Search(len(ix.match), func(i int) bool { return ix.cmp(ix.match[i], r) >= 0 })
	if pos < len(ix.match) {
		if ix.match[pos] == r {
			return nil
		}
		if ix.cmp(ix.match[pos], r) == 0 {
			return tieError(ix.name, "sorted-predicate")
		}
	}
	ix.match = append(ix.match, r)
	copy(ix.match[pos+1:], ix.match[pos:])
	ix.match[pos] = r
	return nil
}

func (ix *PredicateSorted[T]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	ix.match = removeFirst(ix.match, r)
	return nil
}

func (ix *PredicateSorted[T]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *PredicateSorted[T]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *PredicateSorted[T]) Invalidate() {}

// Matches returns a copy of the current, ordered matching set.
func (ix *PredicateSorted[T]) Matches() []T {
	out := make([]T, len(ix.match))
	copy(out, ix.match)
	return out
}

// PredicateMapped is a Predicate whose matching records are additionally
// projected through mapFunc into a one-to-one keyed lookup (M); a mapping
// collision (two distinct matching records projecting to the same M) fails
// with an IndexUpdateError.
type PredicateMapped[T comparable, M comparable] struct {
	name    string
	test    func(T) bool
	mapFunc func(T) M
	match   []T
	byKey   map[M]T
}

// NewPredicateMapped constructs a PredicateMapped index.
func NewPredicateMapped[T comparable, M comparable](name string, test func(T) bool, mapFunc func(T) M, opts ...Option) *PredicateMapped[T, M] {
	o := resolveOptions(opts)
	return &PredicateMapped[T, M]{name: name, test: test, mapFunc: mapFunc, byKey: make(map[M]T, o.initialCap())}
}

func (ix *PredicateMapped[T, M]) Name() string { return ix.name }

func (ix *PredicateMapped[T, M]) Add(r T) error {
	var zero T
	if r == zero || !ix.test(r) {
		return nil
	}
	k := ix.mapFunc(r)
	if existing, ok := ix.byKey[k]; ok {
		if existing == r {
			return nil
		}
		return collisionError(ix.name, k)
	}
	ix.byKey[k] = r
	ix.match = append(ix.match, r)
	return nil
}

func (ix *PredicateMapped[T, M]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.mapFunc(r)
	if existing, ok := ix.byKey[k]; ok && existing == r {
		delete(ix.byKey, k)
	}
	ix.match = removeFirst(ix.match, r)
	return nil
}

func (ix *PredicateMapped[T, M]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *PredicateMapped[T, M]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *PredicateMapped[T, M]) Invalidate() {}

// Get returns the matching record mapped to k, if any.
func (ix *PredicateMapped[T, M]) Get(k M) (T, bool) {
	r, ok := ix.byKey[k]
	return r, ok
}

// Matches returns a copy of the current matching set.
func (ix *PredicateMapped[T, M]) Matches() []T {
	out := make([]T, len(ix.match))
	copy(out, ix.match)
	return out
}
