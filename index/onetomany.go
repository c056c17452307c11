package index

// OneToMany maps each derived key K to a set of records, preserving
// insertion order within each bucket. Adding the same record twice under
// its own key is a no-op (no duplicate entries).
type OneToMany[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) K
	m       map[K][]T
	snap    map[K][]T
}

// NewOneToMany constructs a OneToMany index named name, deriving each
// record's bucket key via keyFunc.
func NewOneToMany[T comparable, K comparable](name string, keyFunc func(T) K, opts ...Option) *OneToMany[T, K] {
	o := resolveOptions(opts)
	return &OneToMany[T, K]{name: name, keyFunc: keyFunc, m: make(map[K][]T, o.initialCap())}
}

func (ix *OneToMany[T, K]) Name() string { return ix.name }

func (ix *OneToMany[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	for _, v := range ix.m[k] {
		if v == r {
			return nil
		}
	}
	ix.m[k] = append(ix.m[k], r)
	return nil
}

func (ix *OneToMany[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	bucket, ok := ix.m[k]
	if !ok {
		return nil
	}
	bucket = removeFirst(bucket, r)
	if len(bucket) == 0 {
		delete(ix.m, k)
	} else {
		ix.m[k] = bucket
	}
	return nil
}

func (ix *OneToMany[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *OneToMany[T, K]) UpdateAll(changes []Change[T]) error { return DefaultUpdateAll[T](ix, changes) }

func (ix *OneToMany[T, K]) Invalidate() { ix.snap = nil }

// Snapshot returns a memoised deep copy of the full key->bucket mapping:
// repeated calls return the same map value until the owning cache's next
// successful mutation invalidates it.
func (ix *OneToMany[T, K]) Snapshot() map[K][]T {
	if ix.snap == nil {
		snap := make(map[K][]T, len(ix.m))
		for k, bucket := range ix.m {
			out := make([]T, len(bucket))
			copy(out, bucket)
			snap[k] = out
		}
		ix.snap = snap
	}
	return ix.snap
}

// Get returns a copy of the bucket for k; an absent key yields (nil, false).
func (ix *OneToMany[T, K]) Get(k K) ([]T, bool) {
	bucket, ok := ix.m[k]
	if !ok {
		return nil, false
	}
	out := make([]T, len(bucket))
	copy(out, bucket)
	return out, true
}

// Count returns the number of records indexed under k.
func (ix *OneToMany[T, K]) Count(k K) int { return len(ix.m[k]) }

// OptionalOneToMany is a OneToMany index whose key function may decline to
// produce a key (second return false), leaving that record unindexed.
type OptionalOneToMany[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) (K, bool)
	m       map[K][]T
}

// NewOptionalOneToMany constructs an OptionalOneToMany index.
func NewOptionalOneToMany[T comparable, K comparable](name string, keyFunc func(T) (K, bool), opts ...Option) *OptionalOneToMany[T, K] {
	o := resolveOptions(opts)
	return &OptionalOneToMany[T, K]{name: name, keyFunc: keyFunc, m: make(map[K][]T, o.initialCap())}
}

func (ix *OptionalOneToMany[T, K]) Name() string { return ix.name }

func (ix *OptionalOneToMany[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k, ok := ix.keyFunc(r)
	if !ok {
		return nil
	}
	for _, v := range ix.m[k] {
		if v == r {
			return nil
		}
	}
	ix.m[k] = append(ix.m[k], r)
	return nil
}

func (ix *OptionalOneToMany[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k, ok := ix.keyFunc(r)
	if !ok {
		return nil
	}
	bucket, exists := ix.m[k]
	if !exists {
		return nil
	}
	bucket = removeFirst(bucket, r)
	if len(bucket) == 0 {
		delete(ix.m, k)
	} else {
		ix.m[k] = bucket
	}
	return nil
}

func (ix *OptionalOneToMany[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *OptionalOneToMany[T, K]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *OptionalOneToMany[T, K]) Invalidate() {}

// Get returns a copy of the bucket for k; an absent key yields (nil, false).
func (ix *OptionalOneToMany[T, K]) Get(k K) ([]T, bool) {
	bucket, ok := ix.m[k]
	if !ok {
		return nil, false
	}
	out := make([]T, len(bucket))
	copy(out, bucket)
	return out, true
}

// OptionalOneToManyCount is a counting-only variant of OptionalOneToMany:
// it tracks how many records fall under each key without retaining the
// records themselves, for O(1) cardinality queries over large buckets.
type OptionalOneToManyCount[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) (K, bool)
	counts  map[K]int
}

// NewOptionalOneToManyCount constructs an OptionalOneToManyCount index.
func NewOptionalOneToManyCount[T comparable, K comparable](name string, keyFunc func(T) (K, bool), opts ...Option) *OptionalOneToManyCount[T, K] {
	o := resolveOptions(opts)
	return &OptionalOneToManyCount[T, K]{name: name, keyFunc: keyFunc, counts: make(map[K]int, o.initialCap())}
}

func (ix *OptionalOneToManyCount[T, K]) Name() string { return ix.name }

func (ix *OptionalOneToManyCount[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	if k, ok := ix.keyFunc(r); ok {
		ix.counts[k]++
	}
	return nil
}

func (ix *OptionalOneToManyCount[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	if k, ok := ix.keyFunc(r); ok {
		if n := ix.counts[k]; n <= 1 {
			delete(ix.counts, k)
		} else {
			ix.counts[k] = n - 1
		}
	}
	return nil
}

func (ix *OptionalOneToManyCount[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *OptionalOneToManyCount[T, K]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *OptionalOneToManyCount[T, K]) Invalidate() {}

// Count returns the number of records indexed under k.
func (ix *OptionalOneToManyCount[T, K]) Count(k K) int { return ix.counts[k] }
