package index

// OneToOne maps each derived key K to exactly one record T. Adding a
// second record under a key already occupied by a different record is a
// collision and fails with an IndexUpdateError; re-adding the exact same
// record under its own key is a no-op.
type OneToOne[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) K
	m       map[K]T
	snap    map[K]T
}

// NewOneToOne constructs a OneToOne index named name, deriving each
// record's key via keyFunc.
func NewOneToOne[T comparable, K comparable](name string, keyFunc func(T) K, opts ...Option) *OneToOne[T, K] {
	o := resolveOptions(opts)
	return &OneToOne[T, K]{name: name, keyFunc: keyFunc, m: make(map[K]T, o.initialCap())}
}

func (ix *OneToOne[T, K]) Name() string { return ix.name }

func (ix *OneToOne[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	if existing, ok := ix.m[k]; ok {
		if existing == r {
			return nil
		}
		return collisionError(ix.name, k)
	}
	ix.m[k] = r
	return nil
}

func (ix *OneToOne[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	if existing, ok := ix.m[k]; ok && existing == r {
		delete(ix.m, k)
	}
	return nil
}

func (ix *OneToOne[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *OneToOne[T, K]) UpdateAll(changes []Change[T]) error { return DefaultUpdateAll[T](ix, changes) }

func (ix *OneToOne[T, K]) Invalidate() { ix.snap = nil }

// Snapshot returns a memoised copy of the full key->record mapping: repeated
// calls return the same map value until the owning cache's next successful
// mutation invalidates it.
func (ix *OneToOne[T, K]) Snapshot() map[K]T {
	if ix.snap == nil {
		snap := make(map[K]T, len(ix.m))
		for k, v := range ix.m {
			snap[k] = v
		}
		ix.snap = snap
	}
	return ix.snap
}

// Get returns the record mapped to k, if any.
func (ix *OneToOne[T, K]) Get(k K) (T, bool) {
	r, ok := ix.m[k]
	return r, ok
}

// Len returns the number of keys currently indexed.
func (ix *OneToOne[T, K]) Len() int { return len(ix.m) }

// OptionalOneToOne is a OneToOne index whose key function may decline to
// produce a key (second return false), in which case the record is simply
// not indexed -- no error, no collision possible for that record.
type OptionalOneToOne[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) (K, bool)
	m       map[K]T
}

// NewOptionalOneToOne constructs an OptionalOneToOne index.
func NewOptionalOneToOne[T comparable, K comparable](name string, keyFunc func(T) (K, bool), opts ...Option) *OptionalOneToOne[T, K] {
	o := resolveOptions(opts)
	return &OptionalOneToOne[T, K]{name: name, keyFunc: keyFunc, m: make(map[K]T, o.initialCap())}
}

func (ix *OptionalOneToOne[T, K]) Name() string { return ix.name }

func (ix *OptionalOneToOne[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k, ok := ix.keyFunc(r)
	if !ok {
		return nil
	}
	if existing, exists := ix.m[k]; exists {
		if existing == r {
			return nil
		}
		return collisionError(ix.name, k)
	}
	ix.m[k] = r
	return nil
}

func (ix *OptionalOneToOne[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k, ok := ix.keyFunc(r)
	if !ok {
		return nil
	}
	if existing, exists := ix.m[k]; exists && existing == r {
		delete(ix.m, k)
	}
	return nil
}

func (ix *OptionalOneToOne[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *OptionalOneToOne[T, K]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *OptionalOneToOne[T, K]) Invalidate() {}

// Get returns the record mapped to k, if any.
func (ix *OptionalOneToOne[T, K]) Get(k K) (T, bool) {
	r, ok := ix.m[k]
	return r, ok
}
