package index

// ManyToOne indexes each record under a *set* of derived keys (e.g. tags,
// aliases), where each individual key may resolve to at most one record:
// a second, different record claiming a key already held is a collision
// and fails with an IndexUpdateError, exactly like OneToOne but per-key
// rather than per-record.
type ManyToOne[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) []K
	m       map[K]T
}

// NewManyToOne constructs a ManyToOne index named name, deriving each
// record's key set via keyFunc.
func NewManyToOne[T comparable, K comparable](name string, keyFunc func(T) []K, opts ...Option) *ManyToOne[T, K] {
	o := resolveOptions(opts)
	return &ManyToOne[T, K]{name: name, keyFunc: keyFunc, m: make(map[K]T, o.initialCap())}
}

func (ix *ManyToOne[T, K]) Name() string { return ix.name }

func (ix *ManyToOne[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	keys := ix.keyFunc(r)
	applied := make([]K, 0, len(keys))
	for _, k := range keys {
		if existing, ok := ix.m[k]; ok {
			if existing == r {
				continue
			}
			for _, a := range applied {
				delete(ix.m, a)
			}
			return collisionError(ix.name, k)
		}
		ix.m[k] = r
		applied = append(applied, k)
	}
	return nil
}

func (ix *ManyToOne[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	for _, k := range ix.keyFunc(r) {
		if existing, ok := ix.m[k]; ok && existing == r {
			delete(ix.m, k)
		}
	}
	return nil
}

func (ix *ManyToOne[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *ManyToOne[T, K]) UpdateAll(changes []Change[T]) error { return DefaultUpdateAll[T](ix, changes) }

func (ix *ManyToOne[T, K]) Invalidate() {}

// Get returns the record mapped to k, if any.
func (ix *ManyToOne[T, K]) Get(k K) (T, bool) {
	r, ok := ix.m[k]
	return r, ok
}
