package index

// ManyToMany indexes each record under a set of derived keys, with any
// number of distinct records sharing a key; duplicates (the same record
// appearing twice in its own bucket) are suppressed, never an error.
type ManyToMany[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) []K
	m       map[K][]T
}

// NewManyToMany constructs a ManyToMany index named name, deriving each
// record's key set via keyFunc.
func NewManyToMany[T comparable, K comparable](name string, keyFunc func(T) []K, opts ...Option) *ManyToMany[T, K] {
	o := resolveOptions(opts)
	return &ManyToMany[T, K]{name: name, keyFunc: keyFunc, m: make(map[K][]T, o.initialCap())}
}

func (ix *ManyToMany[T, K]) Name() string { return ix.name }

func (ix *ManyToMany[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	for _, k := range ix.keyFunc(r) {
		dup := false
		for _, v := range ix.m[k] {
			if v == r {
				dup = true
				break
			}
		}
		if !dup {
			ix.m[k] = append(ix.m[k], r)
		}
	}
	return nil
}

func (ix *ManyToMany[T, K]) Remove(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	for _, k := range ix.keyFunc(r) {
		bucket, ok := ix.m[k]
		if !ok {
			continue
		}
		bucket = removeFirst(bucket, r)
		if len(bucket) == 0 {
			delete(ix.m, k)
		} else {
			ix.m[k] = bucket
		}
	}
	return nil
}

func (ix *ManyToMany[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *ManyToMany[T, K]) UpdateAll(changes []Change[T]) error { return DefaultUpdateAll[T](ix, changes) }

func (ix *ManyToMany[T, K]) Invalidate() {}

// Get returns a copy of the bucket for k; an absent key yields (nil, false).
func (ix *ManyToMany[T, K]) Get(k K) ([]T, bool) {
	bucket, ok := ix.m[k]
	if !ok {
		return nil, false
	}
	out := make([]T, len(bucket))
	copy(out, bucket)
	return out, true
}
