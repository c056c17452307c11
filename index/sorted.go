package index

import "sort"

// Comparator orders two records of type T, returning <0, 0 or >0 per the
// usual sort.Interface convention. For sorted index variants, a comparator
// returning 0 for two distinct (non-==) records is a tie and fails with an
// IndexUpdateError: sorted buckets require a total order.
type Comparator[T any] func(a, b T) int

// SortedOneToMany maintains, per derived key, a bucket ordered by cmp. The
// comparator is only ever invoked on records sharing the same key.
type SortedOneToMany[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) K
	cmp     Comparator[T]
	m       map[K][]T
}

// NewSortedOneToMany constructs a SortedOneToMany index.
func NewSortedOneToMany[T comparable, K comparable](name string, keyFunc func(T) K, cmp Comparator[T], opts ...Option) *SortedOneToMany[T, K] {
	o := resolveOptions(opts)
	return &SortedOneToMany[T, K]{name: name, keyFunc: keyFunc, cmp: cmp, m: make(map[K][]T, o.initialCap())}
}

func (ix *SortedOneToMany[T, K]) Name() string { return ix.name }

func (ix *SortedOneToMany[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	bucket := ix.m[k]
	pos := sort.Search(len(bucket), func(i int) bool { return ix.cmp(bucket[i], r) >= 0 })
	if pos < len(bucket) {
		if bucket[pos] == r {
			return nil
		}
		if ix.cmp(bucket[pos], r) == 0 {
			return tieError(ix.name, k)
		}
	}
	bucket = append(bucket, r)
	copy(bucket[pos+1:], bucket[pos:])
	bucket[pos] = r
	ix.m[k] = bucket
	return nil
}

func (ix *SortedOneToMany[T, K]) Remove(r T) error {
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

func (ix *SortedOneToMany[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *SortedOneToMany[T, K]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *SortedOneToMany[T, K]) Invalidate() {}

// Get returns a copy of the ordered bucket for k.
func (ix *SortedOneToMany[T, K]) Get(k K) ([]T, bool) {
	bucket, ok := ix.m[k]
	if !ok {
		return nil, false
	}
	out := make([]T, len(bucket))
	copy(out, bucket)
	return out, true
}

// SortedManyToMany is the set<K>-keyed counterpart of SortedOneToMany: each
// record is filed into every bucket named by keyFunc, each bucket kept
// ordered by cmp.
type SortedManyToMany[T comparable, K comparable] struct {
	name    string
	keyFunc func(T) []K
	cmp     Comparator[T]
	m       map[K][]T
}

// NewSortedManyToMany constructs a SortedManyToMany index.
func NewSortedManyToMany[T comparable, K comparable](name string, keyFunc func(T) []K, cmp Comparator[T], opts ...Option) *SortedManyToMany[T, K] {
	o := resolveOptions(opts)
	return &SortedManyToMany[T, K]{name: name, keyFunc: keyFunc, cmp: cmp, m: make(map[K][]T, o.initialCap())}
}

func (ix *SortedManyToMany[T, K]) Name() string { return ix.name }

func (ix *SortedManyToMany[T, K]) insertInto(k K, r T) error {
	bucket := ix.m[k]
	pos := sort.Search(len(bucket), func(i int) bool { return ix.cmp(bucket[i], r) >= 0 })
	if pos < len(bucket) {
		if bucket[pos] == r {
			return nil
		}
		if ix.cmp(bucket[pos], r) == 0 {
			return tieError(ix.name, k)
		}
	}
	bucket = append(bucket, r)
	copy(bucket[pos+1:], bucket[pos:])
	bucket[pos] = r
	ix.m[k] = bucket
	return nil
}

func (ix *SortedManyToMany[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	keys := ix.keyFunc(r)
	applied := make([]K, 0, len(keys))
	for _, k := range keys {
		if err := ix.insertInto(k, r); err != nil {
			for _, a := range applied {
				ix.m[a] = removeFirst(ix.m[a], r)
				if len(ix.m[a]) == 0 {
					delete(ix.m, a)
				}
			}
			return err
		}
		applied = append(applied, k)
	}
	return nil
}

func (ix *SortedManyToMany[T, K]) Remove(r T) error {
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

func (ix *SortedManyToMany[T, K]) Update(old, new T) error { return DefaultUpdate[T](ix, old, new) }

func (ix *SortedManyToMany[T, K]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *SortedManyToMany[T, K]) Invalidate() {}

// Get returns a copy of the ordered bucket for k.
func (ix *SortedManyToMany[T, K]) Get(k K) ([]T, bool) {
	bucket, ok := ix.m[k]
	if !ok {
		return nil, false
	}
	out := make([]T, len(bucket))
	copy(out, bucket)
	return out, true
}

// SeparatelySortedOneToMany is a SortedOneToMany whose comparator may
// differ per key: cmpFactory(k) is called once per key the first time a
// bucket for that key is created, and the resulting comparator is reused
// for every later Add/Remove against that bucket. The factory is never
// invoked again once a bucket exists, so a comparator may not change mid
// life-cycle; a bucket is only ever compared against records sharing its
// key, as required by the single-key-comparator contract.
type SeparatelySortedOneToMany[T comparable, K comparable] struct {
	name       string
	keyFunc    func(T) K
	cmpFactory func(K) Comparator[T]
	m          map[K][]T
	cmp        map[K]Comparator[T]
}

// NewSeparatelySortedOneToMany constructs a SeparatelySortedOneToMany index.
func NewSeparatelySortedOneToMany[T comparable, K comparable](name string, keyFunc func(T) K, cmpFactory func(K) Comparator[T], opts ...Option) *SeparatelySortedOneToMany[T, K] {
	o := resolveOptions(opts)
	return &SeparatelySortedOneToMany[T, K]{
		name:       name,
		keyFunc:    keyFunc,
		cmpFactory: cmpFactory,
		m:          make(map[K][]T, o.initialCap()),
		cmp:        make(map[K]Comparator[T], o.initialCap()),
	}
}

func (ix *SeparatelySortedOneToMany[T, K]) Name() string { return ix.name }

func (ix *SeparatelySortedOneToMany[T, K]) comparatorFor(k K) Comparator[T] {
	if cmp, ok := ix.cmp[k]; ok {
		return cmp
	}
	cmp := ix.cmpFactory(k)
	ix.cmp[k] = cmp
	return cmp
}

func (ix *SeparatelySortedOneToMany[T, K]) Add(r T) error {
	var zero T
	if r == zero {
		return nil
	}
	k := ix.keyFunc(r)
	cmp := ix.comparatorFor(k)
	bucket := ix.m[k]
	pos := sort.Search(len(bucket), func(i int) bool { return cmp(bucket[i], r) >= 0 })
	if pos < len(bucket) {
		if bucket[pos] == r {
			return nil
		}
		if cmp(bucket[pos], r) == 0 {
			return tieError(ix.name, k)
		}
	}
	bucket = append(bucket, r)
	copy(bucket[pos+1:], bucket[pos:])
	bucket[pos] = r
	ix.m[k] = bucket
	return nil
}

func (ix *SeparatelySortedOneToMany[T, K]) Remove(r T) error {
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
		delete(ix.cmp, k)
	} else {
		ix.m[k] = bucket
	}
	return nil
}

func (ix *SeparatelySortedOneToMany[T, K]) Update(old, new T) error {
	return DefaultUpdate[T](ix, old, new)
}

func (ix *SeparatelySortedOneToMany[T, K]) UpdateAll(changes []Change[T]) error {
	return DefaultUpdateAll[T](ix, changes)
}

func (ix *SeparatelySortedOneToMany[T, K]) Invalidate() {}

// Get returns a copy of the ordered bucket for k.
func (ix *SeparatelySortedOneToMany[T, K]) Get(k K) ([]T, bool) {
	bucket, ok := ix.m[k]
	if !ok {
		return nil, false
	}
	out := make([]T, len(bucket))
	copy(out, bucket)
	return out, true
}
