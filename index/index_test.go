package index

import (
	"testing"

	"github.com/joeycumines/go-evencache/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rec struct {
	id    int
	group string
}

func TestChange_IsAddIsDelete(t *testing.T) {
	c := Change[int]{Old: 0, New: 5}
	assert.True(t, c.IsAdd())
	assert.False(t, c.IsDelete())

	c2 := Change[int]{Old: 5, New: 0}
	assert.True(t, c2.IsDelete())
	assert.False(t, c2.IsAdd())

	assert.Equal(t, Change[int]{Old: 5, New: 0}, c.Reversed())
}

func TestOneToOne_CollisionAndRollback(t *testing.T) {
	ix := NewOneToOne[rec, int]("by-group-id", func(r rec) int { return r.id })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))

	err := ix.Add(rec{id: 1, group: "b"})
	require.Error(t, err)
	var iue *errs.IndexUpdateError
	require.ErrorAs(t, err, &iue)

	got, ok := ix.Get(1)
	require.True(t, ok)
	assert.Equal(t, "a", got.group)
}

func TestOneToOne_UpdateRollsBackOnCollision(t *testing.T) {
	ix := NewOneToOne[rec, string]("by-group", func(r rec) string { return r.group })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "b"}))

	// Update record 1 from group "a" to "b", which collides with record 2.
	err := ix.Update(rec{id: 1, group: "a"}, rec{id: 1, group: "b"})
	require.Error(t, err)

	// "a" must be restored.
	got, ok := ix.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, got.id)
}

func TestOneToMany_DuplicateAddIsNoop(t *testing.T) {
	ix := NewOneToMany[rec, string]("by-group", func(r rec) string { return r.group })
	r := rec{id: 1, group: "a"}
	require.NoError(t, ix.Add(r))
	require.NoError(t, ix.Add(r))
	assert.Equal(t, 1, ix.Count("a"))
}

func TestOneToMany_RemoveEmptiesBucket(t *testing.T) {
	ix := NewOneToMany[rec, string]("by-group", func(r rec) string { return r.group })
	r := rec{id: 1, group: "a"}
	require.NoError(t, ix.Add(r))
	require.NoError(t, ix.Remove(r))
	_, ok := ix.Get("a")
	assert.False(t, ok)
}

func TestOptionalOneToOne_AbsentKeyNotIndexed(t *testing.T) {
	ix := NewOptionalOneToOne[rec, string]("maybe", func(r rec) (string, bool) {
		if r.group == "" {
			return "", false
		}
		return r.group, true
	})
	require.NoError(t, ix.Add(rec{id: 1}))
	assert.Equal(t, 0, len(ix.m))
}

func TestManyToOne_KeyCollisionRollsBackAllKeys(t *testing.T) {
	ix := NewManyToOne[rec, string]("aliases", func(r rec) []string {
		return []string{r.group, "shared"}
	})
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))

	err := ix.Add(rec{id: 2, group: "b"})
	require.Error(t, err)

	// "b" must not remain indexed since the "shared" key collided.
	_, ok := ix.Get("b")
	assert.False(t, ok)
	got, ok := ix.Get("shared")
	require.True(t, ok)
	assert.Equal(t, 1, got.id)
}

func TestManyToMany_SharedKeyNeverFails(t *testing.T) {
	ix := NewManyToMany[rec, string]("tags", func(r rec) []string { return []string{r.group} })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "a"}))
	bucket, ok := ix.Get("a")
	require.True(t, ok)
	assert.Len(t, bucket, 2)
}

func intCmp(a, b rec) int { return a.id - b.id }

func TestSortedOneToMany_OrderedAndTieFails(t *testing.T) {
	ix := NewSortedOneToMany[rec, string]("by-group-sorted", func(r rec) string { return r.group }, intCmp)
	require.NoError(t, ix.Add(rec{id: 3, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "a"}))

	bucket, ok := ix.Get("a")
	require.True(t, ok)
	require.Len(t, bucket, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{bucket[0].id, bucket[1].id, bucket[2].id})

	tieCmp := func(a, b rec) int { return 0 }
	ixTie := NewSortedOneToMany[rec, string]("tie", func(r rec) string { return r.group }, tieCmp)
	require.NoError(t, ixTie.Add(rec{id: 1, group: "a"}))
	err := ixTie.Add(rec{id: 2, group: "a"})
	require.Error(t, err)
}

func TestSeparatelySortedOneToMany_PerKeyComparator(t *testing.T) {
	asc := func(a, b rec) int { return a.id - b.id }
	desc := func(a, b rec) int { return b.id - a.id }
	ix := NewSeparatelySortedOneToMany[rec, string]("per-key", func(r rec) string { return r.group }, func(k string) Comparator[rec] {
		if k == "asc" {
			return asc
		}
		return desc
	})
	require.NoError(t, ix.Add(rec{id: 1, group: "asc"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "asc"}))
	require.NoError(t, ix.Add(rec{id: 1, group: "desc"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "desc"}))

	ascBucket, _ := ix.Get("asc")
	assert.Equal(t, []int{1, 2}, []int{ascBucket[0].id, ascBucket[1].id})

	descBucket, _ := ix.Get("desc")
	assert.Equal(t, []int{2, 1}, []int{descBucket[0].id, descBucket[1].id})
}

func TestPredicate_OnlyMatchesRetained(t *testing.T) {
	ix := NewPredicate[rec]("evens", func(r rec) bool { return r.id%2 == 0 })
	require.NoError(t, ix.Add(rec{id: 1}))
	require.NoError(t, ix.Add(rec{id: 2}))
	assert.Equal(t, []rec{{id: 2}}, ix.Matches())
}

func TestPredicateMapped_CollisionFails(t *testing.T) {
	ix := NewPredicateMapped[rec, string]("mapped", func(r rec) bool { return true }, func(r rec) string { return r.group })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	err := ix.Add(rec{id: 2, group: "a"})
	require.Error(t, err)
}

type sumAgg struct{}

func (sumAgg) Zero() int                 { return 0 }
func (sumAgg) Add(acc int, r rec) int    { return acc + r.id }
func (sumAgg) Remove(acc int, r rec) int { return acc - r.id }

func TestCachedGroupBy_IncrementalAggregation(t *testing.T) {
	ix := NewCachedGroupBy[rec, string, int]("sum-by-group", func(r rec) string { return r.group }, sumAgg{})
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "a"}))
	v, ok := ix.Get("a")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	require.NoError(t, ix.Remove(rec{id: 1, group: "a"}))
	v, ok = ix.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestCachedSort_GlobalOrder(t *testing.T) {
	ix := NewCachedSort[rec]("global", intCmp)
	require.NoError(t, ix.Add(rec{id: 3}))
	require.NoError(t, ix.Add(rec{id: 1}))
	require.NoError(t, ix.Add(rec{id: 2}))
	sorted := ix.Sorted()
	assert.Equal(t, []int{1, 2, 3}, []int{sorted[0].id, sorted[1].id, sorted[2].id})
}

func TestCachedSort_NaturalOrder(t *testing.T) {
	ix := NewCachedSortNatural[int]("global-natural")
	require.NoError(t, ix.Add(3))
	require.NoError(t, ix.Add(1))
	require.NoError(t, ix.Add(2))
	assert.Equal(t, []int{1, 2, 3}, ix.Sorted())
}

func TestDefaultUpdateAll_RollbackOnAddFailure(t *testing.T) {
	ix := NewOneToOne[rec, int]("by-id", func(r rec) int { return r.id })
	require.NoError(t, ix.Add(rec{id: 1, group: "orig1"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "orig2"}))

	// Batch: update record 1's group (not its key, so succeeds), but update
	// record 2's key to collide with record 1 -- the add phase must fail
	// and the whole batch must roll back to the original state.
	changes := []Change[rec]{
		{Old: rec{id: 1, group: "orig1"}, New: rec{id: 1, group: "newval"}},
		{Old: rec{id: 2, group: "orig2"}, New: rec{id: 1, group: "collide"}},
	}
	err := ix.UpdateAll(changes)
	require.Error(t, err)

	got, ok := ix.Get(1)
	require.True(t, ok)
	assert.Equal(t, "orig1", got.group)
}

func TestDefaultUpdateAll_AllSucceed(t *testing.T) {
	ix := NewOneToMany[rec, string]("by-group", func(r rec) string { return r.group })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "a"}))

	changes := []Change[rec]{
		{Old: rec{id: 1, group: "a"}, New: rec{id: 1, group: "b"}},
		{Old: rec{id: 2, group: "a"}, New: rec{id: 2, group: "b"}},
	}
	require.NoError(t, ix.UpdateAll(changes))
	_, ok := ix.Get("a")
	assert.False(t, ok)
	bucket, ok := ix.Get("b")
	require.True(t, ok)
	assert.Len(t, bucket, 2)
}

func TestOptionalOneToManyCount_IncrementsAndDecrements(t *testing.T) {
	ix := NewOptionalOneToManyCount[rec, string]("group-count", func(r rec) (string, bool) {
		return r.group, r.group != ""
	})
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 2, group: "a"}))
	require.NoError(t, ix.Add(rec{id: 3, group: ""})) // absent key, not counted
	assert.Equal(t, 2, ix.Count("a"))

	require.NoError(t, ix.Remove(rec{id: 1, group: "a"}))
	assert.Equal(t, 1, ix.Count("a"))
	require.NoError(t, ix.Remove(rec{id: 2, group: "a"}))
	assert.Equal(t, 0, ix.Count("a"))
}

func TestSortedManyToMany_TieRollsBackEveryKey(t *testing.T) {
	byID := func(a, b rec) int { return a.id - b.id }
	ix := NewSortedManyToMany[rec, string]("tags", func(r rec) []string {
		return []string{r.group, "all"}
	}, byID)
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))

	// Same id as record 1 but a distinct record: ties in the shared "all"
	// bucket, so the earlier insert into "b" must roll back too.
	err := ix.Add(rec{id: 1, group: "b"})
	require.Error(t, err)
	_, ok := ix.Get("b")
	assert.False(t, ok)
	bucket, ok := ix.Get("all")
	require.True(t, ok)
	assert.Len(t, bucket, 1)
}

func TestOneToOne_SnapshotMemoisedUntilInvalidate(t *testing.T) {
	ix := NewOneToOne[rec, int]("by-id", func(r rec) int { return r.id })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))

	snap1 := ix.Snapshot()
	snap1[99] = rec{id: 99}
	assert.Contains(t, ix.Snapshot(), 99, "repeated calls must return the same map value")

	ix.Invalidate()
	assert.NotContains(t, ix.Snapshot(), 99)
}

func TestOneToMany_SnapshotMemoisedUntilInvalidate(t *testing.T) {
	ix := NewOneToMany[rec, string]("by-group", func(r rec) string { return r.group })
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))

	snap1 := ix.Snapshot()
	snap1["extra"] = nil
	assert.Contains(t, ix.Snapshot(), "extra")

	ix.Invalidate()
	assert.NotContains(t, ix.Snapshot(), "extra")
}

func TestCachedGroupBy_SnapshotMemoisedUntilInvalidate(t *testing.T) {
	ix := NewCachedGroupBy[rec, string, int]("group-sizes", func(r rec) string { return r.group }, sumAgg{})
	require.NoError(t, ix.Add(rec{id: 1, group: "a"}))

	snap1 := ix.Snapshot()
	snap1["extra"] = -1
	assert.Contains(t, ix.Snapshot(), "extra")

	ix.Invalidate()
	assert.NotContains(t, ix.Snapshot(), "extra")
}

func TestCachedSort_SnapshotMemoisedUntilInvalidate(t *testing.T) {
	ix := NewCachedSortNatural[int]("sorted-ints")
	require.NoError(t, ix.Add(3))
	require.NoError(t, ix.Add(1))

	snap1 := ix.Snapshot()
	snap2 := ix.Snapshot()
	assert.Same(t, &snap1[0], &snap2[0], "repeated calls must return the same slice value")

	require.NoError(t, ix.Add(2))
	ix.Invalidate()
	assert.Equal(t, []int{1, 2, 3}, ix.Snapshot())
}

func TestWithHint_doesNotChangeObservableSemantics(t *testing.T) {
	for _, hint := range []Hint{HintNone, HintOptimiseForUpdate, HintOptimiseForQuery, HintOptimiseForInfrequentChanges} {
		ix := NewOneToOne[rec, int]("by-id", func(r rec) int { return r.id }, WithHint(hint))
		require.NoError(t, ix.Add(rec{id: 1, group: "a"}))
		require.Error(t, ix.Add(rec{id: 1, group: "b"}))
		got, ok := ix.Get(1)
		require.True(t, ok)
		assert.Equal(t, "a", got.group)
	}
}
