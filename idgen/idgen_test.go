package idgen

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupplier_Next_monotonicUnique(t *testing.T) {
	s := NewSupplier()
	seen := make(map[uint64]bool)
	var prev uint64
	for i := 0; i < 1000; i++ {
		id := s.Next()
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestSupplier_Next_concurrentUnique(t *testing.T) {
	s := NewSupplier()
	const n = 200
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ids <- s.Next()
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, n)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, n)
}

func TestSupplier_Reset(t *testing.T) {
	s := NewSupplier()
	_ = s.Next()
	_ = s.Next()
	s.Reset()
	assert.Equal(t, uint64(1), s.Next())
}
