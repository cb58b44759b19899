package idgen

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUID_NewID(t *testing.T) {
	gen := UUID{}

	t.Run("returns a parseable v4 uuid", func(t *testing.T) {
		id := gen.NewID()
		parsed, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(4), parsed.Version())
	})

	t.Run("ids differ", func(t *testing.T) {
		assert.NotEqual(t, gen.NewID(), gen.NewID())
	})
}

func TestSequence_NewID(t *testing.T) {
	t.Run("first id is start+1", func(t *testing.T) {
		gen := NewSequence("conn-", 0)
		assert.Equal(t, "conn-1", gen.NewID())
		assert.Equal(t, "conn-2", gen.NewID())
	})

	t.Run("custom start and empty prefix", func(t *testing.T) {
		gen := NewSequence("", 100)
		assert.Equal(t, "101", gen.NewID())
		assert.Equal(t, uint64(102), gen.Next())
	})

	t.Run("generators are independent", func(t *testing.T) {
		a := NewSequence("a", 0)
		b := NewSequence("b", 0)
		assert.Equal(t, "a1", a.NewID())
		assert.Equal(t, "b1", b.NewID())
	})
}

func TestSequence_Concurrent(t *testing.T) {
	gen := NewSequence("s", 0)
	const n = 500
	ids := make([]string, n)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func(idx int) {
			defer wg.Done()
			ids[idx] = gen.NewID()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, n)
}
