package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/dynbus/errors"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	var evicted []string
	c, err := NewLRU[int](2, WithEvictionCallback(func(key string, _ int) {
		evicted = append(evicted, key)
	}))
	require.NoError(t, err)

	created, err := c.Set("a", 1)
	require.NoError(t, err)
	assert.True(t, created)
	_, _ = c.Set("b", 2)

	// touching a makes b the oldest
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, _ = c.Set("c", 3)
	assert.Equal(t, []string{"b"}, evicted)
	assert.Equal(t, 2, c.Size())

	_, ok = c.Get("b")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits())
	assert.Equal(t, int64(1), stats.Misses())
	assert.Equal(t, int64(1), stats.Evictions())
	assert.InDelta(t, 0.5, stats.HitRatio(), 1e-9)
}

func TestLRUUpdateAndDelete(t *testing.T) {
	c, err := NewLRU[string](4)
	require.NoError(t, err)

	_, _ = c.Set("k", "v1")
	created, err := c.Set("k", "v2")
	require.NoError(t, err)
	assert.False(t, created)

	v, _ := c.Get("k")
	assert.Equal(t, "v2", v)

	assert.True(t, c.Delete("k"))
	assert.False(t, c.Delete("k"))

	_, _ = c.Set("x", "1")
	c.Clear()
	assert.Equal(t, 0, c.Size())
}

func TestLRURejectsBadInput(t *testing.T) {
	_, err := NewLRU[int](0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	c, err := NewLRU[int](1)
	require.NoError(t, err)
	_, err = c.Set("", 1)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLRUConcurrentAccess(t *testing.T) {
	c, err := NewLRU[int](16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", (g*i)%32)
				_, _ = c.Set(key, i)
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Size(), 16)
}
