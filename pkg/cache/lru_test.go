package cache_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/notification-service/pkg/cache"
)

func TestLRU(t *testing.T) {
	t.Parallel()

	t.Run("get after add", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2)

		assert.False(t, c.Add("a", 1))
		v, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, 1, v)

		_, ok = c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("evicts least recently used", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2)

		c.Add("a", 1)
		c.Add("b", 2)
		c.Get("a")

		assert.True(t, c.Add("c", 3))
		_, ok := c.Get("b")
		assert.False(t, ok, "b was the oldest entry")
		_, ok = c.Get("a")
		assert.True(t, ok)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("update does not grow", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2)

		c.Add("a", 1)
		c.Add("a", 2)
		v, _ := c.Get("a")
		assert.Equal(t, 2, v)
		assert.Equal(t, 1, c.Len())
	})

	t.Run("remove", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](2)

		c.Add("a", 1)
		c.Remove("a")
		c.Remove("missing")
		assert.Equal(t, 0, c.Len())
	})

	t.Run("panics on non-positive size", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { cache.NewLRU[string, int](0) })
	})

	t.Run("concurrent access", func(t *testing.T) {
		t.Parallel()
		c := cache.NewLRU[string, int](16)

		var wg sync.WaitGroup
		for i := range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := range 100 {
					key := fmt.Sprintf("%d-%d", i, j%20)
					c.Add(key, j)
					c.Get(key)
				}
			}()
		}
		wg.Wait()
		assert.LessOrEqual(t, c.Len(), 16)
	})
}
