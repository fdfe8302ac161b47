package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddGetRemove(t *testing.T) {
	c := New(5)
	c.Add("hello", []byte("world"), time.Minute)

	assert.True(t, c.Contains("hello"))
	v, ok := c.Get("hello")
	require.True(t, ok)
	assert.Equal(t, []byte("world"), v)

	assert.True(t, c.Remove("hello"))
	assert.False(t, c.Remove("hello"))
	_, ok = c.Get("hello")
	assert.False(t, ok)
}

func TestEvictsOldestAtCapacity(t *testing.T) {
	c := New(2)
	c.Add("a", []byte("1"), time.Minute)
	c.Add("b", []byte("2"), time.Minute)
	c.Add("c", []byte("3"), time.Minute)

	require.Equal(t, 2, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "oldest entry must be evicted")
	assert.True(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New(2)
	c.Add("a", []byte("1"), time.Minute)
	c.Add("b", []byte("2"), time.Minute)

	_, ok := c.Get("a")
	require.True(t, ok)

	// "b" is now the least recently used and goes first.
	c.Add("c", []byte("3"), time.Minute)
	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
}

func TestExpiry(t *testing.T) {
	c := New(5)
	c.Add("soon", []byte("gone"), 20*time.Millisecond)

	_, ok := c.Get("soon")
	require.True(t, ok)

	time.Sleep(30 * time.Millisecond)
	assert.False(t, c.Contains("soon"))
	_, ok = c.Get("soon")
	assert.False(t, ok)
}

func TestUpdateExistingKey(t *testing.T) {
	c := New(2)
	c.Add("k", []byte("old"), time.Minute)
	c.Add("k", []byte("new"), time.Minute)

	require.Equal(t, 1, c.Len())
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("new"), v)
}

func TestClear(t *testing.T) {
	c := New(8)
	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("k%d", i), []byte("v"), time.Minute)
	}
	require.Equal(t, 5, c.Len())

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("k0")
	assert.False(t, ok)
}

func TestZeroCapacityStillHoldsOne(t *testing.T) {
	c := New(0)
	c.Add("k", []byte("v"), time.Minute)
	assert.Equal(t, 1, c.Len())
}
