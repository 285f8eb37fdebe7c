package pool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.Size())
	assert.Equal(t, 0, pool.Cap())
}

func TestPool_Put(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	assert.Equal(t, 0, pool.Size())
	require.Nil(t, pool.Put("addon-1", "first"))
	assert.Equal(t, 1, pool.Size())
	require.Nil(t, pool.Put("addon-2", "second"))
	assert.Equal(t, 2, pool.Size())
}

func TestPool_Put_NilValue(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	err := pool.Put("addon-1", nil)
	require.NotNil(t, err)
	assert.Equal(t, 0, pool.Size())
}

func TestPool_Put_Capacity(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	defer pool.Clear()
	require.Nil(t, pool.Put("addon-1", "first"))
	err := pool.Put("addon-2", "second")
	require.NotNil(t, err)
	assert.Equal(t, 1, pool.Size())
}

func TestPool_GetOrPut(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	value, loaded, err := pool.GetOrPut("addon-1", "first")
	require.Nil(t, err)
	assert.False(t, loaded)
	assert.Equal(t, "first", value)

	value, loaded, err = pool.GetOrPut("addon-1", "other")
	require.Nil(t, err)
	assert.True(t, loaded)
	assert.Equal(t, "first", value)
}

func TestPool_Pop(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	require.Nil(t, pool.Put("addon-1", "first"))
	require.Nil(t, pool.Put("addon-2", "second"))

	value, ok := pool.Pop("addon-1").(string)
	require.True(t, ok)
	assert.Equal(t, "first", value)
	assert.Equal(t, 1, pool.Size())

	assert.Nil(t, pool.Pop("addon-1"), "popping twice yields nil")
}

func TestPool_Remove(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	require.Nil(t, pool.Put("addon-1", "first"))
	pool.Remove("addon-1")
	assert.Equal(t, 0, pool.Size())
	assert.Nil(t, pool.Get("addon-1"))
}

func TestPool_Clear(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	require.Nil(t, pool.Put("addon-1", "first"))
	require.Nil(t, pool.Put("addon-2", "second"))
	pool.Clear()
	assert.Equal(t, 0, pool.Size())
}

func TestPool_ForEach(t *testing.T) {
	pool := NewPool(context.Background(), 0)
	defer pool.Clear()
	require.Nil(t, pool.Put("addon-1", "first"))
	require.Nil(t, pool.Put("addon-2", "second"))

	var keys []string
	pool.ForEach(func(key string, value any) bool {
		assert.NotEmpty(t, value)
		keys = append(keys, key)
		return true
	})
	assert.Len(t, keys, 2)
	assert.Contains(t, keys, "addon-1")
	assert.Contains(t, keys, "addon-2")
}
