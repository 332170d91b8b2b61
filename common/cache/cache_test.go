package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheRoundTrip(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "workflow:brief:1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "workflow:brief:1", []byte("doc"), time.Minute))
	val, ok, err := c.Get(ctx, "workflow:brief:1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("doc"), val)

	require.NoError(t, c.Delete(ctx, "workflow:brief:1"))
	_, ok, err = c.Get(ctx, "workflow:brief:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
