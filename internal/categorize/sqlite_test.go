package categorize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *SQLiteCache {
	t.Helper()
	cache, err := OpenSQLiteCache(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestSQLiteCache_PutGet(t *testing.T) {
	ctx := context.Background()
	cache := openTestCache(t)

	_, ok, err := cache.Get(ctx, "coffee shop|0-10|coffee shop")
	require.NoError(t, err)
	assert.False(t, ok)

	want := Result{Category: "dining", Tags: []string{"coffee"}, Confidence: 0.92}
	require.NoError(t, cache.Put(ctx, "coffee shop|0-10|coffee shop", want))

	got, ok, err := cache.Get(ctx, "coffee shop|0-10|coffee shop")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, *got)
}

func TestSQLiteCache_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	cache := openTestCache(t)

	require.NoError(t, cache.Put(ctx, "sig", Result{Category: "shopping", Tags: []string{}, Confidence: 0.4}))
	require.NoError(t, cache.Put(ctx, "sig", Result{Category: "groceries", Tags: []string{}, Confidence: 0.9}))

	got, ok, err := cache.Get(ctx, "sig")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "groceries", got.Category)
	assert.Equal(t, 0.9, got.Confidence)
}

func TestSQLiteCache_PruneKeepsRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache := openTestCache(t)

	for _, sig := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Put(ctx, sig, Result{Category: "dining", Tags: []string{}, Confidence: 1}))
	}
	// Touch "a" so it is the most recently used entry.
	_, ok, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	evicted, err := cache.Prune(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, evicted)

	_, ok, err = cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok, "most recently used entry survives pruning")
}
