package tier

import (
	"context"
	"testing"
	"time"

	"github.com/oakmist/strata/pkg/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_PutAndTryGet(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory(8)

	_, found, err := memory.TryGet(ctx, "va:user-1:latest")
	require.NoError(t, err)
	assert.False(t, found)

	stored := entry.New([]byte("analysis"), time.Minute, 2)
	require.NoError(t, memory.Put(ctx, "va:user-1:latest", stored))

	got, found, err := memory.TryGet(ctx, "va:user-1:latest")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("analysis"), got.Payload)
	assert.Equal(t, uint32(2), got.Insights)
}

func TestMemory_Remove(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory(4)
	require.NoError(t, memory.Put(ctx, "va:k", entry.New(nil, time.Minute, 0)))
	require.NoError(t, memory.Remove(ctx, "va:k"))
	_, found, err := memory.TryGet(ctx, "va:k")
	require.NoError(t, err)
	assert.False(t, found)

	// Removing an absent key is not an error.
	assert.NoError(t, memory.Remove(ctx, "va:absent"))
}

func TestMemory_RemoveByPrefix(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory(4)
	for _, key := range []string{"va:user-1:a", "va:user-1:b", "va:user-2:a", "rec:user-1:a"} {
		require.NoError(t, memory.Put(ctx, key, entry.New(nil, time.Minute, 1)))
	}

	removed, err := memory.RemoveByPrefix(ctx, "va:user-1:")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	keys, err := memory.ListKeys(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"va:user-2:a", "rec:user-1:a"}, keys)
}

func TestMemory_ListKeysIsSortedAndFiltered(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory(16)
	for _, key := range []string{"ca:z", "ca:a", "ca:m", "ds:a"} {
		require.NoError(t, memory.Put(ctx, key, entry.New(nil, time.Minute, 1)))
	}
	keys, err := memory.ListKeys(ctx, "ca:")
	require.NoError(t, err)
	assert.Equal(t, []string{"ca:a", "ca:m", "ca:z"}, keys)
}

func TestMemory_EntriesAreCopies(t *testing.T) {
	ctx := context.Background()
	memory := NewMemory(2)
	stored := entry.New([]byte("original"), time.Minute, 1)
	require.NoError(t, memory.Put(ctx, "va:k", stored))

	got, found, err := memory.TryGet(ctx, "va:k")
	require.NoError(t, err)
	require.True(t, found)
	got.Insights = 99 // Mutating the returned envelope must not affect the stored one.

	again, _, err := memory.TryGet(ctx, "va:k")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), again.Insights)
}
