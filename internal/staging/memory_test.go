package staging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("v"), value)

	require.NoError(t, store.Del(ctx, "k"))

	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStoreMissingKey(t *testing.T) {
	store := NewMemoryStore()

	value, found, err := store.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, value)

	// Deleting an absent key is not an error.
	require.NoError(t, store.Del(context.Background(), "absent"))
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Minute))

	now = now.Add(10*time.Minute - time.Second)
	_, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)

	// At exactly the expiry instant the entry behaves as absent.
	now = now.Add(time.Second)
	_, found, err = store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMemoryStoreOverwriteResetsTTL(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("old"), time.Minute))
	now = now.Add(50 * time.Second)
	require.NoError(t, store.Set(ctx, "k", []byte("new"), time.Minute))

	now = now.Add(30 * time.Second)
	value, found, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, []byte("new"), value)
}
