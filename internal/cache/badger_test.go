package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	ID      string    `json:"id"`
	Count   int       `json:"count"`
	Created time.Time `json:"created"`
	Tags    []string  `json:"tags"`
}

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	in := record{ID: "abc", Count: 3, Created: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), Tags: []string{"a", "b"}}
	require.NoError(t, store.Set(ctx, "rec:abc", in, 0))

	var out record
	require.NoError(t, store.Get(ctx, "rec:abc", &out))
	assert.Equal(t, in, out)
}

func TestBadgerStore_GetMissing(t *testing.T) {
	store := newTestStore(t)

	var out record
	err := store.Get(context.Background(), "nope", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore_DelMissingIsNoop(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Del(context.Background(), "never-set"))
}

func TestBadgerStore_KeysByPrefix(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, "session:1", record{ID: "1"}, 0))
	require.NoError(t, store.Set(ctx, "session:2", record{ID: "2"}, time.Hour))
	require.NoError(t, store.Set(ctx, "cleanup:1", record{ID: "1"}, 0))

	keys, err := store.Keys(ctx, "session:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"session:1", "session:2"}, keys)

	require.NoError(t, store.Del(ctx, "session:1"))
	keys, err = store.Keys(ctx, "session:")
	require.NoError(t, err)
	assert.Equal(t, []string{"session:2"}, keys)
}

func TestBadgerStore_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a TTL to elapse")
	}
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Set(ctx, "short:1", record{ID: "1"}, time.Second))

	var out record
	require.NoError(t, store.Get(ctx, "short:1", &out))

	time.Sleep(2100 * time.Millisecond)

	assert.ErrorIs(t, store.Get(ctx, "short:1", &out), ErrNotFound)
	keys, err := store.Keys(ctx, "short:")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestBadgerStore_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Set(ctx, "k", record{}, 0), context.Canceled)
	_, err := store.Keys(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
