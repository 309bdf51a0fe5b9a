package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_IncrementWithExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()

	value, err := s.IncrementWithExpiry(ctx, "key", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)

	value, err = s.IncrementWithExpiry(ctx, "key", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)

	got, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(3), got)
}

func TestMemoryStore_Expiration(t *testing.T) {
	s := NewMemoryStoreWithCleanupInterval(10 * time.Millisecond)
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "key", 1, 20*time.Millisecond)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	_, err = s.Get(ctx, "key")
	assert.True(t, IsKeyNotFound(err))

	// A new increment after expiry restarts the counter.
	value, err := s.IncrementWithExpiry(ctx, "key", 1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), value)
}

func TestMemoryStore_GetMissingKey(t *testing.T) {
	s := NewMemoryStore()
	defer func() { require.NoError(t, s.Close()) }()

	_, err := s.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()

	_, err := s.IncrementWithExpiry(ctx, "key", 1, time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "key"))

	_, err = s.Get(ctx, "key")
	assert.True(t, IsKeyNotFound(err))
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore()
	defer func() { require.NoError(t, s.Close()) }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "key")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.IncrementWithExpiry(ctx, "key", 1, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore()
	defer func() { require.NoError(t, s.Close()) }()

	ctx := context.Background()
	const workers = 20
	const perWorker = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, err := s.IncrementWithExpiry(ctx, "key", 1, time.Minute)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	value, err := s.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), value)
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
