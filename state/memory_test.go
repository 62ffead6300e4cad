package state

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryManagerCache(t *testing.T) {
	t.Run("save and load round-trip", func(t *testing.T) {
		mockClock := clock.NewMock()
		manager, cleanup := newMemoryManagerWithClock(1<<20, mockClock)
		defer cleanup()

		ctx := context.Background()
		value := []byte(`{"id":"chatcmpl-abc"}`)
		require.NoError(t, manager.SaveCache(ctx, "exact:default:sig:hash", value, 300*time.Second))

		loaded, err := manager.LoadCache(ctx, "exact:default:sig:hash")
		require.NoError(t, err)
		assert.Equal(t, value, loaded)
	})

	t.Run("missing key reads as absent", func(t *testing.T) {
		mockClock := clock.NewMock()
		manager, cleanup := newMemoryManagerWithClock(1<<20, mockClock)
		defer cleanup()

		loaded, err := manager.LoadCache(context.Background(), "never-written")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("expired key reads as absent", func(t *testing.T) {
		mockClock := clock.NewMock()
		manager, cleanup := newMemoryManagerWithClock(1<<20, mockClock)
		defer cleanup()

		ctx := context.Background()
		require.NoError(t, manager.SaveCache(ctx, "key", []byte("value"), 300*time.Second))

		mockClock.Add(299 * time.Second)
		loaded, err := manager.LoadCache(ctx, "key")
		require.NoError(t, err)
		assert.NotNil(t, loaded)

		mockClock.Add(2 * time.Second)
		loaded, err = manager.LoadCache(ctx, "key")
		require.NoError(t, err)
		assert.Nil(t, loaded)
	})

	t.Run("overwrite replaces the entry", func(t *testing.T) {
		mockClock := clock.NewMock()
		manager, cleanup := newMemoryManagerWithClock(1<<20, mockClock)
		defer cleanup()

		ctx := context.Background()
		require.NoError(t, manager.SaveCache(ctx, "key", []byte("old"), time.Minute))
		require.NoError(t, manager.SaveCache(ctx, "key", []byte("new"), time.Minute))

		loaded, err := manager.LoadCache(ctx, "key")
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), loaded)
	})

	t.Run("eviction removes the least read entry first", func(t *testing.T) {
		mockClock := clock.NewMock()
		// Room for two entries of this size but not three.
		entrySize := cacheSize("a", []byte("0123456789"))
		manager, cleanup := newMemoryManagerWithClock(2*entrySize, mockClock)
		defer cleanup()

		ctx := context.Background()
		require.NoError(t, manager.SaveCache(ctx, "a", []byte("0123456789"), time.Hour))
		require.NoError(t, manager.SaveCache(ctx, "b", []byte("0123456789"), time.Hour))

		// Reading "a" makes "b" the eviction candidate.
		_, err := manager.LoadCache(ctx, "a")
		require.NoError(t, err)

		require.NoError(t, manager.SaveCache(ctx, "c", []byte("0123456789"), time.Hour))

		loaded, err := manager.LoadCache(ctx, "b")
		require.NoError(t, err)
		assert.Nil(t, loaded, "least read entry should have been evicted")

		loaded, err = manager.LoadCache(ctx, "a")
		require.NoError(t, err)
		assert.NotNil(t, loaded)

		loaded, err = manager.LoadCache(ctx, "c")
		require.NoError(t, err)
		assert.NotNil(t, loaded)
	})

	t.Run("value larger than the budget fails", func(t *testing.T) {
		mockClock := clock.NewMock()
		manager, cleanup := newMemoryManagerWithClock(64, mockClock)
		defer cleanup()

		err := manager.SaveCache(context.Background(), "key", []byte("value"), time.Minute)
		assert.Error(t, err)
	})

	t.Run("cleanup sweeps expired entries", func(t *testing.T) {
		mockClock := clock.NewMock()
		manager, cleanup := newMemoryManagerWithClock(1<<20, mockClock)
		defer cleanup()

		ctx := context.Background()
		require.NoError(t, manager.SaveCache(ctx, "stale", []byte("value"), time.Second))
		require.NoError(t, manager.SaveCache(ctx, "fresh", []byte("value"), time.Hour))

		mockClock.Add(2 * time.Second)
		manager.cleanup()

		manager.cacheMu.Lock()
		_, staleExists := manager.cache["stale"]
		_, freshExists := manager.cache["fresh"]
		manager.cacheMu.Unlock()

		assert.False(t, staleExists)
		assert.True(t, freshExists)
	})
}

func TestMemoryManagerIncrement(t *testing.T) {
	t.Run("counters start from zero", func(t *testing.T) {
		manager, cleanup := NewMemoryManager(1 << 20)
		defer cleanup()

		count, err := manager.Increment(context.Background(), "metrics:cache_exact_hit:default")
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("counters are independent per key", func(t *testing.T) {
		manager, cleanup := NewMemoryManager(1 << 20)
		defer cleanup()

		ctx := context.Background()
		for i := 0; i < 3; i++ {
			_, err := manager.Increment(ctx, "metrics:cache_exact_miss:default")
			require.NoError(t, err)
		}

		missCount, err := manager.Increment(ctx, "metrics:cache_exact_miss:default")
		require.NoError(t, err)
		assert.Equal(t, int64(4), missCount)

		hitCount, err := manager.Increment(ctx, "metrics:cache_exact_hit:default")
		require.NoError(t, err)
		assert.Equal(t, int64(1), hitCount)
	})

	t.Run("concurrent increments do not lose updates", func(t *testing.T) {
		manager, cleanup := NewMemoryManager(1 << 20)
		defer cleanup()

		ctx := context.Background()
		done := make(chan error, 10)
		for i := 0; i < 10; i++ {
			go func() {
				_, err := manager.Increment(ctx, "counter")
				done <- err
			}()
		}
		for i := 0; i < 10; i++ {
			require.NoError(t, <-done)
		}

		count, err := manager.Increment(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, int64(11), count)
	})
}

func TestCacheSizeAccounting(t *testing.T) {
	assert.Equal(t, int64(cacheEntryOverhead+3+5), cacheSize("key", []byte("value")))
	assert.Equal(t, int64(cacheEntryOverhead), cacheSize("", nil))
}
