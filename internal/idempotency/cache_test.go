// ABOUTME: Tests for the idempotency result cache.
// ABOUTME: Validates replay, TTL expiration, error retry, eviction and concurrent callers.

package idempotency

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache_DoReplaysResult(t *testing.T) {
	cache := New[string](5*time.Minute, 100)
	defer cache.Close()

	calls := 0
	fn := func() (string, error) {
		calls++
		return fmt.Sprintf("result-%d", calls), nil
	}

	v, replayed, err := cache.Do("key-1", fn)
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, "result-1", v)

	v, replayed, err = cache.Do("key-1", fn)
	require.NoError(t, err)
	assert.True(t, replayed)
	assert.Equal(t, "result-1", v)
	assert.Equal(t, 1, calls)
}

func TestCache_DoDoesNotCacheErrors(t *testing.T) {
	cache := New[int](5*time.Minute, 100)
	defer cache.Close()

	_, _, err := cache.Do("key-1", func() (int, error) {
		return 0, errors.New("store down")
	})
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())

	v, replayed, err := cache.Do("key-1", func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 7, v)
}

// remember records a value through Do and reports whether it was replayed.
func remember(t *testing.T, cache *Cache[int], key string, value int) (int, bool) {
	t.Helper()
	v, replayed, err := cache.Do(key, func() (int, error) { return value, nil })
	require.NoError(t, err)
	return v, replayed
}

func TestCache_Expired(t *testing.T) {
	cache := New[int](10*time.Millisecond, 100)
	defer cache.Close()

	remember(t, cache, "expiring-key", 1)

	v, replayed := remember(t, cache, "expiring-key", 99)
	assert.True(t, replayed)
	assert.Equal(t, 1, v)

	time.Sleep(20 * time.Millisecond)

	v, replayed = remember(t, cache, "expiring-key", 2)
	assert.False(t, replayed)
	assert.Equal(t, 2, v)
}

func TestCache_SizeLimit(t *testing.T) {
	cache := New[int](5*time.Minute, 3)
	defer cache.Close()

	for i := 1; i <= 4; i++ {
		remember(t, cache, fmt.Sprintf("key-%d", i), i)
	}
	assert.Equal(t, 3, cache.Len())

	_, replayed := remember(t, cache, "key-4", 0)
	assert.True(t, replayed)

	v, replayed := remember(t, cache, "key-1", 10)
	assert.False(t, replayed, "oldest key should be evicted")
	assert.Equal(t, 10, v)
	assert.Equal(t, 3, cache.Len())
}

func TestCache_ConcurrentDoRunsOnce(t *testing.T) {
	cache := New[int](5*time.Minute, 100)
	defer cache.Close()

	var calls atomic.Int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range 10 {
		wg.Go(func() {
			v, _, err := cache.Do("shared", func() (int, error) {
				calls.Add(1)
				<-release
				return 42, nil
			})
			assert.NoError(t, err)
			results[i] = v
		})
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 42, v)
	}
}

func TestCache_RunCleanup(t *testing.T) {
	cache := New[int](10*time.Millisecond, 100)
	defer cache.Close()

	remember(t, cache, "key-1", 1)
	remember(t, cache, "key-2", 2)

	time.Sleep(20 * time.Millisecond)
	cache.runCleanup()

	assert.Equal(t, 0, cache.Len())
}

func TestCache_CloseMultipleTimes(t *testing.T) {
	cache := New[int](5*time.Minute, 100)

	cache.Close()
	cache.Close()
}
