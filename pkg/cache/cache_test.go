package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("x"), 0))

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "k")
	assert.False(t, ok, "entry expires at its ttl")

	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_CopiesValues(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()

	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'z'

	got, _, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), got)
}

func TestJSONHelpers(t *testing.T) {
	type point struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	}
	ctx := context.Background()
	c := Instrumented("test", NewMemoryCache())

	_, ok, err := GetJSON[point](ctx, c, "p")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, SetJSON(ctx, c, "p", point{Lat: 55.75, Lon: 37.61}, 0))
	got, ok, err := GetJSON[point](ctx, c, "p")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, point{Lat: 55.75, Lon: 37.61}, got)

	require.NoError(t, c.Set(ctx, "bad", []byte("{"), 0))
	_, ok, err = GetJSON[point](ctx, c, "bad")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestEntityLockKey(t *testing.T) {
	assert.Equal(t, "entity:u1", EntityLockKey("u1"))
}

func TestMemoryLocker(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLocker()

	t.Run("runs fn and releases", func(t *testing.T) {
		calls := 0
		require.NoError(t, l.WithLock(ctx, "a", time.Second, func() error { calls++; return nil }))
		require.NoError(t, l.WithLock(ctx, "a", time.Second, func() error { calls++; return nil }))
		assert.Equal(t, 2, calls)
	})

	t.Run("held key fails fast", func(t *testing.T) {
		err := l.WithLock(ctx, "b", time.Second, func() error {
			return l.WithLock(ctx, "b", time.Second, func() error { return nil })
		})
		assert.ErrorIs(t, err, ErrLockNotAcquired)
	})

	t.Run("fn error is returned and lock released", func(t *testing.T) {
		boom := errors.New("boom")
		assert.ErrorIs(t, l.WithLock(ctx, "c", time.Second, func() error { return boom }), boom)
		assert.NoError(t, l.WithLock(ctx, "c", time.Second, func() error { return nil }))
	})

	t.Run("distinct keys run concurrently", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs[i] = l.WithLock(ctx, EntityLockKey(string(rune('a'+i))), time.Second, func() error { return nil })
			}(i)
		}
		wg.Wait()
		for _, err := range errs {
			assert.NoError(t, err)
		}
	})
}
