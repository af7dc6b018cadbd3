package kv_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/email2sms-relay/internal/kv"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMemory_PutGetDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemory(kv.WithCleanupInterval(0))
	defer store.Close()

	got, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, store.Put(ctx, "k", []byte("v1"), 0))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, store.Put(ctx, "k", []byte("v2"), 0))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)

	require.NoError(t, store.Delete(ctx, "k"))
	got, err = store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, store.Delete(ctx, "never-set"))
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemory(kv.WithCleanupInterval(0))
	defer store.Close()

	value := []byte("abc")
	require.NoError(t, store.Put(ctx, "k", value, 0))
	value[0] = 'x'

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)

	got[1] = 'y'
	again, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), again)
}

func TestMemory_TTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	store := kv.NewMemory(kv.WithCleanupInterval(0), kv.WithClock(clock.Now))
	defer store.Close()

	require.NoError(t, store.Put(ctx, "short", []byte("1"), time.Minute))
	require.NoError(t, store.Put(ctx, "forever", []byte("2"), 0))

	clock.Advance(59 * time.Second)
	got, err := store.Get(ctx, "short")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)

	clock.Advance(time.Second)
	got, err = store.Get(ctx, "short")
	require.NoError(t, err)
	assert.Nil(t, got, "key must expire exactly at its TTL")

	got, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, []byte("2"), got)
}

func TestMemory_CleanupRemovesExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemory(kv.WithCleanupInterval(10 * time.Millisecond))
	defer store.Close()

	require.NoError(t, store.Put(ctx, "gone", []byte("1"), time.Millisecond))
	require.NoError(t, store.Put(ctx, "kept", []byte("2"), 0))

	assert.Eventually(t, func() bool {
		return store.Len() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestMemory_CloseTwice(t *testing.T) {
	t.Parallel()

	store := kv.NewMemory()
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestMemory_Concurrent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := kv.NewMemory(kv.WithCleanupInterval(0))
	defer store.Close()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c"}[i%3]
			_ = store.Put(ctx, key, []byte{byte(i)}, time.Minute)
			_, _ = store.Get(ctx, key)
			if i%10 == 0 {
				_ = store.Delete(ctx, key)
			}
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, store.Len(), 3)
}

var (
	_ kv.Store = (*kv.Memory)(nil)
	_ kv.Store = (*kv.Redis)(nil)
)
