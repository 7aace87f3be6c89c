package coordination

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

func backends(t *testing.T) map[string]kvstore.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]kvstore.Store{
		"memory": kvstore.NewMemoryStore(clock.New()),
		"redis":  kvstore.NewRedisStoreFromClient(client, nil),
	}
}

func TestLock_AcquireRelease(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			l1 := New(store, "reaper", DefaultConfig(), nil)
			ok, err := l1.TryAcquire(ctx)
			require.NoError(t, err)
			require.True(t, ok)
			require.True(t, l1.IsAcquired())

			l2 := New(store, "reaper", DefaultConfig(), nil)
			ok, err = l2.TryAcquire(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "a second holder must not acquire a lease already held")

			require.NoError(t, l1.Release(ctx))
			assert.False(t, l1.IsAcquired())

			ok, err = l2.TryAcquire(ctx)
			require.NoError(t, err)
			assert.True(t, ok, "the lease must be available once the holder releases it")
		})
	}
}

func TestLock_ReleaseByNonHolderIsNoop(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			holder := New(store, "reaper", DefaultConfig(), nil)
			ok, err := holder.TryAcquire(ctx)
			require.NoError(t, err)
			require.True(t, ok)

			stale := New(store, "reaper", DefaultConfig(), nil)
			require.NoError(t, stale.Release(ctx))

			another := New(store, "reaper", DefaultConfig(), nil)
			ok, err = another.TryAcquire(ctx)
			require.NoError(t, err)
			assert.False(t, ok, "release from a non-holder must not clear the real holder's lease")
		})
	}
}

func TestLock_Extend(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			cfg := DefaultConfig()
			cfg.TTL = 5 * time.Second
			l := New(store, "reaper", cfg, nil)
			ok, err := l.TryAcquire(ctx)
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, l.Extend(ctx, 10*time.Second))
			assert.Equal(t, 10*time.Second, l.ttl)
		})
	}
}

func TestLock_ExtendWithoutHoldingFails(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			l := New(store, "reaper", DefaultConfig(), nil)
			err := l.Extend(context.Background(), time.Second)
			assert.Error(t, err)
		})
	}
}

func TestLock_OnlyOneOfManyConcurrentAcquires(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const contenders = 8

			var wg sync.WaitGroup
			var mu sync.Mutex
			acquired := 0

			for i := 0; i < contenders; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					l := New(store, "sweep", DefaultConfig(), nil)
					ok, err := l.TryAcquire(ctx)
					require.NoError(t, err)
					if ok {
						mu.Lock()
						acquired++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()
			assert.Equal(t, 1, acquired)
		})
	}
}
