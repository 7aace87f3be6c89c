package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(clock.New()),
		"redis":  NewRedisStoreFromClient(client, nil),
	}
}

func TestStringShape(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, outcome, err := store.Get(ctx, "missing")
			require.NoError(t, err)
			require.Equal(t, Absent, outcome)

			require.NoError(t, store.Set(ctx, "k1", "v1", 0))
			v, outcome, err := store.Get(ctx, "k1")
			require.NoError(t, err)
			require.Equal(t, Success, outcome)
			require.Equal(t, "v1", v)

			existed, err := store.Delete(ctx, "k1")
			require.NoError(t, err)
			require.True(t, existed)

			existed, err = store.Delete(ctx, "k1")
			require.NoError(t, err)
			require.False(t, existed)
		})
	}
}

func TestTTLSentinels(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ttl, err := store.TTL(ctx, "absent")
			require.NoError(t, err)
			require.Equal(t, AbsentTTL, ttl)

			require.NoError(t, store.Set(ctx, "noexpiry", "v", 0))
			ttl, err = store.TTL(ctx, "noexpiry")
			require.NoError(t, err)
			require.Equal(t, NoTTL, ttl)

			require.NoError(t, store.Set(ctx, "withexpiry", "v", 10*time.Second))
			ttl, err = store.TTL(ctx, "withexpiry")
			require.NoError(t, err)
			require.Greater(t, ttl, int64(0))
			require.LessOrEqual(t, ttl, int64(10))
		})
	}
}

func TestIncr(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := store.Incr(ctx, "counter")
			require.NoError(t, err)
			require.Equal(t, int64(1), n)

			n, err = store.IncrBy(ctx, "counter", 4)
			require.NoError(t, err)
			require.Equal(t, int64(5), n)

			require.NoError(t, store.Set(ctx, "notanumber", "abc", 0))
			_, err = store.Incr(ctx, "notanumber")
			require.Error(t, err)
		})
	}
}

func TestListOps(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := store.RPush(ctx, "list", "a", "b", "c")
			require.NoError(t, err)
			require.Equal(t, int64(3), n)

			vs, err := store.LRange(ctx, "list", 0, -1)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b", "c"}, vs)

			v, outcome, err := store.LPop(ctx, "list")
			require.NoError(t, err)
			require.Equal(t, Success, outcome)
			require.Equal(t, "a", v)

			length, err := store.LLen(ctx, "list")
			require.NoError(t, err)
			require.Equal(t, int64(2), length)
		})
	}
}

func TestSetOps(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			n, err := store.SAdd(ctx, "set", "x", "y", "x")
			require.NoError(t, err)
			require.Equal(t, int64(2), n)

			ok, err := store.SIsMember(ctx, "set", "x")
			require.NoError(t, err)
			require.True(t, ok)

			card, err := store.SCard(ctx, "set")
			require.NoError(t, err)
			require.Equal(t, int64(2), card)
		})
	}
}

func TestHashOps(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			require.NoError(t, store.HSet(ctx, "h", "f1", "v1"))
			require.NoError(t, store.HSet(ctx, "h", "f2", "v2"))

			v, outcome, err := store.HGet(ctx, "h", "f1")
			require.NoError(t, err)
			require.Equal(t, Success, outcome)
			require.Equal(t, "v1", v)

			all, err := store.HGetAll(ctx, "h")
			require.NoError(t, err)
			require.Equal(t, map[string]string{"f1": "v1", "f2": "v2"}, all)
		})
	}
}

// TestGetDeleteSingleUse asserts invariant 6: of concurrent GetDelete
// callers on the same token, exactly one observes Success.
func TestGetDeleteSingleUse(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "tok1", "userA", time.Minute))

			const n = 20
			var wg sync.WaitGroup
			successes := make([]bool, n)
			wg.Add(n)
			for i := 0; i < n; i++ {
				go func(i int) {
					defer wg.Done()
					_, outcome, err := store.GetDelete(ctx, "tok1")
					require.NoError(t, err)
					successes[i] = outcome == Success
				}(i)
			}
			wg.Wait()

			count := 0
			for _, s := range successes {
				if s {
					count++
				}
			}
			require.Equal(t, 1, count)

			exists, err := store.Exists(ctx, "tok1")
			require.NoError(t, err)
			require.False(t, exists)
		})
	}
}

func TestCompareAndSwap(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			ok, err := store.CompareAndSwap(ctx, "delivery:1", "", "pending", 0)
			require.NoError(t, err)
			require.True(t, ok)

			ok, err = store.CompareAndSwap(ctx, "delivery:1", "pending", "in_progress", 0)
			require.NoError(t, err)
			require.True(t, ok)

			// A second worker racing the same transition loses.
			ok, err = store.CompareAndSwap(ctx, "delivery:1", "pending", "in_progress", 0)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestKeysGlob(t *testing.T) {
	for name, store := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, store.Set(ctx, "webhook:1", "a", 0))
			require.NoError(t, store.Set(ctx, "webhook:2", "b", 0))
			require.NoError(t, store.Set(ctx, "other:1", "c", 0))

			keys, err := store.Keys(ctx, "webhook:*")
			require.NoError(t, err)
			require.ElementsMatch(t, []string{"webhook:1", "webhook:2"}, keys)
		})
	}
}
