package flags

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

func TestDynamicFallsBackToDefault(t *testing.T) {
	store := kvstore.NewMemoryStore(clock.New())
	d := NewDynamic(store, nil, map[string]any{"web_fetch_enabled": false})

	v, err := d.Get(context.Background(), "web_fetch_enabled")
	require.NoError(t, err)
	require.Equal(t, false, v)
}

func TestDynamicSetGetReset(t *testing.T) {
	store := kvstore.NewMemoryStore(clock.New())
	d := NewDynamic(store, nil, map[string]any{"limit": float64(10)})
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "limit", float64(25)))
	v, err := d.Get(ctx, "limit")
	require.NoError(t, err)
	require.Equal(t, float64(25), v)

	require.NoError(t, d.Reset(ctx, "limit"))
	v, err = d.Get(ctx, "limit")
	require.NoError(t, err)
	require.Equal(t, float64(10), v)
}

func TestDynamicCacheServesStaleUntilTTL(t *testing.T) {
	fc := clock.NewFake(time.Now())
	store := kvstore.NewMemoryStore(fc)
	d := NewDynamic(store, fc, map[string]any{"x": "default"})
	ctx := context.Background()

	require.NoError(t, d.Set(ctx, "x", "fresh"))
	// Write directly to the store bypassing the cache to simulate another
	// process committing a change.
	require.NoError(t, store.Set(ctx, dynamicKey("x"), `"changed-elsewhere"`, 0))

	v, err := d.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "fresh", v, "cache should still serve the local value within TTL")

	fc.Advance(defaultCacheTTL + 1)
	v, err = d.Get(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, "changed-elsewhere", v)
}

func TestStableHashDeterministic(t *testing.T) {
	require.Equal(t, StableHash("user-123"), StableHash("user-123"))
}

func TestEvaluateTierAllowlist(t *testing.T) {
	def := Definition{DefaultValue: false, EnabledTiers: []string{"pro"}, Variants: []any{true}}
	v := Evaluate(def, UserContext{UserID: "u1", UserTier: "pro"})
	require.Equal(t, true, v)

	v = Evaluate(def, UserContext{UserID: "u1", UserTier: "free"})
	require.Equal(t, false, v)
}

func TestEvaluateRolloutPercentage(t *testing.T) {
	zero := 0
	def := Definition{DefaultValue: "off", RolloutPercentage: &zero, Variants: []any{"on"}}
	v := Evaluate(def, UserContext{UserID: "anyone"})
	require.Equal(t, "off", v, "0% rollout never enrolls")

	full := 100
	def.RolloutPercentage = &full
	v = Evaluate(def, UserContext{UserID: "anyone"})
	require.Equal(t, "on", v, "100% rollout always enrolls")
}
