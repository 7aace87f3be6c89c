package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

func TestEventTypeCategory(t *testing.T) {
	require.Equal(t, "goal", GoalCompleted.Category())
	require.Equal(t, "chat", ChatMessageSent.Category())
}

func TestCascadeDeleteRemovesRecordAndIndexMembership(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())

	require.NoError(t, store.Set(ctx, "goal:g1", `{"id":"g1"}`, 0))
	_, err := store.SAdd(ctx, "goal:index:userA", "g1", "g2")
	require.NoError(t, err)

	require.NoError(t, CascadeDelete(ctx, store, "goal", "g1"))

	exists, err := store.Exists(ctx, "goal:g1")
	require.NoError(t, err)
	require.False(t, exists)

	members, err := store.SMembers(ctx, "goal:index:userA")
	require.NoError(t, err)
	require.NotContains(t, members, "g1")
	require.Contains(t, members, "g2")
}
