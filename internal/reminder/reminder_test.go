package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

type recordingSender struct {
	fail map[Channel]bool
	sent []Channel
}

func (r *recordingSender) Send(_ context.Context, channel Channel, _ Reminder) error {
	r.sent = append(r.sent, channel)
	if r.fail[channel] {
		return errTest
	}
	return nil
}

var errTest = &testErr{}

type testErr struct{}

func (e *testErr) Error() string { return "send failed" }

func TestProcessPendingSendsOnFirstEnabledChannel(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	sender := &recordingSender{fail: map[Channel]bool{ChannelPush: true}}
	sched := New(store, sender, nil, DefaultOptions())

	now := time.Now()
	r := Reminder{ID: "r1", UserID: "u1", ScheduledAt: now, EnabledChannels: map[string]bool{"push": true, "email": true}}
	require.NoError(t, sched.Enqueue(ctx, r))

	sent, err := sched.ProcessPending(ctx, "u1", now)
	require.NoError(t, err)
	require.Equal(t, 1, sent)
	require.Equal(t, []Channel{ChannelPush, ChannelEmail}, sender.sent)

	raw, outcome, err := store.Get(ctx, recordKey("r1"))
	require.NoError(t, err)
	require.Equal(t, kvstore.Success, outcome)
	require.Contains(t, raw, `"sent"`)
}

func TestProcessPendingSkipsStaleReminder(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	sender := &recordingSender{}
	sched := New(store, sender, nil, DefaultOptions())

	now := time.Now()
	r := Reminder{ID: "r2", UserID: "u1", ScheduledAt: now.Add(-3 * time.Hour), EnabledChannels: map[string]bool{"push": true}}
	require.NoError(t, sched.Enqueue(ctx, r))

	sent, err := sched.ProcessPending(ctx, "u1", now)
	require.NoError(t, err)
	require.Equal(t, 0, sent)
	require.Empty(t, sender.sent, "a stale reminder must never reach the sender")
}

func TestProcessPendingIsIdempotentAcrossDuplicateClaims(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	sender := &recordingSender{}
	sched := New(store, sender, nil, DefaultOptions())

	now := time.Now()
	r := Reminder{ID: "r3", UserID: "u1", ScheduledAt: now, EnabledChannels: map[string]bool{"push": true}}
	require.NoError(t, sched.Enqueue(ctx, r))

	_, err := sched.ProcessPending(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)

	// Re-enqueue the same id as if a second scheduler tick raced in; the
	// idempotent claim key must block a second send.
	require.NoError(t, sched.Enqueue(ctx, r))
	_, err = sched.ProcessPending(ctx, "u1", now)
	require.NoError(t, err)
	require.Len(t, sender.sent, 1, "second processing of the same reminder id must not send again")
}

func TestProcessPendingCapsSendsPerBatch(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	sender := &recordingSender{}
	sched := New(store, sender, nil, Options{MaxAge: 2 * time.Hour, MaxSendsPerBatch: 2})

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, sched.Enqueue(ctx, Reminder{ID: id, UserID: "u1", ScheduledAt: now, EnabledChannels: map[string]bool{"push": true}}))
	}

	sent, err := sched.ProcessPending(ctx, "u1", now)
	require.NoError(t, err)
	require.Equal(t, 2, sent, "batch cap must limit sends even with more due reminders")
}
