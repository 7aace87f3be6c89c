package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/domain"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

func TestCanonicalizeIsStableAcrossKeyOrder(t *testing.T) {
	a := CanonicalPayload{ID: "d1", Event: "goal.completed", Timestamp: 100, Data: map[string]any{"b": 1, "a": 2}, WebhookID: "w1", UserID: "u1", Attempt: 1}
	b := a
	bytesA, err := Canonicalize(a)
	require.NoError(t, err)
	bytesB, err := Canonicalize(b)
	require.NoError(t, err)
	require.Equal(t, bytesA, bytesB)
}

func TestSignerSignAndVerify(t *testing.T) {
	signer := NewHMACSigner()
	secret := []byte("0123456789abcdef0123456789abcdef")
	p := CanonicalPayload{ID: "d1", Event: "goal.completed", Timestamp: 100, Data: map[string]any{"x": 1.0}, WebhookID: "w1", UserID: "u1", Attempt: 1}

	sig, err := signer.Sign(secret, p)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	ok, err := signer.Verify(secret, p, sig)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = signer.Verify([]byte("wrong-secret-that-is-32-bytes!!!"), p, sig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPublishEnqueuesOneDeliveryPerSubscribedWebhook(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	queue := NewQueue(store)

	w := Webhook{
		ID: "w1", UserID: "u1", URL: "https://example.test/hook",
		Secret:  []byte("0123456789abcdef0123456789abcdef"),
		Events:  map[string]bool{"goal.completed": true},
		Status:  StatusActive,
		Options: DefaultOptions(),
	}
	require.NoError(t, queue.SaveWebhook(ctx, w))

	pub := NewPublisher(queue, NewHMACSigner())
	event := domain.NewWebhookEvent(uuid.NewString(), domain.GoalCompleted, "u1", map[string]any{"goalId": "g1"})
	deliveries, err := pub.Publish(ctx, event, "")
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	require.Equal(t, DeliveryPending, deliveries[0].Status)
}

func TestClaimNextIsSingleUseUnderCAS(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	queue := NewQueue(store)

	d := Delivery{ID: uuid.NewString(), WebhookID: "w1", UserID: "u1", URL: "https://example.test", Status: DeliveryPending, Attempt: 1, MaxAttempts: 4, ScheduledAt: time.Now()}
	require.NoError(t, queue.Enqueue(ctx, d))

	claimed, ok, err := queue.ClaimNext(ctx, "u1", time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, d.ID, claimed.ID)

	_, ok, err = queue.ClaimNext(ctx, "u1", time.Now())
	require.NoError(t, err)
	require.False(t, ok, "a second claim must not see the same delivery")
}

func TestBackoffDelayGrowsWithAttemptAndStaysBounded(t *testing.T) {
	for attempt := 1; attempt <= 4; attempt++ {
		d := backoffDelay(1000, 2, attempt)
		maxExpected := time.Duration(1000) * time.Millisecond
		for i := 1; i < attempt; i++ {
			maxExpected *= 2
		}
		require.True(t, d >= 0 && d <= maxExpected, "attempt %d delay %v should be within [0, %v]", attempt, d, maxExpected)
	}
}

type stubDispatcher struct {
	statuses []int
	calls    int
}

func (s *stubDispatcher) Dispatch(_ context.Context, _ string, _ http.Header, _ []byte) (int, []byte, int64, error) {
	status := s.statuses[s.calls]
	s.calls++
	return status, []byte("ok"), 5, nil
}

func TestEngineRetriesThenDelivers(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	queue := NewQueue(store)

	w := Webhook{
		ID: "w1", UserID: "u1", URL: "https://example.test/hook",
		Secret:  []byte("0123456789abcdef0123456789abcdef"),
		Events:  map[string]bool{"goal.completed": true},
		Status:  StatusActive,
		Options: Options{MaxRetries: 2, RetryDelayMs: 1, RetryBackoffMultiplier: 2, TimeoutMs: 1000},
	}
	require.NoError(t, queue.SaveWebhook(ctx, w))

	pub := NewPublisher(queue, NewHMACSigner())
	event := domain.NewWebhookEvent(uuid.NewString(), domain.GoalCompleted, "u1", map[string]any{"goalId": "g1"})
	_, err := pub.Publish(ctx, event, "")
	require.NoError(t, err)

	dispatcher := &stubDispatcher{statuses: []int{500, 500, 200}}
	engine := NewEngine(queue, dispatcher)

	for i := 0; i < 3; i++ {
		processed, err := engine.ProcessOne(ctx, "u1")
		require.NoError(t, err)
		require.True(t, processed, "iteration %d", i)
		time.Sleep(2 * time.Millisecond) // clear the jittered retry delay
	}

	ids, err := store.LRange(ctx, queueKey("u1"), 0, -1)
	require.NoError(t, err)
	require.Empty(t, ids, "delivered deliveries are removed from the active queue")

	updatedWebhook, ok, err := queue.GetWebhook(ctx, "w1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(0), updatedWebhook.Totals.ConsecutiveFailures)
	require.Equal(t, int64(1), updatedWebhook.Totals.Succeeded)
}
