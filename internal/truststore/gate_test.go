package truststore

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

func TestGateAdmitDeniesBlockedUser(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	blocks := NewBlockStore(store)
	rateLimits := NewRateLimitStore(store)
	require.NoError(t, blocks.Block(ctx, "u1", "abuse", 3600000000000))

	gate := NewGate(blocks, rateLimits)
	decision, err := gate.Admit(ctx, AdmitRequest{UserID: "u1", WindowSeconds: 60, RateLimit: 10})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Contains(t, decision.Reason, "blocked")
}

func TestGateAdmitDeniesOverRateLimit(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	gate := NewGate(NewBlockStore(store), NewRateLimitStore(store))

	for i := 0; i < 3; i++ {
		decision, err := gate.Admit(ctx, AdmitRequest{UserID: "u2", WindowSeconds: 60, RateLimit: 3})
		require.NoError(t, err)
		require.True(t, decision.Allowed, "attempt %d should be allowed", i)
	}

	decision, err := gate.Admit(ctx, AdmitRequest{UserID: "u2", WindowSeconds: 60, RateLimit: 3})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, "rate_limited", decision.Reason)
}

func TestGateMiddlewareReturns429WhenBlocked(t *testing.T) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore(clock.New())
	blocks := NewBlockStore(store)
	require.NoError(t, blocks.Block(ctx, "u3", "abuse", 3600000000000))
	gate := NewGate(blocks, NewRateLimitStore(store))

	handler := gate.Middleware(60, 10)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Nova-User", "u3")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}
