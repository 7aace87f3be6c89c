package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/flags"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

type stubFetcher struct {
	corroborates map[string]bool
}

func (s stubFetcher) Fetch(_ context.Context, _, sourceURL string) (bool, error) {
	return s.corroborates[sourceURL], nil
}

func TestClaimHashNormalizes(t *testing.T) {
	require.Equal(t, ClaimHash("The Sky Is Blue"), ClaimHash("  the   sky is blue  "))
}

func TestVerifyReturnsUnverifiableWhenDisabled(t *testing.T) {
	store := kvstore.NewMemoryStore(clock.New())
	e := New(store, stubFetcher{}, flags.Static{VerificationEnabled: false}, Config{})
	rec, err := e.Verify(context.Background(), "claim")
	require.NoError(t, err)
	require.Equal(t, Unverifiable, rec.Status)
	require.Equal(t, float64(0), rec.Confidence)
	require.NotEmpty(t, rec.ClaimHash)
}

func TestVerifyTrustedCorroborationYieldsVerified(t *testing.T) {
	store := kvstore.NewMemoryStore(clock.New())
	cfg := Config{
		MaxVerificationsPerRequest: 2,
		MaxConcurrentVerifications: 2,
		CacheTTL:                   time.Minute,
		TrustedSources:             []string{"trusted.test"},
	}
	fetcher := stubFetcher{corroborates: map[string]bool{"https://trusted.test/search?q=the sky is blue": true}}
	e := New(store, fetcher, flags.Static{VerificationEnabled: true}, cfg)

	rec, err := e.Verify(context.Background(), "the sky is blue")
	require.NoError(t, err)
	require.Equal(t, Verified, rec.Status)
	require.Greater(t, rec.Confidence, 0.0)
}

func TestVerifyUsesCacheOnSecondCall(t *testing.T) {
	store := kvstore.NewMemoryStore(clock.New())
	cfg := Config{MaxVerificationsPerRequest: 1, MaxConcurrentVerifications: 1, CacheTTL: time.Minute, GeneralSources: []string{"general.test"}}
	calls := 0
	fetcher := countingFetcher{n: &calls}
	e := New(store, fetcher, flags.Static{VerificationEnabled: true}, cfg)

	_, err := e.Verify(context.Background(), "claim one")
	require.NoError(t, err)
	_, err = e.Verify(context.Background(), "claim one")
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second call should be served from cache")
}

type countingFetcher struct{ n *int }

func (c countingFetcher) Fetch(_ context.Context, _, _ string) (bool, error) {
	*c.n++
	return true, nil
}
