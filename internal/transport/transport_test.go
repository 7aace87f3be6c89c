package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/trustcore/internal/ssrfguard"
)

func TestHostHeaderOmitsDefaultPort(t *testing.T) {
	require.Equal(t, "example.com", hostHeader(ssrfguard.TransportRequirements{Hostname: "example.com", Port: 443, UseTLS: true}))
	require.Equal(t, "example.com", hostHeader(ssrfguard.TransportRequirements{Hostname: "example.com", Port: 80, UseTLS: false}))
	require.Equal(t, "example.com:8443", hostHeader(ssrfguard.TransportRequirements{Hostname: "example.com", Port: 8443, UseTLS: true}))
}

func TestIsRedirect(t *testing.T) {
	require.True(t, isRedirect(301))
	require.True(t, isRedirect(307))
	require.False(t, isRedirect(200))
	require.False(t, isRedirect(404))
}

func TestNormalizeStripsFragment(t *testing.T) {
	require.Equal(t, normalize("https://example.com/a?b=1"), normalize("https://example.com/a?b=1#section"))
}

func TestPathOfDefaultsToRoot(t *testing.T) {
	require.Equal(t, "/", pathOf("https://example.com"))
	require.Equal(t, "/a/b", pathOf("https://example.com/a/b"))
}

func TestResolveRedirectRelative(t *testing.T) {
	next, err := resolveRedirect("https://example.com/a/b", "/c")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/c", next)
}

func TestVerifySPKIPinRejectsNoMatch(t *testing.T) {
	err := verifySPKIPin(nil, []string{"deadbeef"})
	require.Error(t, err)
}
