// Package ssrfguard orchestrates URL parsing, hostname policy, and DNS
// resolution into a single SSRFDecision that pins the exact IP the secure
// transport (internal/transport) is permitted to connect to.
package ssrfguard

import (
	"strconv"
	"strings"

	"github.com/vitaliisemenov/trustcore/internal/urlguard"
)

// Policy carries every toggle the guard consults — one field per
// configurable input to the SSRF decision pipeline.
type Policy struct {
	AllowPrivateIPs        bool
	AllowLoopback          bool
	BlockAlternateEncoding bool
	BlockEmbeddedIP        bool
	BlockIDN               bool
	AllowUserinfo          bool
	AllowedPorts           []int // empty means no allowlist restriction
	HostnameBlocklist      []string
	HostnameAllowlist      []string // empty means no allowlist restriction

	DNSTimeoutMs     int
	DNSCacheCeilingS int64
	DNSCacheDefaultS int64

	MaxResponseBytes int64
	ConnectTimeoutMs int
	ReadTimeoutMs    int
	AllowRedirects   bool
	MaxRedirects     int
	CertificatePins  []string
}

// DefaultPolicy follows a secure-by-default configuration idiom: private,
// loopback, alternate-encoding, embedded-IP and userinfo toggles start
// closed. Two start open: IDN hostnames are allowed (BlockIDN is false) and
// redirects are followed (AllowRedirects is true, up to MaxRedirects).
func DefaultPolicy() Policy {
	return Policy{
		BlockAlternateEncoding: true,
		BlockEmbeddedIP:        true,
		BlockIDN:               false,
		AllowUserinfo:          false,
		HostnameBlocklist: []string{
			"169.254.169.254",
			"metadata.google.internal",
			"metadata.internal",
			"instance-data",
			"localhost",
			"localhost.localdomain",
		},
		DNSTimeoutMs:     2000,
		DNSCacheCeilingS: 300,
		DNSCacheDefaultS: 60,
		MaxResponseBytes: 10 * 1024 * 1024,
		ConnectTimeoutMs: 3000,
		ReadTimeoutMs:    5000,
		AllowRedirects:   true,
		MaxRedirects:     3,
	}
}

func defaultPortForScheme(scheme string) int {
	if scheme == "https" {
		return 443
	}
	return 80
}

func effectivePort(parsed *urlguard.ParsedURL) (int, error) {
	if parsed.Port == "" {
		return defaultPortForScheme(parsed.Scheme), nil
	}
	return strconv.Atoi(parsed.Port)
}

func portAllowed(port int, allowlist []int) bool {
	if len(allowlist) == 0 {
		return true
	}
	for _, p := range allowlist {
		if p == port {
			return true
		}
	}
	return false
}

// matchesSuffixPattern implements the blocklist/allowlist matcher: a
// pattern matches exactly, or as a dot-bounded suffix ("foo" matches
// "sub.foo" but not "notfoo").
func matchesSuffixPattern(hostname string, patterns []string) bool {
	h := strings.ToLower(hostname)
	for _, p := range patterns {
		p = strings.ToLower(p)
		if h == p {
			return true
		}
		if strings.HasSuffix(h, "."+p) {
			return true
		}
	}
	return false
}

func toggles(p Policy) urlguard.SafetyToggles {
	return urlguard.SafetyToggles{AllowPrivate: p.AllowPrivateIPs, AllowLoopback: p.AllowLoopback}
}
