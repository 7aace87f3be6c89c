package ssrfguard

import (
	"context"
	"net/netip"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
	"github.com/vitaliisemenov/trustcore/internal/urlguard"
)

// Guard orchestrates URL parsing/classification plus DNS resolution and
// policy into a single transport decision. It is stateless except for the
// DNS cache.
type Guard struct {
	policy Policy
	dns    *resolver
}

// New constructs a Guard bound to the given KV store for DNS caching.
func New(store kvstore.Store, policy Policy) *Guard {
	return &Guard{policy: policy, dns: newResolver(store, policy)}
}

// Check runs the full SSRF decision pipeline against rawURL and returns a
// pinned transport decision or a deny reason. It performs no network I/O
// beyond DNS resolution (and its own cache writes).
func (g *Guard) Check(ctx context.Context, rawURL, requestPath string) Decision {
	start := time.Now()
	var checks []Check

	parsed, err := urlguard.ParseURL(rawURL)
	if err != nil {
		checks = append(checks, Check{Name: "parse_url", Passed: false, Details: err.Error()})
		return deny(DenyMalformedURL, "url could not be parsed", checks, start)
	}
	checks = append(checks, Check{Name: "parse_url", Passed: true})

	if urlguard.HasUserinfo(parsed) && !g.policy.AllowUserinfo {
		checks = append(checks, Check{Name: "userinfo", Passed: false})
		return deny(DenyUserinfoPresent, "userinfo component not allowed", checks, start)
	}
	checks = append(checks, Check{Name: "userinfo", Passed: true})

	port, perr := effectivePort(parsed)
	if perr != nil || !portAllowed(port, g.policy.AllowedPorts) {
		checks = append(checks, Check{Name: "port_policy", Passed: false})
		return deny(DenyPortNotAllowed, "port not permitted", checks, start)
	}
	checks = append(checks, Check{Name: "port_policy", Passed: true})

	if g.policy.BlockAlternateEncoding {
		if enc := urlguard.DetectAlternateEncoding(parsed.Hostname); enc.Detected {
			checks = append(checks, Check{Name: "alternate_encoding", Passed: false, Details: string(enc.Encoding)})
			return deny(DenyAlternateIPEncoding, "hostname uses an alternate IP encoding", checks, start)
		}
	}
	checks = append(checks, Check{Name: "alternate_encoding", Passed: true})

	if g.policy.BlockEmbeddedIP {
		if emb := urlguard.DetectEmbeddedIP(parsed.Hostname); emb.Detected {
			checks = append(checks, Check{Name: "embedded_ip", Passed: false})
			return deny(DenyEmbeddedIPInHostname, "hostname embeds an IP literal", checks, start)
		}
	}
	checks = append(checks, Check{Name: "embedded_ip", Passed: true})

	if g.policy.BlockIDN && parsed.IsIDN {
		checks = append(checks, Check{Name: "idn", Passed: false})
		return deny(DenyIDNHomograph, "internationalized hostnames not allowed", checks, start)
	}
	checks = append(checks, Check{Name: "idn", Passed: true})

	if matchesSuffixPattern(parsed.Hostname, g.policy.HostnameBlocklist) {
		checks = append(checks, Check{Name: "hostname_blocklist", Passed: false})
		return deny(DenyHostnameBlocked, "hostname is blocked", checks, start)
	}
	checks = append(checks, Check{Name: "hostname_blocklist", Passed: true})

	if len(g.policy.HostnameAllowlist) > 0 && !matchesSuffixPattern(parsed.Hostname, g.policy.HostnameAllowlist) {
		checks = append(checks, Check{Name: "hostname_allowlist", Passed: false})
		return deny(DenyHostnameNotInAllowlist, "hostname is not in the allowlist", checks, start)
	}
	checks = append(checks, Check{Name: "hostname_allowlist", Passed: true})

	var connectIP string
	if parsed.IsIPLiteral {
		// hostname here is already the canonical text ParseURL produced
		// via netip.Addr.String(), so re-parsing cannot fail.
		addr, _ := netip.ParseAddr(parsed.Hostname)
		result := urlguard.ClassifyIP(addr, toggles(g.policy))
		if !result.IsSafe {
			checks = append(checks, Check{Name: "ip_literal_safety", Passed: false, Details: string(result.Class)})
			return deny(DenyPrivateIP, "IP literal is not safe: "+string(result.Class), checks, start)
		}
		checks = append(checks, Check{Name: "ip_literal_safety", Passed: true})
		connectIP = result.Canonical
	} else {
		addrs, derr := g.dns.resolve(ctx, parsed.Hostname)
		if derr != nil {
			checks = append(checks, Check{Name: "dns_resolve", Passed: false, Details: derr.Error()})
			return deny(DenyDNSResolutionFailed, "dns resolution failed", checks, start)
		}
		checks = append(checks, Check{Name: "dns_resolve", Passed: true})

		for _, a := range addrs {
			result := urlguard.ClassifyIP(a, toggles(g.policy))
			if !result.IsSafe {
				checks = append(checks, Check{Name: "dns_address_safety", Passed: false, Details: string(result.Class)})
				return deny(DenyPrivateIP, "resolved address is not safe: "+string(result.Class), checks, start)
			}
		}
		checks = append(checks, Check{Name: "dns_address_safety", Passed: true})
		// Addresses are pre-sorted by canonical text so the pick is
		// deterministic and reproducible across runs.
		connectIP = urlguard.ClassifyIP(addrs[0], toggles(g.policy)).Canonical
	}

	transport := TransportRequirements{
		OriginalURL:      rawURL,
		ConnectToIP:      connectIP,
		Port:             port,
		UseTLS:           parsed.Scheme == "https",
		Hostname:         parsed.Hostname,
		RequestPath:      requestPath,
		MaxResponseBytes: g.policy.MaxResponseBytes,
		ConnectTimeoutMs: g.policy.ConnectTimeoutMs,
		ReadTimeoutMs:    g.policy.ReadTimeoutMs,
		AllowRedirects:   g.policy.AllowRedirects,
		MaxRedirects:     g.policy.MaxRedirects,
		CertificatePins:  g.policy.CertificatePins,
	}
	return allow(transport, checks, start)
}
