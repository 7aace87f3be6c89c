package ssrfguard

import (
	"context"
	"encoding/json"
	"net"
	"net/netip"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitaliisemenov/trustcore/internal/apperr"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

type dnsCacheEntry struct {
	Addresses []string `json:"addresses"`
	TTLSecs   int64    `json:"ttlSecs"`
	CachedAt  int64    `json:"cachedAt"`
}

func dnsKey(hostname string) string { return "dns:v1:" + hostname }

// resolver performs a two-tier DNS cache: an L1 process-local LRU (cheap,
// avoids a round trip to the KV store for hot hostnames) backed by an L2
// entry in kvstore shared across instances. Go's standard resolver does
// not surface per-record TTLs, so the cache TTL used here is
// min(configured default, configured ceiling) rather than the
// authoritative per-record DNS TTL, which would be the ideal source.
type resolver struct {
	net   *net.Resolver
	store kvstore.Store
	l1    *lru.Cache[string, dnsCacheEntry]
	cfg   Policy
}

func newResolver(store kvstore.Store, cfg Policy) *resolver {
	l1, _ := lru.New[string, dnsCacheEntry](512)
	return &resolver{net: net.DefaultResolver, store: store, l1: l1, cfg: cfg}
}

// resolve returns every A/AAAA address for hostname, sorted by canonical
// text for reproducible tie-breaking downstream.
func (r *resolver) resolve(ctx context.Context, hostname string) ([]netip.Addr, error) {
	if e, ok := r.l1.Get(hostname); ok && !r.expired(e) {
		return parseAddrs(e.Addresses)
	}

	if raw, outcome, err := r.store.Get(ctx, dnsKey(hostname)); err == nil && outcome == kvstore.Success {
		var e dnsCacheEntry
		if json.Unmarshal([]byte(raw), &e) == nil && !r.expired(e) {
			r.l1.Add(hostname, e)
			return parseAddrs(e.Addresses)
		}
	}

	timeout := time.Duration(r.cfg.DNSTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	lookupCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ipAddrs, err := r.net.LookupIPAddr(lookupCtx, hostname)
	if err != nil {
		return nil, apperr.New(apperr.BackendUnavailable, "dns: lookup failed for "+hostname).WithCause(err)
	}
	if len(ipAddrs) == 0 {
		return nil, apperr.New(apperr.BackendUnavailable, "dns: no addresses for "+hostname)
	}

	addrs := make([]netip.Addr, 0, len(ipAddrs))
	texts := make([]string, 0, len(ipAddrs))
	for _, a := range ipAddrs {
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		addrs = append(addrs, addr)
		texts = append(texts, addr.String())
	}
	sort.Strings(texts)
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].String() < addrs[j].String() })

	ttl := r.cfg.DNSCacheDefaultS
	if r.cfg.DNSCacheCeilingS > 0 && ttl > r.cfg.DNSCacheCeilingS {
		ttl = r.cfg.DNSCacheCeilingS
	}
	if ttl <= 0 {
		ttl = 60
	}
	entry := dnsCacheEntry{Addresses: texts, TTLSecs: ttl, CachedAt: time.Now().Unix()}
	r.l1.Add(hostname, entry)
	if raw, err := json.Marshal(entry); err == nil {
		_ = r.store.Set(ctx, dnsKey(hostname), string(raw), time.Duration(ttl)*time.Second)
	}

	return addrs, nil
}

func (r *resolver) expired(e dnsCacheEntry) bool {
	return time.Now().Unix()-e.CachedAt >= e.TTLSecs
}

func parseAddrs(texts []string) ([]netip.Addr, error) {
	out := make([]netip.Addr, 0, len(texts))
	for _, t := range texts {
		a, err := netip.ParseAddr(t)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}
