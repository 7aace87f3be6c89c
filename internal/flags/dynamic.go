package flags

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/clock"
	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

const defaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

// Dynamic implements named scalar flags mutable at runtime: each read
// checks a local short-TTL cache, then the KV store at
// flags:dynamic:<name>, then a compiled-in default.
//
// The local cache is a plain mutex-guarded map rather than golang-lru: a
// flag set is small and read-heavy, and a per-entry wall-clock TTL doesn't
// map cleanly onto lru's fixed-capacity eviction, so only the SSRF guard's
// DNS cache uses hashicorp/golang-lru; this one is a small bespoke struct
// over a mutex
// instead.
type Dynamic struct {
	store    kvstore.Store
	clock    clock.Clock
	cacheTTL time.Duration
	defaults map[string]any

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewDynamic constructs a Dynamic flag reader/writer. defaults supplies the
// compiled-in fallback for any flag never written to the store.
func NewDynamic(store kvstore.Store, c clock.Clock, defaults map[string]any) *Dynamic {
	if c == nil {
		c = clock.New()
	}
	return &Dynamic{
		store:    store,
		clock:    c,
		cacheTTL: defaultCacheTTL,
		defaults: defaults,
		cache:    make(map[string]cacheEntry),
	}
}

func dynamicKey(name string) string {
	return "flags:dynamic:" + name
}

// Get returns the current value for name: local cache if fresh, else the KV
// store, else the compiled default.
func (d *Dynamic) Get(ctx context.Context, name string) (any, error) {
	d.mu.Lock()
	if e, ok := d.cache[name]; ok && d.clock.Now().Before(e.expiresAt) {
		d.mu.Unlock()
		return e.value, nil
	}
	d.mu.Unlock()

	raw, outcome, err := d.store.Get(ctx, dynamicKey(name))
	if err != nil {
		return nil, err
	}
	if outcome != kvstore.Success {
		def := d.defaults[name]
		d.setCache(name, def)
		return def, nil
	}

	var value any
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		def := d.defaults[name]
		d.setCache(name, def)
		return def, nil
	}
	d.setCache(name, value)
	return value, nil
}

// Set writes the flag through to the KV store and refreshes the local
// cache so the writer immediately observes its own update.
func (d *Dynamic) Set(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := d.store.Set(ctx, dynamicKey(name), string(raw), 0); err != nil {
		return err
	}
	d.setCache(name, value)
	return nil
}

// Reset deletes the flag from the KV store and the local cache, reverting
// subsequent reads to the compiled default.
func (d *Dynamic) Reset(ctx context.Context, name string) error {
	if _, err := d.store.Delete(ctx, dynamicKey(name)); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.cache, name)
	d.mu.Unlock()
	return nil
}

func (d *Dynamic) setCache(name string, value any) {
	d.mu.Lock()
	d.cache[name] = cacheEntry{value: value, expiresAt: d.clock.Now().Add(d.cacheTTL)}
	d.mu.Unlock()
}
