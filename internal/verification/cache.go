package verification

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

// CacheStats counts outcomes of every cache operation since construction.
// Read with Snapshot; the counters themselves are updated with atomic
// adds so concurrent verifications never race.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Sets    int64
	Errors  int64
	Expired int64
}

// RecordCache is the JSON-over-kvstore cache a verification Executor uses
// to store and retrieve Records. It exists separately from calling
// kvstore.Store directly so hit/miss/expiry counts are tracked in one
// place rather than duplicated at every call site.
type RecordCache struct {
	store  kvstore.Store
	logger *slog.Logger
	stats  CacheStats
}

// NewRecordCache constructs a RecordCache over store.
func NewRecordCache(store kvstore.Store, logger *slog.Logger) *RecordCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordCache{store: store, logger: logger}
}

// Get returns the cached Record for hash if present and not expired. A
// miss — whether because the key is absent, unreadable, or past its
// ExpiresAt — is never an error; it just means the caller should fetch
// fresh evidence.
func (c *RecordCache) Get(ctx context.Context, hash string) (*Record, bool) {
	raw, outcome, err := c.store.Get(ctx, cacheKey(hash))
	if err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.WarnContext(ctx, "verification cache: read failed", slog.Any("error", err))
		return nil, false
	}
	if outcome != kvstore.Success {
		atomic.AddInt64(&c.stats.Misses, 1)
		return nil, false
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		return nil, false
	}
	if time.Now().After(record.ExpiresAt) {
		atomic.AddInt64(&c.stats.Expired, 1)
		return nil, false
	}

	atomic.AddInt64(&c.stats.Hits, 1)
	return &record, true
}

// Set writes record under hash with ttl. A marshal failure is logged and
// swallowed — Verify must still return the record to its caller even if
// it cannot be cached.
func (c *RecordCache) Set(ctx context.Context, hash string, record *Record, ttl time.Duration) {
	raw, err := json.Marshal(record)
	if err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.WarnContext(ctx, "verification cache: marshal failed", slog.Any("error", err))
		return
	}
	if err := c.store.Set(ctx, cacheKey(hash), string(raw), ttl); err != nil {
		atomic.AddInt64(&c.stats.Errors, 1)
		c.logger.WarnContext(ctx, "verification cache: write failed", slog.Any("error", err))
		return
	}
	atomic.AddInt64(&c.stats.Sets, 1)
}

// Snapshot returns a point-in-time copy of the running counters.
func (c *RecordCache) Snapshot() CacheStats {
	return CacheStats{
		Hits:    atomic.LoadInt64(&c.stats.Hits),
		Misses:  atomic.LoadInt64(&c.stats.Misses),
		Sets:    atomic.LoadInt64(&c.stats.Sets),
		Errors:  atomic.LoadInt64(&c.stats.Errors),
		Expired: atomic.LoadInt64(&c.stats.Expired),
	}
}
