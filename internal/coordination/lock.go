// Package coordination provides a kvstore-backed mutual-exclusion lock so
// multiple trustcore instances can agree on which one performs a
// single-writer job — reaping stuck webhook deliveries, rolling a rate
// limit window — without stepping on each other.
package coordination

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

// Config carries a lock's tunables.
type Config struct {
	TTL           time.Duration
	MaxRetries    int
	RetryInterval time.Duration
	ValuePrefix   string
}

// DefaultConfig returns sensible defaults for a short-lived leader lock.
func DefaultConfig() Config {
	return Config{
		TTL:           30 * time.Second,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
		ValuePrefix:   "lock",
	}
}

// Lock is a single named mutual-exclusion lock over a kvstore key. It
// holds no long-lived connection of its own — every operation is one or
// two Store calls — so it costs nothing to construct per attempt.
type Lock struct {
	store  kvstore.Store
	key    string
	value  string
	ttl    time.Duration
	cfg    Config
	logger *slog.Logger

	acquired bool
}

// New constructs a Lock bound to key. Every Lock has its own random
// holder value, so two Locks constructed for the same key never mistake
// each other's lease.
func New(store kvstore.Store, key string, cfg Config, logger *slog.Logger) *Lock {
	if cfg.TTL <= 0 {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		store:  store,
		key:    lockKey(key),
		value:  generateHolderValue(cfg.ValuePrefix),
		ttl:    cfg.TTL,
		cfg:    cfg,
		logger: logger,
	}
}

func lockKey(key string) string { return "lock:" + key }

func generateHolderValue(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// TryAcquire attempts to claim the lock once, returning immediately
// either way.
func (l *Lock) TryAcquire(ctx context.Context) (bool, error) {
	ok, err := l.store.CompareAndSwap(ctx, l.key, "", l.value, l.ttl)
	if err != nil {
		return false, fmt.Errorf("coordination: acquire %s: %w", l.key, err)
	}
	l.acquired = ok
	if ok {
		l.logger.DebugContext(ctx, "coordination: lock acquired", slog.String("key", l.key))
	}
	return ok, nil
}

// Acquire retries TryAcquire up to cfg.MaxRetries times with jittered
// backoff between attempts, giving up and returning false (not an error)
// once another holder still has the lease.
func (l *Lock) Acquire(ctx context.Context) (bool, error) {
	retries := l.cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	for attempt := 0; attempt <= retries; attempt++ {
		ok, err := l.TryAcquire(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if attempt == retries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.retryDelay(attempt)):
		}
	}
	return false, nil
}

func (l *Lock) retryDelay(attempt int) time.Duration {
	base := l.cfg.RetryInterval
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	jittered := float64(base) * (1 + 0.25*rand.Float64())
	return time.Duration(jittered) * time.Duration(attempt+1)
}

// Release gives up the lock if this Lock still holds it, using a
// compare-and-delete so a lease that expired and was reacquired by
// another holder is never clobbered.
func (l *Lock) Release(ctx context.Context) error {
	if !l.acquired {
		return nil
	}
	ok, err := l.store.CompareAndDelete(ctx, l.key, l.value)
	if err != nil {
		return fmt.Errorf("coordination: release %s: %w", l.key, err)
	}
	l.acquired = false
	if !ok {
		l.logger.WarnContext(ctx, "coordination: lock already expired or reacquired", slog.String("key", l.key))
	}
	return nil
}

// Extend renews the lease for newTTL. Only the current holder can extend
// it; a lease that has already been taken over by another holder fails.
func (l *Lock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("coordination: cannot extend a lock not held")
	}
	ok, err := l.store.CompareAndSwap(ctx, l.key, l.value, l.value, newTTL)
	if err != nil {
		return fmt.Errorf("coordination: extend %s: %w", l.key, err)
	}
	if !ok {
		l.acquired = false
		return fmt.Errorf("coordination: lease on %s was lost before it could be extended", l.key)
	}
	l.ttl = newTTL
	return nil
}

// IsAcquired reports whether this Lock currently believes it holds the lease.
func (l *Lock) IsAcquired() bool { return l.acquired }
