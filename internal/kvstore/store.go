// Package kvstore is the typed key/value abstraction every other component
// in trustcore is built on: strings with TTL, lists, sets, hashes, atomic
// counters, and a glob key scan. A key belongs to exactly one shape at a
// time; Set replaces an existing key of any shape, while a list, set, hash
// or counter write over a key of a different shape fails with
// ErrShapeMismatch. Two backends implement Store: an in-memory one for
// tests and single-process deployments, and a Redis-backed one for
// everything else.
package kvstore

import (
	"context"
	"time"
)

// Outcome distinguishes "it worked", "the key wasn't there", and "the key
// exists but holds a different shape" from a transport/backend error, which
// is always returned as a non-nil error instead of an Outcome.
type Outcome int

const (
	Success Outcome = iota
	Absent
	ShapeMismatch
)

// No-TTL and absent-key sentinels for TTL.
const (
	NoTTL     int64 = -1
	AbsentTTL int64 = -2
)

// Store is the full KV contract. Every method may suspend on backend I/O;
// callers that need a deadline should put one on ctx.
type Store interface {
	Get(ctx context.Context, key string) (string, Outcome, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (int64, error)

	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, delta int64) (int64, error)

	LPush(ctx context.Context, key string, values ...string) (int64, error)
	RPush(ctx context.Context, key string, values ...string) (int64, error)
	LPop(ctx context.Context, key string) (string, Outcome, error)
	RPop(ctx context.Context, key string) (string, Outcome, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)

	SAdd(ctx context.Context, key string, members ...string) (int64, error)
	SRem(ctx context.Context, key string, members ...string) (int64, error)
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	HGet(ctx context.Context, key, field string) (string, Outcome, error)
	HSet(ctx context.Context, key, field, value string) error
	HDel(ctx context.Context, key, field string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)

	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
	FlushAll(ctx context.Context) error

	// GetDelete performs an atomic read-then-delete of a string key. On the
	// memory backend
	// this is one critical section; on Redis it is a Lua script, the same
	// compare-and-act pattern a distributed lock's release uses.
	GetDelete(ctx context.Context, key string) (string, Outcome, error)

	// CompareAndSwap writes newValue only if the current value equals
	// oldValue (or the key is absent and oldValue == ""), returning whether
	// the swap happened. Used for claiming deliveries exactly once.
	CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error)

	// CompareAndDelete deletes key only if its current value equals
	// expected, returning whether the delete happened. A lock release must
	// never clear a key another holder has since reacquired; this is the
	// primitive that keeps that race out.
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
}
