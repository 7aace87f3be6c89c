// Package truststore implements small façades over kvstore for rate
// limiting, sessions, single-use ack tokens, user blocks, veto history, and
// audit logs, plus an admission-gate pipeline composing them.
package truststore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/kvstore"
)

// RateLimitStore implements a fixed-window request counter.
type RateLimitStore struct{ store kvstore.Store }

// NewRateLimitStore constructs a RateLimitStore.
func NewRateLimitStore(store kvstore.Store) *RateLimitStore { return &RateLimitStore{store: store} }

// RateLimitResult is the post-increment window state.
type RateLimitResult struct {
	Count    int64
	ResetsAt time.Time
}

// Increment atomically bumps the counter for subject's current window
// bucket, setting a TTL on first write so the window expires on its own.
func (s *RateLimitStore) Increment(ctx context.Context, subject string, windowSeconds int64) (RateLimitResult, error) {
	now := time.Now().Unix()
	bucket := now / windowSeconds
	key := "rate:" + subject + ":" + strconv.FormatInt(bucket, 10)

	count, err := s.store.Incr(ctx, key)
	if err != nil {
		return RateLimitResult{}, err
	}
	if count == 1 {
		if err := s.store.Expire(ctx, key, time.Duration(windowSeconds)*time.Second); err != nil {
			return RateLimitResult{}, err
		}
	}
	resetsAt := time.Unix((bucket+1)*windowSeconds, 0)
	return RateLimitResult{Count: count, ResetsAt: resetsAt}, nil
}

// SessionStore implements a hash-backed session façade.
type SessionStore struct{ store kvstore.Store }

// NewSessionStore constructs a SessionStore.
func NewSessionStore(store kvstore.Store) *SessionStore { return &SessionStore{store: store} }

func sessionKey(sessionID string) string { return "session:" + sessionID }

// Create writes the initial session hash with a TTL.
func (s *SessionStore) Create(ctx context.Context, sessionID string, fields map[string]string, ttl time.Duration) error {
	for field, value := range fields {
		if err := s.store.HSet(ctx, sessionKey(sessionID), field, value); err != nil {
			return err
		}
	}
	return s.store.Expire(ctx, sessionKey(sessionID), ttl)
}

// Get returns every field of a session.
func (s *SessionStore) Get(ctx context.Context, sessionID string) (map[string]string, error) {
	return s.store.HGetAll(ctx, sessionKey(sessionID))
}

// Update merges fields into an existing session without touching its TTL.
func (s *SessionStore) Update(ctx context.Context, sessionID string, fields map[string]string) error {
	for field, value := range fields {
		if err := s.store.HSet(ctx, sessionKey(sessionID), field, value); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a session entirely.
func (s *SessionStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.store.Delete(ctx, sessionKey(sessionID))
	return err
}

// AckTokenStore implements a single-use token façade.
type AckTokenStore struct{ store kvstore.Store }

// NewAckTokenStore constructs an AckTokenStore.
func NewAckTokenStore(store kvstore.Store) *AckTokenStore { return &AckTokenStore{store: store} }

func ackTokenKey(token string) string { return "ack:" + token }

// Save persists a token bound to a user with a TTL.
func (s *AckTokenStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	return s.store.Set(ctx, ackTokenKey(token), userID, ttl)
}

// Validate consumes token if it exists and belongs to userID, returning
// true exactly once across any number of concurrent callers — the delete
// is observed by every racing caller because CompareAndDelete is atomic on
// both backends. A token bound to another user is left in place.
func (s *AckTokenStore) Validate(ctx context.Context, token, userID string) (bool, error) {
	return s.store.CompareAndDelete(ctx, ackTokenKey(token), userID)
}

// BlockStore implements a user-block façade.
type BlockStore struct{ store kvstore.Store }

// NewBlockStore constructs a BlockStore.
func NewBlockStore(store kvstore.Store) *BlockStore { return &BlockStore{store: store} }

func blockKey(userID string) string { return "block:" + userID }

type blockRecord struct {
	Reason string `json:"reason"`
	Until  int64  `json:"until"`
}

// Block marks userID blocked with a reason and TTL.
func (s *BlockStore) Block(ctx context.Context, userID, reason string, ttl time.Duration) error {
	raw, err := json.Marshal(blockRecord{Reason: reason, Until: time.Now().Add(ttl).Unix()})
	if err != nil {
		return err
	}
	return s.store.Set(ctx, blockKey(userID), string(raw), ttl)
}

// Unblock removes a block immediately.
func (s *BlockStore) Unblock(ctx context.Context, userID string) error {
	_, err := s.store.Delete(ctx, blockKey(userID))
	return err
}

// BlockStatus is the result of an isBlocked check.
type BlockStatus struct {
	Blocked bool
	Reason  string
	Until   time.Time
}

// IsBlocked reports whether userID is currently blocked.
func (s *BlockStore) IsBlocked(ctx context.Context, userID string) (BlockStatus, error) {
	raw, outcome, err := s.store.Get(ctx, blockKey(userID))
	if err != nil {
		return BlockStatus{}, err
	}
	if outcome != kvstore.Success {
		return BlockStatus{}, nil
	}
	var rec blockRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return BlockStatus{}, err
	}
	return BlockStatus{Blocked: true, Reason: rec.Reason, Until: time.Unix(rec.Until, 0)}, nil
}

// VetoHistoryStore implements a fixed-window veto counter whose window
// starts at the first veto.
type VetoHistoryStore struct{ store kvstore.Store }

// NewVetoHistoryStore constructs a VetoHistoryStore.
func NewVetoHistoryStore(store kvstore.Store) *VetoHistoryStore {
	return &VetoHistoryStore{store: store}
}

func vetoKey(userID string) string { return "veto:" + userID }

// Track increments and returns the post-increment veto count for the
// current window, using RateLimitStore's TTL-on-first-write discipline on a
// single per-user key.
func (s *VetoHistoryStore) Track(ctx context.Context, userID string, window time.Duration) (int64, error) {
	key := vetoKey(userID)
	count, err := s.store.Incr(ctx, key)
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.store.Expire(ctx, key, window); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// GetCount reads the current veto count without incrementing.
func (s *VetoHistoryStore) GetCount(ctx context.Context, userID string) (int64, error) {
	raw, outcome, err := s.store.Get(ctx, vetoKey(userID))
	if err != nil {
		return 0, err
	}
	if outcome != kvstore.Success {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// AuditLogStore implements a capped append-only log façade.
type AuditLogStore struct {
	store     kvstore.Store
	maxLength int64
}

// NewAuditLogStore constructs an AuditLogStore capped to maxLength entries
// per list.
func NewAuditLogStore(store kvstore.Store, maxLength int64) *AuditLogStore {
	return &AuditLogStore{store: store, maxLength: maxLength}
}

// Log pushes entry onto both the per-user log and the global log, trimming
// each to maxLength on every push.
func (s *AuditLogStore) Log(ctx context.Context, userID, entry string) error {
	if _, err := s.store.LPush(ctx, "audit:user:"+userID, entry); err != nil {
		return err
	}
	if err := s.store.LTrim(ctx, "audit:user:"+userID, 0, s.maxLength-1); err != nil {
		return err
	}
	if _, err := s.store.LPush(ctx, "audit:global", entry); err != nil {
		return err
	}
	return s.store.LTrim(ctx, "audit:global", 0, s.maxLength-1)
}
