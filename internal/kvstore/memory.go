package kvstore

import (
	"context"
	"hash/fnv"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/vitaliisemenov/trustcore/internal/apperr"
	"github.com/vitaliisemenov/trustcore/internal/clock"
)

const shardCount = 32

type shape int

const (
	shapeString shape = iota
	shapeList
	shapeSet
	shapeHash
)

type entry struct {
	shape     shape
	str       string
	list      []string
	set       map[string]struct{}
	hash      map[string]string
	expiresAt time.Time // zero means no TTL
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

type shard struct {
	mu   sync.Mutex
	data map[string]*entry
}

// MemoryStore is a striped in-memory Store: N independently-locked shards
// instead of one global mutex, for concurrency headroom under load. Safe
// for concurrent use by many goroutines.
type MemoryStore struct {
	shards [shardCount]*shard
	clock  clock.Clock
}

// NewMemoryStore creates an empty in-memory Store using the supplied clock
// (or the real wall clock if nil) to evaluate TTLs.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.New()
	}
	m := &MemoryStore{clock: c}
	for i := range m.shards {
		m.shards[i] = &shard{data: make(map[string]*entry)}
	}
	return m
}

func (m *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// getLocked returns the live (non-expired) entry for key, deleting it first
// if it has expired. Must be called with the shard already locked.
func (s *shard) getLocked(key string, now time.Time) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		delete(s.data, key)
		return nil
	}
	return e
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, Outcome, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		return "", Absent, nil
	}
	if e.shape != shapeString {
		return "", ShapeMismatch, nil
	}
	return e.str, Success, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{shape: shapeString, str: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	s.data[key] = e
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(key, m.clock.Now()) != nil, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		return apperr.New(apperr.Conflict, "kvstore: expire on absent key "+key)
	}
	e.expiresAt = m.clock.Now().Add(ttl)
	return nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		return AbsentTTL, nil
	}
	if e.expiresAt.IsZero() {
		return NoTTL, nil
	}
	remaining := e.expiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return int64(remaining.Seconds()), nil
}

func (m *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, 1)
}

func (m *MemoryStore) IncrBy(_ context.Context, key string, delta int64) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		e = &entry{shape: shapeString, str: "0"}
		s.data[key] = e
	}
	if e.shape != shapeString {
		return 0, ErrShapeMismatch(key)
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrNotInteger(key)
	}
	n += delta
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) listEntry(s *shard, key string, create bool) (*entry, error) {
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{shape: shapeList}
		s.data[key] = e
		return e, nil
	}
	if e.shape != shapeList {
		return nil, ErrShapeMismatch(key)
	}
	return e, nil
}

func (m *MemoryStore) LPush(_ context.Context, key string, values ...string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, true)
	if err != nil {
		return 0, err
	}
	for _, v := range values {
		e.list = append([]string{v}, e.list...)
	}
	return int64(len(e.list)), nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, true)
	if err != nil {
		return 0, err
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

func (m *MemoryStore) LPop(_ context.Context, key string) (string, Outcome, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, false)
	if err != nil {
		return "", ShapeMismatch, err
	}
	if e == nil || len(e.list) == 0 {
		return "", Absent, nil
	}
	v := e.list[0]
	e.list = e.list[1:]
	return v, Success, nil
}

func (m *MemoryStore) RPop(_ context.Context, key string) (string, Outcome, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, false)
	if err != nil {
		return "", ShapeMismatch, err
	}
	if e == nil || len(e.list) == 0 {
		return "", Absent, nil
	}
	last := len(e.list) - 1
	v := e.list[last]
	e.list = e.list[:last]
	return v, Success, nil
}

func normalizeRange(start, stop, length int64) (int64, int64) {
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	return start, stop
}

func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, false)
	if err != nil {
		return nil, err
	}
	if e == nil || len(e.list) == 0 {
		return []string{}, nil
	}
	length := int64(len(e.list))
	start, stop = normalizeRange(start, stop, length)
	if start > stop || start >= length {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) LLen(_ context.Context, key string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, false)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	return int64(len(e.list)), nil
}

func (m *MemoryStore) LTrim(_ context.Context, key string, start, stop int64) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, false)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	length := int64(len(e.list))
	if length == 0 {
		return nil
	}
	start, stop = normalizeRange(start, stop, length)
	if start > stop || start >= length {
		e.list = nil
		return nil
	}
	e.list = append([]string{}, e.list[start:stop+1]...)
	return nil
}

func (m *MemoryStore) LRem(_ context.Context, key string, count int64, value string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.listEntry(s, key, false)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	var removed int64
	out := make([]string, 0, len(e.list))
	if count >= 0 {
		limit := count
		for _, v := range e.list {
			if v == value && (limit == 0 || removed < limit) {
				removed++
				continue
			}
			out = append(out, v)
		}
	} else {
		limit := -count
		for i := len(e.list) - 1; i >= 0; i-- {
			v := e.list[i]
			if v == value && removed < limit {
				removed++
				continue
			}
			out = append([]string{v}, out...)
		}
	}
	e.list = out
	return removed, nil
}

func (m *MemoryStore) setEntry(s *shard, key string, create bool) (*entry, error) {
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{shape: shapeSet, set: make(map[string]struct{})}
		s.data[key] = e
		return e, nil
	}
	if e.shape != shapeSet {
		return nil, ErrShapeMismatch(key)
	}
	return e, nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.setEntry(s, key, true)
	if err != nil {
		return 0, err
	}
	var added int64
	for _, mem := range members {
		if _, ok := e.set[mem]; !ok {
			e.set[mem] = struct{}{}
			added++
		}
	}
	return added, nil
}

func (m *MemoryStore) SRem(_ context.Context, key string, members ...string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.setEntry(s, key, false)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	var removed int64
	for _, mem := range members {
		if _, ok := e.set[mem]; ok {
			delete(e.set, mem)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.setEntry(s, key, false)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return []string{}, nil
	}
	out := make([]string, 0, len(e.set))
	for mem := range e.set {
		out = append(out, mem)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.setEntry(s, key, false)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	_, ok := e.set[member]
	return ok, nil
}

func (m *MemoryStore) SCard(_ context.Context, key string) (int64, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.setEntry(s, key, false)
	if err != nil {
		return 0, err
	}
	if e == nil {
		return 0, nil
	}
	return int64(len(e.set)), nil
}

func (m *MemoryStore) hashEntry(s *shard, key string, create bool) (*entry, error) {
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		if !create {
			return nil, nil
		}
		e = &entry{shape: shapeHash, hash: make(map[string]string)}
		s.data[key] = e
		return e, nil
	}
	if e.shape != shapeHash {
		return nil, ErrShapeMismatch(key)
	}
	return e, nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) (string, Outcome, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.hashEntry(s, key, false)
	if err != nil {
		return "", ShapeMismatch, err
	}
	if e == nil {
		return "", Absent, nil
	}
	v, ok := e.hash[field]
	if !ok {
		return "", Absent, nil
	}
	return v, Success, nil
}

func (m *MemoryStore) HSet(_ context.Context, key, field, value string) error {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.hashEntry(s, key, true)
	if err != nil {
		return err
	}
	e.hash[field] = value
	return nil
}

func (m *MemoryStore) HDel(_ context.Context, key, field string) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.hashEntry(s, key, false)
	if err != nil {
		return false, err
	}
	if e == nil {
		return false, nil
	}
	if _, ok := e.hash[field]; !ok {
		return false, nil
	}
	delete(e.hash, field)
	return true, nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := m.hashEntry(s, key, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if e == nil {
		return out, nil
	}
	for k, v := range e.hash {
		out[k] = v
	}
	return out, nil
}

// Keys returns every live key matching an O(n) glob scan against all
// shards. Acceptable for the in-memory backend; the Redis backend uses a
// cursor SCAN to honor the same "MUST NOT block for more than O(index)
// time" invariant on the external store.
func (m *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	now := m.clock.Now()
	var out []string
	for _, s := range m.shards {
		s.mu.Lock()
		for k, e := range s.data {
			if e.expired(now) {
				delete(s.data, k)
				continue
			}
			if ok, _ := path.Match(pattern, k); ok {
				out = append(out, k)
			}
		}
		s.mu.Unlock()
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) FlushAll(context.Context) error {
	for _, s := range m.shards {
		s.mu.Lock()
		s.data = make(map[string]*entry)
		s.mu.Unlock()
	}
	return nil
}

// GetDelete is the single critical section for in-memory single-use reads:
// the shard's mutex serializes concurrent callers so exactly one observes
// Success.
func (m *MemoryStore) GetDelete(_ context.Context, key string) (string, Outcome, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		return "", Absent, nil
	}
	if e.shape != shapeString {
		return "", ShapeMismatch, nil
	}
	delete(s.data, key)
	return e.str, Success, nil
}

// CompareAndSwap is the in-memory half of the delivery CAS discipline: the
// shard lock makes the compare-then-write atomic.
func (m *MemoryStore) CompareAndSwap(_ context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	current := ""
	if e != nil {
		if e.shape != shapeString {
			return false, ErrShapeMismatch(key)
		}
		current = e.str
	}
	if current != oldValue {
		return false, nil
	}
	ne := &entry{shape: shapeString, str: newValue}
	if ttl > 0 {
		ne.expiresAt = m.clock.Now().Add(ttl)
	}
	s.data[key] = ne
	return true, nil
}

// CompareAndDelete is the in-memory half of the lock-release discipline:
// the shard lock makes the compare-then-delete atomic, so a holder can
// never clear a key a new holder has since acquired.
func (m *MemoryStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.getLocked(key, m.clock.Now())
	if e == nil {
		return false, nil
	}
	if e.shape != shapeString {
		return false, ErrShapeMismatch(key)
	}
	if e.str != expected {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

var _ Store = (*MemoryStore)(nil)
