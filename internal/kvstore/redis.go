package kvstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vitaliisemenov/trustcore/internal/apperr"
)

// RedisConfig carries pool/timeout/retry settings for the Redis backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`

	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// DefaultRedisConfig returns sensible defaults for a local development
// Redis instance.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:            "localhost:6379",
		DB:              0,
		PoolSize:        10,
		MinIdleConns:    1,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	}
}

// RedisStore adapts github.com/redis/go-redis/v9 to the Store interface,
// using native Redis LIST/SET/HASH commands rather than flattening
// everything into JSON blobs, so shape mismatches surface as errors.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects to Redis and verifies reachability before
// returning.
func NewRedisStore(cfg *RedisConfig, logger *slog.Logger) (*RedisStore, error) {
	if cfg == nil {
		cfg = DefaultRedisConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		MaxRetries:      cfg.MaxRetries,
		MinRetryBackoff: cfg.MinRetryBackoff,
		MaxRetryBackoff: cfg.MaxRetryBackoff,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err, "addr", cfg.Addr)
		return nil, ErrBackendUnavailable("connect", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

// NewRedisStoreFromClient wraps an already-constructed client, used by
// tests against miniredis.
func NewRedisStoreFromClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, logger: logger}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func wrongTypeOutcome(err error) (Outcome, bool) {
	if err != nil && err.Error() == "WRONGTYPE Operation against a key holding the wrong kind of value" {
		return ShapeMismatch, true
	}
	return Success, false
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, Outcome, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", Absent, nil
	}
	if o, mismatch := wrongTypeOutcome(err); mismatch {
		return "", o, nil
	}
	if err != nil {
		return "", Success, ErrBackendUnavailable("get", err)
	}
	return val, Success, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return ErrBackendUnavailable("set", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Del(ctx, key).Result()
	if err != nil {
		return false, ErrBackendUnavailable("delete", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, ErrBackendUnavailable("exists", err)
	}
	return n > 0, nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return ErrBackendUnavailable("expire", err)
	}
	if !ok {
		return apperr.New(apperr.Conflict, "kvstore: expire on absent key "+key)
	}
	return nil
}

func (r *RedisStore) TTL(ctx context.Context, key string) (int64, error) {
	d, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("ttl", err)
	}
	switch d {
	case -1 * time.Second:
		return NoTTL, nil
	case -2 * time.Second:
		return AbsentTTL, nil
	}
	if d < 0 {
		return AbsentTTL, nil
	}
	return int64(d.Seconds()), nil
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	return r.IncrBy(ctx, key, 1)
}

func (r *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := r.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		if isNotIntegerErr(err) {
			return 0, ErrNotInteger(key)
		}
		return 0, ErrBackendUnavailable("incrby", err)
	}
	return n, nil
}

func isNotIntegerErr(err error) bool {
	return err != nil && (err.Error() == "ERR value is not an integer or out of range")
}

func (r *RedisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := r.client.LPush(ctx, key, toAny(values)...).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("lpush", err)
	}
	return n, nil
}

func (r *RedisStore) RPush(ctx context.Context, key string, values ...string) (int64, error) {
	n, err := r.client.RPush(ctx, key, toAny(values)...).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("rpush", err)
	}
	return n, nil
}

func toAny(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func (r *RedisStore) LPop(ctx context.Context, key string) (string, Outcome, error) {
	v, err := r.client.LPop(ctx, key).Result()
	if err == redis.Nil {
		return "", Absent, nil
	}
	if err != nil {
		return "", Success, ErrBackendUnavailable("lpop", err)
	}
	return v, Success, nil
}

func (r *RedisStore) RPop(ctx context.Context, key string) (string, Outcome, error) {
	v, err := r.client.RPop(ctx, key).Result()
	if err == redis.Nil {
		return "", Absent, nil
	}
	if err != nil {
		return "", Success, ErrBackendUnavailable("rpop", err)
	}
	return v, Success, nil
}

func (r *RedisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vs, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, ErrBackendUnavailable("lrange", err)
	}
	return vs, nil
}

func (r *RedisStore) LLen(ctx context.Context, key string) (int64, error) {
	n, err := r.client.LLen(ctx, key).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("llen", err)
	}
	return n, nil
}

func (r *RedisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := r.client.LTrim(ctx, key, start, stop).Err(); err != nil {
		return ErrBackendUnavailable("ltrim", err)
	}
	return nil
}

func (r *RedisStore) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	n, err := r.client.LRem(ctx, key, count, value).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("lrem", err)
	}
	return n, nil
}

func (r *RedisStore) SAdd(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := r.client.SAdd(ctx, key, toAny(members)...).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("sadd", err)
	}
	return n, nil
}

func (r *RedisStore) SRem(ctx context.Context, key string, members ...string) (int64, error) {
	n, err := r.client.SRem(ctx, key, toAny(members)...).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("srem", err)
	}
	return n, nil
}

func (r *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	vs, err := r.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, ErrBackendUnavailable("smembers", err)
	}
	return vs, nil
}

func (r *RedisStore) SIsMember(ctx context.Context, key, member string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, ErrBackendUnavailable("sismember", err)
	}
	return ok, nil
}

func (r *RedisStore) SCard(ctx context.Context, key string) (int64, error) {
	n, err := r.client.SCard(ctx, key).Result()
	if err != nil {
		return 0, ErrBackendUnavailable("scard", err)
	}
	return n, nil
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) (string, Outcome, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", Absent, nil
	}
	if err != nil {
		return "", Success, ErrBackendUnavailable("hget", err)
	}
	return v, Success, nil
}

func (r *RedisStore) HSet(ctx context.Context, key, field, value string) error {
	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return ErrBackendUnavailable("hset", err)
	}
	return nil
}

func (r *RedisStore) HDel(ctx context.Context, key, field string) (bool, error) {
	n, err := r.client.HDel(ctx, key, field).Result()
	if err != nil {
		return false, ErrBackendUnavailable("hdel", err)
	}
	return n > 0, nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, ErrBackendUnavailable("hgetall", err)
	}
	return m, nil
}

// Keys cursor-scans rather than issuing KEYS, honoring the "MUST NOT block
// the store for more than O(index) time" invariant.
func (r *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, ErrBackendUnavailable("scan", err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return ErrBackendUnavailable("ping", err)
	}
	return nil
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	if err := r.client.FlushAll(ctx).Err(); err != nil {
		return ErrBackendUnavailable("flushall", err)
	}
	return nil
}

// getDeleteScript performs the read-then-delete atomically server-side,
// the same compare-and-delete Lua-script pattern a distributed lock's
// release path uses.
const getDeleteScript = `
local v = redis.call("get", KEYS[1])
if v then
	redis.call("del", KEYS[1])
end
return v
`

func (r *RedisStore) GetDelete(ctx context.Context, key string) (string, Outcome, error) {
	res, err := r.client.Eval(ctx, getDeleteScript, []string{key}).Result()
	if err == redis.Nil {
		return "", Absent, nil
	}
	if err != nil {
		return "", Success, ErrBackendUnavailable("getdelete", err)
	}
	if res == nil {
		return "", Absent, nil
	}
	s, ok := res.(string)
	if !ok {
		return "", ShapeMismatch, nil
	}
	return s, Success, nil
}

// compareAndSwapScript is the same compare-then-act idiom as the
// distributed lock's Release/Extend scripts, generalized from "delete if
// equal" to "overwrite if equal (or absent)".
const compareAndSwapScript = `
local current = redis.call("get", KEYS[1])
if (current == false and ARGV[1] == "") or current == ARGV[1] then
	if tonumber(ARGV[3]) > 0 then
		redis.call("set", KEYS[1], ARGV[2], "EX", ARGV[3])
	else
		redis.call("set", KEYS[1], ARGV[2])
	end
	return 1
end
return 0
`

func (r *RedisStore) CompareAndSwap(ctx context.Context, key, oldValue, newValue string, ttl time.Duration) (bool, error) {
	res, err := r.client.Eval(ctx, compareAndSwapScript, []string{key}, oldValue, newValue, int64(ttl.Seconds())).Result()
	if err != nil {
		return false, ErrBackendUnavailable("cas", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

// compareAndDeleteScript deletes a key only if its value still matches
// what the caller last wrote, the same guard a lock release needs against
// a holder whose lease has since expired and been reacquired by someone
// else.
const compareAndDeleteScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

func (r *RedisStore) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	res, err := r.client.Eval(ctx, compareAndDeleteScript, []string{key}, expected).Result()
	if err != nil {
		return false, ErrBackendUnavailable("cad", err)
	}
	n, _ := res.(int64)
	return n == 1, nil
}

var _ Store = (*RedisStore)(nil)
