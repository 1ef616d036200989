package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/redis/go-redis/v9"
)

// hitScript increments a counter and manages its expiry in one round trip.
// While count <= limit the TTL slides to the window. The hit that first crosses
// the limit starts the block; later hits leave the block TTL alone so it lifts on time.
const hitScript = `
local count = redis.call("INCR", KEYS[1])
local limit = tonumber(ARGV[1])
if count <= limit then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
elseif count == limit + 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[3])
  ttl = tonumber(ARGV[3])
end
return {count, ttl}
`

var hitLua = redis.NewScript(hitScript)

// Counter is the state of a throttling counter right after a hit
type Counter struct {
	Count int64
	TTL   time.Duration
}

// Store wraps a Redis client with key namespacing, a per-call timeout and
// error mapping. Every failure to reach Redis surfaces as models.ErrStoreUnavailable.
type Store struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewStore creates a Store. timeout bounds every individual call.
func NewStore(client redis.UniversalClient, prefix string, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Store{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
	}
}

// Key builds a namespaced key from its parts
func (s *Store) Key(parts ...string) string {
	if s.prefix == "" {
		return strings.Join(parts, ":")
	}
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err)
}

// Hit atomically increments key and applies the window/block expiry policy
func (s *Store) Hit(ctx context.Context, key string, limit int64, window, block time.Duration) (Counter, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := hitLua.Run(ctx, s.client, []string{key}, limit, window.Milliseconds(), block.Milliseconds()).Int64Slice()
	if err != nil {
		return Counter{}, unavailable(err)
	}
	if len(res) != 2 {
		return Counter{}, unavailable(fmt.Errorf("unexpected hit reply length %d", len(res)))
	}

	return Counter{Count: res[0], TTL: time.Duration(res[1]) * time.Millisecond}, nil
}

// Get returns the raw value at key, or models.ErrNotFound
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return val, nil
}

// Set writes value at key with a TTL
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// SetIfAbsent writes value only when key does not exist (SET NX PX).
// It returns false when another writer got there first.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	err := s.client.SetArgs(ctx, key, value, redis.SetArgs{Mode: "NX", TTL: ttl}).Err()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, unavailable(err)
	}
	return true, nil
}

// Take reads and deletes key in one step, or returns models.ErrNotFound
func (s *Store) Take(ctx context.Context, key string) ([]byte, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.client.GetDel(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, models.ErrNotFound
		}
		return nil, unavailable(err)
	}
	return val, nil
}

// Exists reports whether key is present
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// Delete removes keys; missing keys are not an error
func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// TTL returns the remaining lifetime of key, or models.ErrNotFound
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	d, err := s.client.PTTL(ctx, key).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	// go-redis passes the -2 (missing) and -1 (no expiry) sentinels through unscaled
	if d == -2 {
		return 0, models.ErrNotFound
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// SetJSON marshals v and stores it with a TTL
func (s *Store) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data, ttl)
}

// GetJSON loads key into v, or returns models.ErrNotFound
func (s *Store) GetJSON(ctx context.Context, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// HealthCheck pings Redis
func (s *Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}
