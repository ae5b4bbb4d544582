package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/ticketpay/internal/clock"
)

// Fixed window counter. The first hit of a window sets the expiry; the
// window never slides while it is open.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`

// Store counts hits per key inside a window of length decay.
type Store interface {
	Hit(ctx context.Context, key string, decay time.Duration) (count int64, ttl time.Duration, err error)
}

type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (s *RedisStore) Hit(ctx context.Context, key string, decay time.Duration) (int64, time.Duration, error) {
	if s == nil || s.client == nil {
		return 0, 0, errors.New("rate limit store not configured")
	}
	if key == "" {
		return 0, 0, errors.New("rate limit key is empty")
	}
	if decay <= 0 {
		return 0, 0, errors.New("rate limit decay must be positive")
	}

	res, err := s.script.Run(ctx, s.client, []string{key}, decay.Milliseconds()).Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) < 2 {
		return 0, 0, errors.New("invalid rate limit script response")
	}
	return castToInt(res[0]), time.Duration(castToInt(res[1])) * time.Millisecond, nil
}

const memoryPruneThreshold = 4096

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

// MemoryStore keeps windows in process. It serves single-instance
// deployments and tests.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.Mutex
	windows map[string]memoryWindow
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryStore{
		clock:   clk,
		windows: make(map[string]memoryWindow),
	}
}

func (s *MemoryStore) Hit(_ context.Context, key string, decay time.Duration) (int64, time.Duration, error) {
	if key == "" {
		return 0, 0, errors.New("rate limit key is empty")
	}
	if decay <= 0 {
		return 0, 0, errors.New("rate limit decay must be positive")
	}

	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = memoryWindow{resetAt: now.Add(decay)}
		if len(s.windows) >= memoryPruneThreshold {
			s.pruneLocked(now)
		}
	}
	w.count++
	s.windows[key] = w
	return w.count, w.resetAt.Sub(now), nil
}

func (s *MemoryStore) pruneLocked(now time.Time) {
	for key, w := range s.windows {
		if !now.Before(w.resetAt) {
			delete(s.windows, key)
		}
	}
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
