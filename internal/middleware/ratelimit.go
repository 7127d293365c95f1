package middleware

import (
    "context"
    "fmt"
    "math"
    "strconv"
    "sync"
    "time"

    "github.com/labstack/echo/v4"
    "github.com/redis/go-redis/v9"
    "github.com/rs/zerolog/log"

    "github.com/iliyamo/gatekeeper/internal/apperror"
    "github.com/iliyamo/gatekeeper/internal/config"
    "github.com/iliyamo/gatekeeper/internal/metrics"
)

// WindowStore counts hits per key in fixed windows.  Hit increments the
// counter for key and returns the new count together with the time left in
// the current window.  The increment and the window start must be atomic.
type WindowStore interface {
    Hit(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// RateLimiter admits at most Limit requests per subject per Window.
type RateLimiter struct {
    store  WindowStore
    limit  int64
    window time.Duration
    prefix string
}

func NewRateLimiter(store WindowStore, limit int, window time.Duration, prefix string) *RateLimiter {
    if limit < 1 {
        limit = 1
    }
    if window <= 0 {
        window = time.Minute
    }
    return &RateLimiter{store: store, limit: int64(limit), window: window, prefix: prefix}
}

// NewRateLimiterFromConfig picks the backend named by cfg.Backend.  A nil
// rdb with the redis backend falls back to process memory.
func NewRateLimiterFromConfig(cfg config.RateLimitConfig, rdb *redis.Client) *RateLimiter {
    if !cfg.Enabled {
        return nil
    }
    var store WindowStore
    if cfg.Backend == "redis" && rdb != nil {
        store = NewRedisWindowStore(rdb)
    } else {
        store = NewMemoryWindowStore()
    }
    return NewRateLimiter(store, cfg.Limit, cfg.Window(), cfg.Prefix)
}

// RateLimit returns a guard enforcing l.  It sets X-RateLimit-Limit and
// X-RateLimit-Remaining on every counted request and Retry-After on
// rejections.  When the counter backend fails the request is let through.
// A nil limiter admits everything.
func RateLimit(l *RateLimiter) Guard {
    return func(c echo.Context) error {
        if l == nil {
            return nil
        }
        key := l.prefix + ":" + subjectKey(c)
        count, ttl, err := l.store.Hit(c.Request().Context(), key, l.window)
        if err != nil {
            metrics.RateLimitBackendErrorsTotal.Inc()
            log.Warn().Err(err).Str("key", key).Msg("ratelimit: counter unavailable, admitting request")
            return nil
        }

        remaining := l.limit - count
        if remaining < 0 {
            remaining = 0
        }
        h := c.Response().Header()
        h.Set("X-RateLimit-Limit", strconv.FormatInt(l.limit, 10))
        h.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))

        if count > l.limit {
            if ttl <= 0 {
                ttl = l.window
            }
            h.Set("Retry-After", strconv.Itoa(int(math.Ceil(ttl.Seconds()))))
            return apperror.RateLimited()
        }
        return nil
    }
}

// fixedWindowScript increments the counter and starts the window on the
// first hit.  A key found without expiry gets one.
var fixedWindowScript = redis.NewScript(`
    local count = redis.call('INCR', KEYS[1])
    if count == 1 then
        redis.call('PEXPIRE', KEYS[1], ARGV[1])
    end
    local ttl = redis.call('PTTL', KEYS[1])
    if ttl < 0 then
        redis.call('PEXPIRE', KEYS[1], ARGV[1])
        ttl = tonumber(ARGV[1])
    end
    return { count, ttl }
`)

// RedisWindowStore is a WindowStore on a single Redis counter per key.
type RedisWindowStore struct{ rdb redis.Scripter }

func NewRedisWindowStore(rdb redis.Scripter) *RedisWindowStore { return &RedisWindowStore{rdb: rdb} }

func (s *RedisWindowStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
    vals, err := fixedWindowScript.Run(ctx, s.rdb, []string{key}, window.Milliseconds()).Int64Slice()
    if err != nil {
        return 0, 0, err
    }
    if len(vals) != 2 {
        return 0, 0, fmt.Errorf("ratelimit: unexpected script result %v", vals)
    }
    return vals[0], time.Duration(vals[1]) * time.Millisecond, nil
}

// MemoryWindowStore is a process-local WindowStore.
type MemoryWindowStore struct {
    mu      sync.Mutex
    windows map[string]*memWindow
    now     func() time.Time
    hits    int
}

type memWindow struct {
    count   int64
    resetAt time.Time
}

func NewMemoryWindowStore() *MemoryWindowStore {
    return &MemoryWindowStore{windows: make(map[string]*memWindow), now: time.Now}
}

func (s *MemoryWindowStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    now := s.now()
    s.hits++
    if s.hits%1024 == 0 {
        s.sweep(now)
    }
    w, ok := s.windows[key]
    if !ok || !now.Before(w.resetAt) {
        w = &memWindow{resetAt: now.Add(window)}
        s.windows[key] = w
    }
    w.count++
    return w.count, w.resetAt.Sub(now), nil
}

// sweep drops expired windows.  s.mu must be held.
func (s *MemoryWindowStore) sweep(now time.Time) {
    for k, w := range s.windows {
        if !now.Before(w.resetAt) {
            delete(s.windows, k)
        }
    }
}
