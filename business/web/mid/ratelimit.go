package mid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/carvexyz/carve/business/web/errs"
	"github.com/carvexyz/carve/foundation/web"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Limiter decides whether a request identified by key fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

// RateLimit rejects requests from a client once it has used up its limit
// for the window. The limit is read on every request so configuration
// refreshes apply immediately. Limiter failures let the request through.
//
// trustedProxies is the number of reverse proxies in front of the service.
// With zero the peer address identifies the client and X-Forwarded-For is
// ignored.
func RateLimit(log *zap.SugaredLogger, limiter Limiter, limit func() int, window time.Duration, trustedProxies int) web.Middleware {

	// This is the actual middleware function to be executed.
	m := func(handler web.Handler) web.Handler {

		// Create the handler that will be attached in the middleware chain.
		h := func(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
			key := clientIP(r, trustedProxies)

			allowed, retryAfter, err := limiter.Allow(ctx, key, limit(), window)
			if err != nil {
				log.Errorw("ratelimit", "status", "limiter unavailable, allowing", "client", key, "ERROR", err)
				return handler(ctx, w, r)
			}

			if !allowed {
				secs := int(retryAfter.Round(time.Second) / time.Second)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				return errs.NewTrusted(errors.New("too many requests"), http.StatusTooManyRequests)
			}

			// Call the next handler.
			return handler(ctx, w, r)
		}

		return h
	}

	return m
}

// clientIP identifies the caller. Each trusted proxy appends the address it
// received the request from, so the client is the hop trustedProxies places
// from the right. Anything further left was supplied by the caller.
func clientIP(r *http.Request, trustedProxies int) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if trustedProxies <= 0 {
		return host
	}

	var hops []string
	for _, v := range r.Header.Values("X-Forwarded-For") {
		for _, hop := range strings.Split(v, ",") {
			if hop = strings.TrimSpace(hop); hop != "" {
				hops = append(hops, hop)
			}
		}
	}

	if len(hops) < trustedProxies {
		return host
	}

	return hops[len(hops)-trustedProxies]
}

// =============================================================================

var redisFixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`)

// RedisLimiter counts requests per fixed window in Redis.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLimiter constructs a limiter backed by Redis.
func NewRedisLimiter(client redis.UniversalClient, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

// Allow implements the Limiter interface.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	if l.client == nil {
		return false, 0, errors.New("redis client is nil")
	}

	raw, err := redisFixedWindowScript.Run(ctx, l.client, []string{fmt.Sprintf("%s:%s", l.prefix, key)}, window.Milliseconds()).Result()
	if err != nil {
		return false, 0, err
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return false, 0, fmt.Errorf("unexpected redis script response type %T", raw)
	}

	count, ok1 := values[0].(int64)
	ttl, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return false, 0, errors.New("unexpected redis script response values")
	}

	if count > int64(limit) {
		return false, time.Duration(ttl) * time.Millisecond, nil
	}

	return true, 0, nil
}

// =============================================================================

// LocalLimiter counts requests per fixed window in process memory.
// Expired windows are swept at most once per window length.
type LocalLimiter struct {
	mu        sync.Mutex
	windows   map[string]localWindow
	nextSweep time.Time
}

type localWindow struct {
	count   int
	resetAt time.Time
}

// NewLocalLimiter constructs a process local limiter.
func NewLocalLimiter() *LocalLimiter {
	return &LocalLimiter{
		windows: make(map[string]localWindow),
	}
}

// Allow implements the Limiter interface.
func (l *LocalLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()

	if now.After(l.nextSweep) {
		for k, w := range l.windows {
			if now.After(w.resetAt) {
				delete(l.windows, k)
			}
		}
		l.nextSweep = now.Add(window)
	}

	win := l.windows[key]
	if now.After(win.resetAt) {
		win = localWindow{resetAt: now.Add(window)}
	}
	win.count++
	l.windows[key] = win

	if win.count > limit {
		return false, win.resetAt.Sub(now), nil
	}

	return true, 0, nil
}
