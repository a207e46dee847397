// Package rate implementa rate limiting de ventana fija, en Redis o en memoria.
package rate

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/passgate/internal/cache"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	WindowTTL   time.Duration
	CurrentHits int64
}

type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// Policy es un límite por ventana.
type Policy struct {
	Max    int
	Window time.Duration
}

func sanitize(key string) string { return strings.ReplaceAll(key, " ", "_") }

func result(hits, max int64, ttl, window time.Duration) Result {
	remaining := max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: hits <= max, Remaining: remaining, CurrentHits: hits, WindowTTL: ttl}
	if !res.Allowed {
		// resto de la ventana
		res.RetryAfter = ttl
		if res.RetryAfter <= 0 {
			res.RetryAfter = time.Duration(math.Ceil(window.Seconds())) * time.Second
		}
	}
	return res
}

// RedisLimiter: fixed window sencillo (INCR + EXPIRE)
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
	Max    int64
	Window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, p Policy) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix, Max: int64(p.Max), Window: p.Window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	winStart := time.Now().UTC().Truncate(l.Window)
	redisKey := fmt.Sprintf("%s%s:%d", l.Prefix, sanitize(key), winStart.Unix())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.Window)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	return result(incr.Val(), l.Max, ttl.Val(), l.Window), nil
}

// MemoryLimiter usa el contador con TTL del cache en memoria. Sirve para una
// sola instancia.
type MemoryLimiter struct {
	c      *cache.MemoryClient
	prefix string
	max    int64
	window time.Duration
	now    func() time.Time
}

func NewMemoryLimiter(c *cache.MemoryClient, prefix string, p Policy) *MemoryLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &MemoryLimiter{c: c, prefix: prefix, max: int64(p.Max), window: p.Window, now: time.Now}
}

func (l *MemoryLimiter) Allow(ctx context.Context, key string) (Result, error) {
	hits, resetAt, err := l.c.Incr(ctx, l.prefix+sanitize(key), l.window)
	if err != nil {
		return Result{}, err
	}
	return result(hits, l.max, resetAt.Sub(l.now()), l.window), nil
}

// New elige la implementación según el cliente de cache.
func New(c cache.Client, prefix string, p Policy) (Limiter, error) {
	if p.Max <= 0 || p.Window <= 0 {
		return nil, fmt.Errorf("rate: policy inválida %+v", p)
	}
	switch cc := c.(type) {
	case *cache.RedisClient:
		return NewRedisLimiter(cc.Raw(), prefix, p), nil
	case *cache.MemoryClient:
		return NewMemoryLimiter(cc, prefix, p), nil
	default:
		return nil, fmt.Errorf("rate: cache %T no soportado", c)
	}
}
