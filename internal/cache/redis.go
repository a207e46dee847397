package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient implementa Client sobre Redis.
type RedisClient struct {
	rdb    *redis.Client
	prefix string
}

// NewRedis conecta y verifica con un ping de 5s.
func NewRedis(ctx context.Context, cfg Config) (*RedisClient, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping failed: %w", err)
	}
	return &RedisClient{rdb: rdb, prefix: cfg.Prefix}, nil
}

// NewRedisFromClient envuelve un cliente existente (tests, rate limiter compartido).
func NewRedisFromClient(rdb *redis.Client, prefix string) *RedisClient {
	return &RedisClient{rdb: rdb, prefix: prefix}
}

// Raw expone el cliente para quien necesite comandos propios (rate limiter).
func (c *RedisClient) Raw() *redis.Client { return c.rdb }

func (c *RedisClient) key(k string) string { return c.prefix + k }

func (c *RedisClient) Get(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.Get(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (c *RedisClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key(key), value, ttl).Err()
}

// GetDel usa GETDEL (Redis >= 6.2), atómico del lado del servidor.
func (c *RedisClient) GetDel(ctx context.Context, key string) (string, error) {
	val, err := c.rdb.GetDel(ctx, c.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return val, err
}

func (c *RedisClient) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.key(key)).Err()
}

func (c *RedisClient) Ping(ctx context.Context) error { return c.rdb.Ping(ctx).Err() }

func (c *RedisClient) Close() error { return c.rdb.Close() }

func (c *RedisClient) Stats(ctx context.Context) (Stats, error) {
	keys, err := c.rdb.DBSize(ctx).Result()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Driver: "redis", Keys: keys}, nil
}
