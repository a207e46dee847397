// Package cache provee un key/value con TTL sobre memoria (go-cache) o Redis.
//
// Lo usan el challenge store (GetDel atómico) y el rate limiter en memoria.
package cache

import (
	"context"
	"errors"
	"time"
)

// Client define las operaciones de cache.
type Client interface {
	// Get obtiene un valor. Retorna ErrNotFound si no existe o venció.
	Get(ctx context.Context, key string) (string, error)

	// Set guarda un valor. ttl 0 = sin vencimiento.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// GetDel obtiene y borra la key en una sola operación atómica: de varios
	// llamadores concurrentes sobre la misma key, a lo sumo uno ve el valor.
	GetDel(ctx context.Context, key string) (string, error)

	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
	Stats(ctx context.Context) (Stats, error)
}

// Stats contiene estadísticas del cache.
type Stats struct {
	Driver string
	Keys   int64
	Hits   int64
	Misses int64
}

// Config configuración para crear un cliente de cache.
type Config struct {
	Driver   string // "memory" | "redis"
	Addr     string
	Password string
	DB       int
	Prefix   string
	// CleanupInterval del janitor en memoria.
	CleanupInterval time.Duration
}

// ErrNotFound indica key inexistente o vencida.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// New crea un cliente según cfg.Driver.
func New(ctx context.Context, cfg Config) (Client, error) {
	switch cfg.Driver {
	case "redis":
		return NewRedis(ctx, cfg)
	case "memory", "":
		return NewMemory(cfg.Prefix, cfg.CleanupInterval), nil
	default:
		return nil, errors.New("cache: driver desconocido " + cfg.Driver)
	}
}
