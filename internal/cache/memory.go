package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryClient implementa Client sobre go-cache. El janitor de go-cache
// barre las entradas vencidas cada cleanup.
type MemoryClient struct {
	prefix string
	c      *gocache.Cache
	// go-cache no tiene get+delete atómico
	mu     sync.Mutex
	hits   atomic.Int64
	misses atomic.Int64
}

// NewMemory crea un cliente en memoria. cleanup <= 0 usa un minuto.
func NewMemory(prefix string, cleanup time.Duration) *MemoryClient {
	if cleanup <= 0 {
		cleanup = time.Minute
	}
	return &MemoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, cleanup),
	}
}

func (m *MemoryClient) key(k string) string { return m.prefix + k }

func (m *MemoryClient) Get(_ context.Context, key string) (string, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		m.misses.Add(1)
		return "", ErrNotFound
	}
	m.hits.Add(1)
	return v.(string), nil
}

func (m *MemoryClient) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.mu.Lock()
	m.c.Set(m.key(key), value, ttl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryClient) GetDel(_ context.Context, key string) (string, error) {
	k := m.key(key)
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.c.Get(k)
	if !ok {
		m.misses.Add(1)
		return "", ErrNotFound
	}
	m.c.Delete(k)
	m.hits.Add(1)
	return v.(string), nil
}

func (m *MemoryClient) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	m.c.Delete(m.key(key))
	m.mu.Unlock()
	return nil
}

// Incr suma delta al contador en key. Si la key no existe la crea con ttl.
// Retorna el valor nuevo y el vencimiento de la ventana.
func (m *MemoryClient) Incr(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	k := m.key(key)
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exp, ok := m.c.GetWithExpiration(k); ok {
		n, err := m.c.IncrementInt64(k, 1)
		return n, exp, err
	}
	m.c.Set(k, int64(1), ttl)
	return 1, time.Now().Add(ttl), nil
}

func (m *MemoryClient) Ping(context.Context) error { return nil }

func (m *MemoryClient) Close() error {
	m.c.Flush()
	return nil
}

func (m *MemoryClient) Stats(context.Context) (Stats, error) {
	return Stats{
		Driver: "memory",
		Keys:   int64(m.c.ItemCount()),
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
	}, nil
}
