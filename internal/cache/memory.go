package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// memoryClient implementa Client sobre go-cache. Para desarrollo y
// despliegues single-process; no sobrevive reinicios ni escala horizontal.
type memoryClient struct {
	prefix string
	c      *gocache.Cache
	mu     sync.Mutex // serializa Incr (go-cache no incrementa-o-crea atómico)
}

// NewMemory crea un cliente en memoria.
func NewMemory(prefix string) Client {
	return &memoryClient{
		prefix: prefix,
		c:      gocache.New(gocache.NoExpiration, 5*time.Minute),
	}
}

func (m *memoryClient) key(k string) string {
	if m.prefix == "" {
		return k
	}
	return m.prefix + ":" + k
}

func (m *memoryClient) Get(ctx context.Context, key string) (string, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return "", ErrNotFound
	}
	s, _ := v.(string)
	return s, nil
}

func (m *memoryClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(m.key(key), value, ttl)
	return nil
}

func (m *memoryClient) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(key)
	if v, ok := m.c.Get(k); ok {
		n, _ := strconv.ParseInt(v.(string), 10, 64)
		n++
		// conserva el TTL restante del entry original
		m.c.Set(k, strconv.FormatInt(n, 10), gocache.DefaultExpiration)
		return n, nil
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(k, "1", ttl)
	return 1, nil
}

func (m *memoryClient) Delete(ctx context.Context, key string) error {
	m.c.Delete(m.key(key))
	return nil
}

func (m *memoryClient) Ping(ctx context.Context) error { return nil }
func (m *memoryClient) Close() error                   { return nil }
