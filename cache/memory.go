package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local cache, safe for concurrent use.
type Memory struct {
	c      *gocache.Cache
	prefix string
}

// NewMemory creates an in-memory cache.
func NewMemory(prefix string) *Memory {
	return &Memory{
		c:      gocache.New(gocache.NoExpiration, 10*time.Minute),
		prefix: prefix,
	}
}

func (m *Memory) key(k string) string {
	if m.prefix == "" {
		return k
	}
	return m.prefix + ":" + k
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return b, nil
}

func (m *Memory) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	m.c.Set(m.key(key), value, ttl)
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.c.Delete(m.key(key))
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	if m.prefix == "" {
		m.c.Flush()
		return nil
	}
	for k := range m.c.Items() {
		if strings.HasPrefix(k, m.prefix+":") {
			m.c.Delete(k)
		}
	}
	return nil
}

func (m *Memory) GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, err := m.Get(ctx, k); err == nil {
			out[k] = v
		}
	}
	return out, nil
}

func (m *Memory) SetMultiple(ctx context.Context, values map[string][]byte, ttl time.Duration) error {
	for k, v := range values {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) DeleteMultiple(ctx context.Context, keys []string) error {
	for _, k := range keys {
		m.c.Delete(m.key(k))
	}
	return nil
}
