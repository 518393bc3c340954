package store

import (
	"context"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process-local store. Values expire after the TTL given to
// NewMemory; a zero TTL never expires. It is safe for concurrent use.
type Memory struct {
	mu     *sync.Mutex
	c      *gocache.Cache
	prefix string
}

// NewMemory creates a memory store.
func NewMemory(ttl time.Duration, opts ...Option) *Memory {
	o := applyOptions(opts)
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Memory{
		mu:     &sync.Mutex{},
		c:      gocache.New(ttl, time.Minute),
		prefix: o.prefix,
	}
}

func (m *Memory) key(k string) string { return m.prefix + k }

func (m *Memory) Set(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Set(m.key(key), value, gocache.DefaultExpiration)
	return nil
}

func (m *Memory) Get(ctx context.Context, key, def string) (string, error) {
	v, ok := m.c.Get(m.key(key))
	if !ok {
		return def, nil
	}
	s, _ := v.(string)
	return s, nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.c.Delete(m.key(key))
	return nil
}

func (m *Memory) Take(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := m.key(key)
	v, ok := m.c.Get(k)
	if !ok {
		return "", nil
	}
	m.c.Delete(k)
	s, _ := v.(string)
	return s, nil
}

// Clear removes the keys under this store's prefix. Other namespaces
// sharing the same backing cache are left alone.
func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.c.Items() {
		if strings.HasPrefix(k, m.prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

// Namespace returns a view of m whose keys live under ns. The view shares
// the backing cache and its lock.
func (m *Memory) Namespace(ns string) Store {
	return &Memory{mu: m.mu, c: m.c, prefix: m.prefix + ns + ":"}
}
