package session

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps entries in process. Suitable for a single API replica.
type MemoryStore struct {
	c *gocache.Cache
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func (m *MemoryStore) Set(_ context.Context, kind Kind, clientKey string, value []byte, ttl time.Duration) error {
	m.c.Set(storeKey(kind, clientKey), value, ttl)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, kind Kind, clientKey string) ([]byte, error) {
	v, ok := m.c.Get(storeKey(kind, clientKey))
	if !ok {
		return nil, ErrNotFound
	}
	b, _ := v.([]byte)
	return b, nil
}

func (m *MemoryStore) Delete(_ context.Context, kind Kind, clientKey string) error {
	m.c.Delete(storeKey(kind, clientKey))
	return nil
}
