package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/keyless-tips/backend/internal/identity"
	"go.uber.org/zap"
)

// Cache stores identity sessions on top of a Store and checks expiry on
// every load, so an expired entry reads as absent even if the backend still
// holds it.
type Cache struct {
	store Store
	now   func() time.Time
	log   *zap.Logger
}

func NewCache(store Store, log *zap.Logger) *Cache {
	return &Cache{store: store, now: time.Now, log: log}
}

// WithClock replaces the clock used for expiry checks.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func (c *Cache) SaveEphemeral(ctx context.Context, clientKey string, s *identity.EphemeralSession) error {
	return c.put(ctx, KindEphemeral, clientKey, s, s.Key.ExpiresAt)
}

func (c *Cache) LoadEphemeral(ctx context.Context, clientKey string) (*identity.EphemeralSession, error) {
	var s identity.EphemeralSession
	if err := c.get(ctx, KindEphemeral, clientKey, &s); err != nil {
		return nil, err
	}
	if !s.IsValid(c.now()) {
		c.evict(ctx, KindEphemeral, clientKey)
		return nil, ErrNotFound
	}
	return &s, nil
}

func (c *Cache) ClearEphemeral(ctx context.Context, clientKey string) error {
	return c.store.Delete(ctx, KindEphemeral, clientKey)
}

func (c *Cache) SaveCredential(ctx context.Context, clientKey string, cred *identity.Credential) error {
	exp := cred.ExpiresAt
	if cred.Ephemeral.ExpiresAt.Before(exp) {
		exp = cred.Ephemeral.ExpiresAt
	}
	return c.put(ctx, KindCredential, clientKey, cred, exp)
}

// LoadCredential returns the signed-in credential, or ErrNotFound when there
// is none or it has expired.
func (c *Cache) LoadCredential(ctx context.Context, clientKey string) (*identity.Credential, error) {
	var cred identity.Credential
	if err := c.get(ctx, KindCredential, clientKey, &cred); err != nil {
		return nil, err
	}
	if !cred.IsValid(c.now()) {
		c.evict(ctx, KindCredential, clientKey)
		return nil, ErrNotFound
	}
	return &cred, nil
}

// Clear drops everything held for clientKey.
func (c *Cache) Clear(ctx context.Context, clientKey string) error {
	if err := c.store.Delete(ctx, KindEphemeral, clientKey); err != nil {
		return err
	}
	return c.store.Delete(ctx, KindCredential, clientKey)
}

func (c *Cache) put(ctx context.Context, kind Kind, clientKey string, v any, expiresAt time.Time) error {
	ttl := expiresAt.Sub(c.now())
	if ttl <= 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, kind, clientKey, b, ttl)
}

func (c *Cache) get(ctx context.Context, kind Kind, clientKey string, v any) error {
	b, err := c.store.Get(ctx, kind, clientKey)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		c.log.Warn("dropping unreadable session entry", zap.String("kind", string(kind)), zap.Error(err))
		c.evict(ctx, kind, clientKey)
		return ErrNotFound
	}
	return nil
}

func (c *Cache) evict(ctx context.Context, kind Kind, clientKey string) {
	if err := c.store.Delete(ctx, kind, clientKey); err != nil && !isNotFound(err) {
		c.log.Warn("failed to evict session entry", zap.String("kind", string(kind)), zap.Error(err))
	}
}
