// Package session keeps in-flight keyless sessions and signed-in credentials
// per client key. Expired entries are never handed out.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/keyless-tips/backend/internal/identity"
)

// ErrNotFound also matches identity.ErrSessionNotFound.
var ErrNotFound = fmt.Errorf("session cache: %w", identity.ErrSessionNotFound)

// Kind namespaces entries of one client key.
type Kind string

const (
	KindEphemeral  Kind = "ephemeral"
	KindCredential Kind = "credential"
)

// Store is a raw key/value backend. Get returns ErrNotFound for absent keys.
type Store interface {
	Set(ctx context.Context, kind Kind, clientKey string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, kind Kind, clientKey string) ([]byte, error)
	Delete(ctx context.Context, kind Kind, clientKey string) error
}

func storeKey(kind Kind, clientKey string) string {
	return "session:" + string(kind) + ":" + clientKey
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
