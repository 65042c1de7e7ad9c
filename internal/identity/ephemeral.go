package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
)

const (
	BlinderSize = 31
	noncePrefix = "keyless-nonce/"
)

// EphemeralKeyPair is the short-lived key that signs ledger transactions on
// behalf of a keyless account.
type EphemeralKeyPair struct {
	PublicKey  ed25519.PublicKey  `json:"public_key"`
	PrivateKey ed25519.PrivateKey `json:"private_key"`
	Blinder    []byte             `json:"blinder"`
	ExpiresAt  time.Time          `json:"expires_at"`
	Nonce      string             `json:"nonce"`
}

func (k EphemeralKeyPair) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// Sign signs msg with the ephemeral private key.
func (k EphemeralKeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.PrivateKey, msg)
}

// EphemeralSession is an in-flight sign-in waiting for the provider callback.
type EphemeralSession struct {
	ID        string           `json:"id"`
	Key       EphemeralKeyPair `json:"key"`
	CreatedAt time.Time        `json:"created_at"`
}

func (s *EphemeralSession) IsValid(now time.Time) bool {
	return s != nil && !s.Key.Expired(now)
}

// NewEphemeralSession generates a fresh key pair and blinder valid for ttl.
func NewEphemeralSession(now time.Time, ttl time.Duration) (*EphemeralSession, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	blinder := make([]byte, BlinderSize)
	if _, err := rand.Read(blinder); err != nil {
		return nil, fmt.Errorf("generate blinder: %w", err)
	}

	// second precision, so the nonce survives a JSON round trip
	exp := now.Add(ttl).Truncate(time.Second)
	return &EphemeralSession{
		ID: uuid.NewString(),
		Key: EphemeralKeyPair{
			PublicKey:  pub,
			PrivateKey: priv,
			Blinder:    blinder,
			ExpiresAt:  exp,
			Nonce:      ComputeNonce(pub, exp, blinder),
		},
		CreatedAt: now,
	}, nil
}

// ComputeNonce commits to the ephemeral public key, its expiry and the
// blinder:
//
//	sha3-256("keyless-nonce/" ++ epk ++ exp_unix(8 BE) ++ blinder)
//
// base64url encoded without padding.
func ComputeNonce(pub ed25519.PublicKey, expiresAt time.Time, blinder []byte) string {
	msg := []byte(noncePrefix)
	msg = append(msg, pub...)

	expBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(expBytes, uint64(expiresAt.Unix()))
	msg = append(msg, expBytes...)
	msg = append(msg, blinder...)

	sum := sha3.Sum256(msg)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
