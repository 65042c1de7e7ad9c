package ledger

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/keyless-tips/backend/internal/identity"
	"golang.org/x/crypto/sha3"
	"golang.org/x/time/rate"
)

// Ed25519Scheme is the authentication-key scheme byte of single-key ed25519
// accounts.
const Ed25519Scheme byte = 0x00

var ErrCredentialExpired = errors.New("signing credential expired")

// Signature is the transaction authenticator sent with a submission.
type Signature struct {
	Type      string          `json:"type"`
	PublicKey string          `json:"public_key"`
	Signature string          `json:"signature"`
	JWT       string          `json:"jwt,omitempty"`
	Proof     json.RawMessage `json:"proof,omitempty"`
	ExpiresAt int64           `json:"ephemeral_expiry_secs,omitempty"`
}

type Signer interface {
	Address() string
	Sign(ctx context.Context, msg []byte) (*Signature, error)
}

// exclusiveSigner is implemented by signers whose submissions must not
// interleave, because they share one account sequence number.
type exclusiveSigner interface {
	Acquire(ctx context.Context) (release func(), err error)
}

// AdminSigner holds the platform's administrative key. Every submission with
// it goes through Acquire, which rate limits and serializes them.
type AdminSigner struct {
	mu      sync.Mutex
	key     ed25519.PrivateKey
	address string
	limiter *rate.Limiter
}

// NewAdminSigner takes a hex ed25519 seed (32 bytes) or full private key
// (64 bytes).
func NewAdminSigner(hexKey string, txPerSecond float64) (*AdminSigner, error) {
	raw, err := decodeHex(hexKey)
	if err != nil {
		return nil, fmt.Errorf("admin key: %w", err)
	}
	var key ed25519.PrivateKey
	switch len(raw) {
	case ed25519.SeedSize:
		key = ed25519.NewKeyFromSeed(raw)
	case ed25519.PrivateKeySize:
		key = ed25519.PrivateKey(raw)
	default:
		return nil, fmt.Errorf("admin key: unexpected length %d", len(raw))
	}
	if txPerSecond <= 0 {
		txPerSecond = 1
	}
	return &AdminSigner{
		key:     key,
		address: Ed25519Address(key.Public().(ed25519.PublicKey)),
		limiter: rate.NewLimiter(rate.Limit(txPerSecond), 1),
	}, nil
}

func (s *AdminSigner) Address() string { return s.address }

func (s *AdminSigner) Acquire(ctx context.Context) (func(), error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return s.mu.Unlock, nil
}

func (s *AdminSigner) Sign(_ context.Context, msg []byte) (*Signature, error) {
	return &Signature{
		Type:      "ed25519_signature",
		PublicKey: "0x" + hex.EncodeToString(s.key.Public().(ed25519.PublicKey)),
		Signature: "0x" + hex.EncodeToString(ed25519.Sign(s.key, msg)),
	}, nil
}

// Ed25519Address derives the account address of a single ed25519 key.
func Ed25519Address(pub ed25519.PublicKey) string {
	b := append([]byte{}, pub...)
	b = append(b, Ed25519Scheme)
	sum := sha3.Sum256(b)
	return "0x" + hex.EncodeToString(sum[:])
}

// KeylessSigner signs with a signed-in user's ephemeral key and attaches the
// proof that binds it to their keyless account.
type KeylessSigner struct {
	cred *identity.Credential
	now  func() time.Time
}

func NewKeylessSigner(cred *identity.Credential) *KeylessSigner {
	return &KeylessSigner{cred: cred, now: time.Now}
}

func (s *KeylessSigner) Address() string { return s.cred.Address }

func (s *KeylessSigner) Sign(_ context.Context, msg []byte) (*Signature, error) {
	if !s.cred.IsValid(s.now()) {
		return nil, ErrCredentialExpired
	}
	return &Signature{
		Type:      "keyless_signature",
		PublicKey: "0x" + hex.EncodeToString(s.cred.Ephemeral.PublicKey),
		Signature: "0x" + hex.EncodeToString(s.cred.Ephemeral.Sign(msg)),
		JWT:       s.cred.JWT,
		Proof:     s.cred.Proof.Data,
		ExpiresAt: s.cred.Ephemeral.ExpiresAt.Unix(),
	}, nil
}
