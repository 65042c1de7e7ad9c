// Package identity turns a federated identity token into a keyless ledger
// account: ephemeral key generation, the provider round trip, pepper and
// proof retrieval, and address derivation.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// SessionStore persists in-flight sessions and finished credentials per
// client key. Loads of absent or expired entries return an error matching
// ErrSessionNotFound.
type SessionStore interface {
	SaveEphemeral(ctx context.Context, clientKey string, s *EphemeralSession) error
	LoadEphemeral(ctx context.Context, clientKey string) (*EphemeralSession, error)
	ClearEphemeral(ctx context.Context, clientKey string) error
	SaveCredential(ctx context.Context, clientKey string, c *Credential) error
}

type Config struct {
	AuthURL      string
	ClientID     string
	RedirectURI  string
	EphemeralTTL time.Duration
	MaxRetries   int
	RetryBase    time.Duration
}

// Exchanger runs the keyless sign-in round trip.
type Exchanger struct {
	cfg      Config
	store    SessionStore
	verifier *AssertionVerifier
	pepper   PepperFetcher
	prover   ProofFetcher
	now      func() time.Time
	log      *zap.Logger
}

func NewExchanger(cfg Config, store SessionStore, verifier *AssertionVerifier, pepper PepperFetcher, prover ProofFetcher, log *zap.Logger) *Exchanger {
	if cfg.EphemeralTTL <= 0 {
		cfg.EphemeralTTL = time.Hour
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Exchanger{
		cfg:      cfg,
		store:    store,
		verifier: verifier,
		pepper:   pepper,
		prover:   prover,
		now:      time.Now,
		log:      log,
	}
}

// BeginSession starts a sign-in for clientKey, replacing any session already
// in flight for it.
func (e *Exchanger) BeginSession(ctx context.Context, clientKey string) (*EphemeralSession, error) {
	if clientKey == "" {
		return nil, errors.New("client key is required")
	}
	s, err := NewEphemeralSession(e.now(), e.cfg.EphemeralTTL)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveEphemeral(ctx, clientKey, s); err != nil {
		return nil, fmt.Errorf("save ephemeral session: %w", err)
	}
	e.log.Debug("ephemeral session started",
		zap.String("session_id", s.ID),
		zap.Time("expires_at", s.Key.ExpiresAt),
	)
	return s, nil
}

// BuildAuthorizationURL uses the configured provider endpoint.
func (e *Exchanger) BuildAuthorizationURL(s *EphemeralSession, clientID, redirectURI string) (string, error) {
	if clientID == "" {
		clientID = e.cfg.ClientID
	}
	if redirectURI == "" {
		redirectURI = e.cfg.RedirectURI
	}
	return BuildAuthorizationURL(e.cfg.AuthURL, s, clientID, redirectURI)
}

// CompleteSession finishes the sign-in from the provider callback URL.
// Upstream failures leave the ephemeral session in place so the call can be
// retried; a binding failure discards it.
func (e *Exchanger) CompleteSession(ctx context.Context, clientKey, callbackURL string) (*Credential, error) {
	token, state, err := ExtractAssertion(callbackURL)
	if err != nil {
		return nil, err
	}

	sess, err := e.store.LoadEphemeral(ctx, clientKey)
	if err != nil {
		return nil, err
	}
	if !sess.IsValid(e.now()) {
		_ = e.store.ClearEphemeral(ctx, clientKey)
		return nil, ErrSessionNotFound
	}
	if state != "" && state != sess.ID {
		e.discard(ctx, clientKey, "state mismatch")
		return nil, fmt.Errorf("%w: state does not match session", ErrProofBindingInvalid)
	}

	claims, err := e.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.Nonce != sess.Key.Nonce {
		e.discard(ctx, clientKey, "nonce mismatch")
		return nil, fmt.Errorf("%w: nonce mismatch", ErrProofBindingInvalid)
	}

	req := ProofRequest{JWT: token, Ephemeral: sess.Key}
	pepper, err := e.pepper.FetchPepper(ctx, req)
	if err != nil {
		return nil, err
	}
	req.Pepper = pepper

	proof, err := e.prover.FetchProof(ctx, req)
	if err != nil {
		return nil, err
	}

	want := BindingHash(token, sess.Key.PublicKey, pepper, sess.Key.ExpiresAt)
	if proof.PublicInputsHash != want {
		e.discard(ctx, clientKey, "public inputs hash mismatch")
		return nil, fmt.Errorf("%w: public inputs hash mismatch", ErrProofBindingInvalid)
	}

	expiresAt := sess.Key.ExpiresAt
	if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(expiresAt) {
		expiresAt = claims.ExpiresAt.Time
	}
	var aud string
	if len(claims.Audience) > 0 {
		aud = claims.Audience[0]
	}

	cred := &Credential{
		Address:   DeriveAddress(claims.Issuer, claims.Subject, pepper),
		Issuer:    claims.Issuer,
		Subject:   claims.Subject,
		Audience:  aud,
		Email:     claims.Email,
		JWT:       token,
		Ephemeral: sess.Key,
		Pepper:    fmt.Sprintf("%x", pepper),
		Proof:     *proof,
		ExpiresAt: expiresAt,
	}

	if err := e.store.SaveCredential(ctx, clientKey, cred); err != nil {
		return nil, fmt.Errorf("save credential: %w", err)
	}
	if err := e.store.ClearEphemeral(ctx, clientKey); err != nil {
		e.log.Warn("failed to clear ephemeral session", zap.Error(err))
	}

	e.log.Info("keyless sign-in completed",
		zap.String("address", cred.Address),
		zap.String("issuer", cred.Issuer),
		zap.Time("expires_at", cred.ExpiresAt),
	)
	return cred, nil
}

// CompleteSessionWithRetry retries CompleteSession with exponential backoff
// while the failure is a transient pepper or prover error.
func (e *Exchanger) CompleteSessionWithRetry(ctx context.Context, clientKey, callbackURL string) (*Credential, error) {
	b := retry.NewExponential(e.cfg.RetryBase)
	b = retry.WithMaxRetries(uint64(max(e.cfg.MaxRetries, 0)), b)
	b = retry.WithCappedDuration(5*time.Second, b)

	var cred *Credential
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		c, err := e.CompleteSession(ctx, clientKey, callbackURL)
		if err != nil {
			if IsRetryable(err) {
				e.log.Warn("keyless upstream failed, retrying", zap.Error(err))
				return retry.RetryableError(err)
			}
			return err
		}
		cred = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cred, nil
}

func (e *Exchanger) discard(ctx context.Context, clientKey, reason string) {
	e.log.Warn("discarding ephemeral session", zap.String("reason", reason))
	if err := e.store.ClearEphemeral(ctx, clientKey); err != nil {
		e.log.Warn("failed to clear ephemeral session", zap.Error(err))
	}
}
