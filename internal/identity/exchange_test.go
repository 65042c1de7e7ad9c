package identity

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testIssuer   = "https://accounts.example.com"
	testClientID = "tips-web"
	testSubject  = "user-42"
)

type memStore struct {
	mu    sync.Mutex
	eph   map[string]*EphemeralSession
	creds map[string]*Credential
}

func newMemStore() *memStore {
	return &memStore{eph: map[string]*EphemeralSession{}, creds: map[string]*Credential{}}
}

func (m *memStore) SaveEphemeral(_ context.Context, k string, s *EphemeralSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.eph[k] = s
	return nil
}

func (m *memStore) LoadEphemeral(_ context.Context, k string) (*EphemeralSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.eph[k]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *memStore) ClearEphemeral(_ context.Context, k string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.eph, k)
	return nil
}

func (m *memStore) SaveCredential(_ context.Context, k string, c *Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creds[k] = c
	return nil
}

type staticPepper struct {
	pepper []byte
	err    error
}

func (p staticPepper) FetchPepper(context.Context, ProofRequest) ([]byte, error) {
	return p.pepper, p.err
}

// bindingProver answers with a proof bound to the request, or a corrupted one.
type bindingProver struct{ corrupt bool }

func (p bindingProver) FetchProof(_ context.Context, req ProofRequest) (*Proof, error) {
	h := BindingHash(req.JWT, req.Ephemeral.PublicKey, req.Pepper, req.Ephemeral.ExpiresAt)
	if p.corrupt {
		h = strings.Repeat("0", len(h))
	}
	return &Proof{Data: json.RawMessage(`{"a":"1"}`), PublicInputsHash: h}, nil
}

func unsignedToken(t *testing.T, nonce string, exp time.Time) string {
	t.Helper()
	claims := AssertionClaims{
		Nonce: nonce,
		Email: "tipper@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    testIssuer,
			Subject:   testSubject,
			Audience:  jwt.ClaimStrings{testClientID},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("provider-secret"))
	require.NoError(t, err)
	return s
}

func newTestExchanger(store SessionStore, pepper PepperFetcher, prover ProofFetcher) *Exchanger {
	log := zap.NewNop()
	v := NewAssertionVerifier(testIssuer, testClientID, "", time.Second, log)
	return NewExchanger(Config{
		AuthURL:      "https://accounts.example.com/authorize",
		ClientID:     testClientID,
		RedirectURI:  "https://tips.example.com/callback",
		EphemeralTTL: time.Hour,
		MaxRetries:   3,
		RetryBase:    time.Millisecond,
	}, store, v, pepper, prover, log)
}

func callback(token string) string {
	return "https://tips.example.com/callback#id_token=" + token
}

func TestCompleteSessionDerivesCredential(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	pepper := []byte{1, 2, 3, 4, 5}
	ex := newTestExchanger(store, staticPepper{pepper: pepper}, bindingProver{})

	sess, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	tokenExp := time.Now().Add(30 * time.Minute)
	token := unsignedToken(t, sess.Key.Nonce, tokenExp)

	cred, err := ex.CompleteSession(ctx, "client-1", callback(token))
	require.NoError(t, err)

	assert.Equal(t, DeriveAddress(testIssuer, testSubject, pepper), cred.Address)
	assert.Equal(t, testSubject, cred.Subject)
	assert.Equal(t, testClientID, cred.Audience)
	assert.Equal(t, hex.EncodeToString(pepper), cred.Pepper)
	assert.Equal(t, tokenExp.Unix(), cred.ExpiresAt.Unix(), "credential expires with the earlier of the two")
	assert.True(t, cred.IsValid(time.Now()))

	assert.Contains(t, store.creds, "client-1")
	assert.NotContains(t, store.eph, "client-1", "ephemeral session is consumed")
}

func TestCompleteSessionMissingAssertion(t *testing.T) {
	ex := newTestExchanger(newMemStore(), staticPepper{pepper: []byte{1}}, bindingProver{})
	_, err := ex.CompleteSession(context.Background(), "client-1", "https://tips.example.com/callback#error=access_denied")
	assert.ErrorIs(t, err, ErrAssertionMissing)
}

func TestCompleteSessionWithoutSession(t *testing.T) {
	ex := newTestExchanger(newMemStore(), staticPepper{pepper: []byte{1}}, bindingProver{})
	token := unsignedToken(t, "whatever", time.Now().Add(time.Hour))
	_, err := ex.CompleteSession(context.Background(), "client-1", callback(token))
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCompleteSessionRejectsForeignNonce(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ex := newTestExchanger(store, staticPepper{pepper: []byte{1}}, bindingProver{})

	_, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	token := unsignedToken(t, "nonce-from-another-session", time.Now().Add(time.Hour))
	_, err = ex.CompleteSession(ctx, "client-1", callback(token))
	assert.ErrorIs(t, err, ErrProofBindingInvalid)
	assert.NotContains(t, store.eph, "client-1")
}

func TestCompleteSessionRejectsForeignState(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ex := newTestExchanger(store, staticPepper{pepper: []byte{1}}, bindingProver{})

	sess, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	token := unsignedToken(t, sess.Key.Nonce, time.Now().Add(time.Hour))
	_, err = ex.CompleteSession(ctx, "client-1", callback(token)+"&state=another-session")
	assert.ErrorIs(t, err, ErrProofBindingInvalid)
	assert.NotContains(t, store.eph, "client-1", "session is discarded on a state mismatch")

	_, err = ex.CompleteSession(ctx, "client-1", callback(token))
	assert.ErrorIs(t, err, ErrSessionNotFound, "the same assertion cannot be replayed")
	assert.Empty(t, store.creds)
}

func TestCompleteSessionRejectsUnboundProof(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ex := newTestExchanger(store, staticPepper{pepper: []byte{9}}, bindingProver{corrupt: true})

	sess, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	token := unsignedToken(t, sess.Key.Nonce, time.Now().Add(time.Hour))
	_, err = ex.CompleteSessionWithRetry(ctx, "client-1", callback(token))
	assert.ErrorIs(t, err, ErrProofBindingInvalid)
	assert.NotContains(t, store.eph, "client-1", "session is cleared after a binding failure")
	assert.Empty(t, store.creds)
}

func TestBeginSessionReplacesPrevious(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	ex := newTestExchanger(store, staticPepper{pepper: []byte{1}}, bindingProver{})

	first, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)
	second, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.Key.Nonce, second.Key.Nonce)

	token := unsignedToken(t, first.Key.Nonce, time.Now().Add(time.Hour))
	_, err = ex.CompleteSession(ctx, "client-1", callback(token))
	assert.ErrorIs(t, err, ErrProofBindingInvalid, "a callback for the replaced session no longer binds")
}

func TestCompleteSessionWithRetryRecoversFromTransientPepperFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/fetch", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"pepper": "0a0b0c"})
	}))
	defer srv.Close()

	ctx := context.Background()
	store := newMemStore()
	ex := newTestExchanger(store, NewPepperClient(srv.URL, time.Second, zap.NewNop()), bindingProver{})

	sess, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	token := unsignedToken(t, sess.Key.Nonce, time.Now().Add(time.Hour))
	cred, err := ex.CompleteSessionWithRetry(ctx, "client-1", callback(token))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, DeriveAddress(testIssuer, testSubject, []byte{0x0a, 0x0b, 0x0c}), cred.Address)
}

func TestCompleteSessionWithRetryDoesNotRetryRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ctx := context.Background()
	ex := newTestExchanger(newMemStore(), NewPepperClient(srv.URL, time.Second, zap.NewNop()), bindingProver{})

	sess, err := ex.BeginSession(ctx, "client-1")
	require.NoError(t, err)

	token := unsignedToken(t, sess.Key.Nonce, time.Now().Add(time.Hour))
	_, err = ex.CompleteSessionWithRetry(ctx, "client-1", callback(token))
	require.ErrorIs(t, err, ErrPepperService)
	assert.Equal(t, int32(1), calls.Load())
}

func TestProverClientPostsBindingInputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/prove", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "0102", body["pepper"])
		assert.Equal(t, "sub", body["uid_key"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"proof":              map[string]string{"a": "1"},
			"public_inputs_hash": "abcd",
		})
	}))
	defer srv.Close()

	sess, err := NewEphemeralSession(time.Now(), time.Hour)
	require.NoError(t, err)

	proof, err := NewProverClient(srv.URL, time.Second, zap.NewNop()).FetchProof(context.Background(), ProofRequest{
		JWT: "jwt", Ephemeral: sess.Key, Pepper: []byte{1, 2},
	})
	require.NoError(t, err)
	assert.Equal(t, "abcd", proof.PublicInputsHash)
}

func TestAssertionVerifierChecksSignatureAgainstJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "k1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	sign := func(k *rsa.PrivateKey) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, AssertionClaims{
			Nonce: "n",
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    testIssuer,
				Subject:   testSubject,
				Audience:  jwt.ClaimStrings{testClientID},
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		})
		tok.Header["kid"] = "k1"
		s, err := tok.SignedString(k)
		require.NoError(t, err)
		return s
	}

	v := NewAssertionVerifier(testIssuer, testClientID, srv.URL, time.Second, zap.NewNop())

	claims, err := v.Verify(context.Background(), sign(key))
	require.NoError(t, err)
	assert.Equal(t, testSubject, claims.Subject)

	_, err = v.Verify(context.Background(), sign(other))
	assert.ErrorIs(t, err, ErrAssertionInvalid)
}

func TestAssertionVerifierRejectsExpiredAndForeignAudience(t *testing.T) {
	v := NewAssertionVerifier(testIssuer, testClientID, "", time.Second, zap.NewNop())

	_, err := v.Verify(context.Background(), unsignedToken(t, "n", time.Now().Add(-time.Minute)))
	assert.ErrorIs(t, err, ErrAssertionInvalid)

	other := NewAssertionVerifier(testIssuer, "someone-else", "", time.Second, zap.NewNop())
	_, err = other.Verify(context.Background(), unsignedToken(t, "n", time.Now().Add(time.Hour)))
	assert.ErrorIs(t, err, ErrAssertionInvalid)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&UpstreamError{Service: ErrProofService, StatusCode: 502}))
	assert.True(t, IsRetryable(&UpstreamError{Service: ErrPepperService, StatusCode: 429}))
	assert.False(t, IsRetryable(&UpstreamError{Service: ErrPepperService, StatusCode: 400}))
	assert.False(t, IsRetryable(ErrProofBindingInvalid))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestBuildAuthorizationURL(t *testing.T) {
	sess, err := NewEphemeralSession(time.Now(), time.Hour)
	require.NoError(t, err)

	raw, err := BuildAuthorizationURL("https://accounts.example.com/authorize", sess, testClientID, "https://tips.example.com/callback")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "id_token", q.Get("response_type"))
	assert.Equal(t, "openid email profile", q.Get("scope"))
	assert.Equal(t, testClientID, q.Get("client_id"))
	assert.Equal(t, sess.Key.Nonce, q.Get("nonce"))
	assert.Equal(t, sess.ID, q.Get("state"))

	_, err = BuildAuthorizationURL("https://accounts.example.com/authorize", sess, "", "https://tips.example.com/callback")
	assert.Error(t, err)
	_, err = BuildAuthorizationURL("https://accounts.example.com/authorize", sess, testClientID, "not a url")
	assert.Error(t, err)
}

func TestExtractAssertion(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		token string
		state string
		err   error
	}{
		{"fragment", "https://x.test/cb#id_token=abc&state=s1", "abc", "s1", nil},
		{"query", "https://x.test/cb?id_token=def", "def", "", nil},
		{"missing", "https://x.test/cb#access_token=zzz", "", "", ErrAssertionMissing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok, state, err := ExtractAssertion(tt.url)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.token, tok)
			assert.Equal(t, tt.state, state)
		})
	}
}
