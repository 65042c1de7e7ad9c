package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// AssertionClaims are the identity token claims the exchange relies on.
type AssertionClaims struct {
	Nonce string `json:"nonce"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// AssertionVerifier parses identity tokens. With a JWKS URL it checks RS256
// signatures against the provider keys, cached by kid; without one it only
// validates claims and leaves signature checking to the prover.
type AssertionVerifier struct {
	issuer     string
	audience   string
	jwksURL    string
	httpClient *http.Client
	keys       *gocache.Cache
	now        func() time.Time
	log        *zap.Logger
}

func NewAssertionVerifier(issuer, audience, jwksURL string, timeout time.Duration, log *zap.Logger) *AssertionVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AssertionVerifier{
		issuer:     issuer,
		audience:   audience,
		jwksURL:    jwksURL,
		httpClient: &http.Client{Timeout: timeout},
		keys:       gocache.New(time.Hour, 10*time.Minute),
		now:        time.Now,
		log:        log,
	}
}

func (v *AssertionVerifier) Verify(ctx context.Context, token string) (*AssertionClaims, error) {
	claims := &AssertionClaims{}
	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	if v.jwksURL == "" {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
		}
		if err := jwt.NewValidator(opts...).Validate(claims); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
		}
	} else {
		opts = append(opts, jwt.WithValidMethods([]string{"RS256"}))
		_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
			kid, _ := t.Header["kid"].(string)
			return v.keyForKid(ctx, kid)
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrAssertionInvalid, err)
		}
	}

	if claims.Subject == "" || claims.Nonce == "" {
		return nil, fmt.Errorf("%w: sub and nonce claims are required", ErrAssertionInvalid)
	}
	return claims, nil
}

func (v *AssertionVerifier) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	if err := v.refreshKeys(ctx); err != nil {
		return nil, err
	}
	if k, ok := v.keys.Get(kid); ok {
		return k.(*rsa.PublicKey), nil
	}
	return nil, fmt.Errorf("signing key %q not found", kid)
}

func (v *AssertionVerifier) refreshKeys(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("jwks unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks returned %d", resp.StatusCode)
	}

	var set jwkSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return err
	}

	loaded := 0
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		pub, err := rsaPublicKey(k)
		if err != nil {
			v.log.Warn("skipping malformed jwk", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		v.keys.SetDefault(k.Kid, pub)
		loaded++
	}
	v.log.Debug("jwks refreshed", zap.Int("keys", loaded))
	return nil
}

func rsaPublicKey(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	if len(nb) == 0 {
		return nil, errors.New("empty modulus")
	}
	e := 65537
	if len(eb) > 0 {
		e = 0
		for _, b := range eb {
			e = e<<8 | int(b)
		}
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}
