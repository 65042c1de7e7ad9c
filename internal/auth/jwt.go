package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "keyless-tips"

// Claims identify a signed-in keyless account. SessionKey locates its
// credential in the session cache.
type Claims struct {
	Address    string `json:"address"`
	SessionKey string `json:"session_key"`
	jwt.RegisteredClaims
}

// GenerateJWT issues an app session token. It never outlives notAfter, the
// expiry of the underlying keyless credential. expiration <= 0 means 24h.
func GenerateJWT(secret, address, sessionKey string, expiration time.Duration, notAfter time.Time) (string, time.Time, error) {
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	now := time.Now()
	exp := now.Add(expiration)
	if !notAfter.IsZero() && notAfter.Before(exp) {
		exp = notAfter
	}

	claims := Claims{
		Address:    address,
		SessionKey: sessionKey,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   address,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	return s, exp, err
}

func ParseJWT(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(issuer))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.Address == "" || claims.SessionKey == "" {
		return nil, fmt.Errorf("token missing address or session key")
	}
	return claims, nil
}
