package auth

import (
	"testing"
	"time"
)

func TestGenerateAndParseJWT(t *testing.T) {
	tok, exp, err := GenerateJWT("secret", "0xabc", "sess-1", time.Hour, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if time.Until(exp) > time.Hour || time.Until(exp) < 59*time.Minute {
		t.Errorf("unexpected expiry %v", exp)
	}

	claims, err := ParseJWT("secret", tok)
	if err != nil {
		t.Fatal(err)
	}
	if claims.Address != "0xabc" || claims.SessionKey != "sess-1" {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := ParseJWT("other-secret", tok); err == nil {
		t.Error("token verified with the wrong secret")
	}
}

func TestGenerateJWTClampedToCredential(t *testing.T) {
	notAfter := time.Now().Add(10 * time.Minute)
	_, exp, err := GenerateJWT("secret", "0xabc", "sess-1", 24*time.Hour, notAfter)
	if err != nil {
		t.Fatal(err)
	}
	if !exp.Equal(notAfter) {
		t.Errorf("expiry %v, want %v", exp, notAfter)
	}
}

func TestParseJWTRejectsExpired(t *testing.T) {
	tok, _, err := GenerateJWT("secret", "0xabc", "sess-1", time.Hour, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ParseJWT("secret", tok); err == nil {
		t.Error("expired token accepted")
	}
}
