package identity

import (
	"regexp"
	"testing"
	"time"
)

var addrPattern = regexp.MustCompile(`^0x[0-9a-f]{64}$`)

func TestDeriveAddressDeterministic(t *testing.T) {
	pepper := []byte("pepper-bytes")
	a := DeriveAddress("https://accounts.example.com", "sub-1", pepper)
	b := DeriveAddress("https://accounts.example.com", "sub-1", pepper)
	if a != b {
		t.Fatalf("same inputs produced %s and %s", a, b)
	}
	if !addrPattern.MatchString(a) {
		t.Errorf("address %q is not 0x + 32 bytes hex", a)
	}

	variants := []string{
		DeriveAddress("https://accounts.example.com", "sub-2", pepper),
		DeriveAddress("https://other.example.com", "sub-1", pepper),
		DeriveAddress("https://accounts.example.com", "sub-1", []byte("other-pepper")),
	}
	for i, v := range variants {
		if v == a {
			t.Errorf("variant %d collided with base address", i)
		}
	}
}

func TestDeriveAddressFieldBoundaries(t *testing.T) {
	// length prefixes keep ("ab","c") and ("a","bc") apart
	if DeriveAddress("iss", "ab", []byte("c")) == DeriveAddress("iss", "a", []byte("bc")) {
		t.Fatal("field boundaries are ambiguous")
	}
}

func TestNonceCommitsToKeyMaterial(t *testing.T) {
	s, err := NewEphemeralSession(time.Now(), time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if got := ComputeNonce(s.Key.PublicKey, s.Key.ExpiresAt, s.Key.Blinder); got != s.Key.Nonce {
		t.Fatalf("nonce not reproducible: %s vs %s", got, s.Key.Nonce)
	}
	if ComputeNonce(s.Key.PublicKey, s.Key.ExpiresAt.Add(time.Second), s.Key.Blinder) == s.Key.Nonce {
		t.Error("nonce ignores expiry")
	}
	if len(s.Key.Blinder) != BlinderSize {
		t.Errorf("blinder is %d bytes", len(s.Key.Blinder))
	}
}

func TestCredentialValidity(t *testing.T) {
	now := time.Now()
	c := &Credential{
		ExpiresAt: now.Add(time.Hour),
		Ephemeral: EphemeralKeyPair{ExpiresAt: now.Add(time.Minute)},
	}
	if !c.IsValid(now) {
		t.Fatal("fresh credential reported invalid")
	}
	if c.IsValid(now.Add(2 * time.Minute)) {
		t.Error("credential valid after ephemeral key expired")
	}
	var nilCred *Credential
	if nilCred.IsValid(now) {
		t.Error("nil credential valid")
	}
}
