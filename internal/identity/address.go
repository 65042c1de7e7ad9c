package identity

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/sha3"
)

// KeylessScheme is the authentication-key scheme byte appended before hashing
// the keyless public key into an account address.
const KeylessScheme byte = 0x05

const (
	seedPrefix    = "keyless-address-seed/"
	bindingPrefix = "keyless-binding/"
)

// AddressSeed hides the subject behind the pepper.
func AddressSeed(issuer, subject string, pepper []byte) [32]byte {
	msg := []byte(seedPrefix)
	msg = appendLenPrefixed(msg, []byte(issuer))
	msg = appendLenPrefixed(msg, []byte(subject))
	msg = appendLenPrefixed(msg, pepper)
	return sha3.Sum256(msg)
}

// DeriveAddress maps (issuer, subject, pepper) to a 0x-prefixed 32-byte
// ledger address. The same inputs always yield the same address.
func DeriveAddress(issuer, subject string, pepper []byte) string {
	seed := AddressSeed(issuer, subject, pepper)

	pk := appendLenPrefixed(nil, []byte(issuer))
	pk = append(pk, seed[:]...)
	pk = append(pk, KeylessScheme)

	sum := sha3.Sum256(pk)
	return "0x" + hex.EncodeToString(sum[:])
}

// BindingHash is the public-inputs hash a valid proof must carry for this
// assertion, ephemeral key, pepper and expiry.
func BindingHash(assertion string, epk ed25519.PublicKey, pepper []byte, expiresAt time.Time) string {
	msg := []byte(bindingPrefix)
	msg = appendLenPrefixed(msg, []byte(assertion))
	msg = appendLenPrefixed(msg, epk)
	msg = appendLenPrefixed(msg, pepper)

	expBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(expBytes, uint64(expiresAt.Unix()))
	msg = append(msg, expBytes...)

	sum := sha3.Sum256(msg)
	return hex.EncodeToString(sum[:])
}

func appendLenPrefixed(dst, b []byte) []byte {
	l := make([]byte, 4)
	binary.BigEndian.PutUint32(l, uint32(len(b)))
	dst = append(dst, l...)
	return append(dst, b...)
}
