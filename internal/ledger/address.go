package ledger

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// NormalizeAddress accepts a hex account address with or without the 0x
// prefix, short or full length, and returns the canonical 0x + 64 lowercase
// hex form.
func NormalizeAddress(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" || len(s) > 64 {
		return "", fmt.Errorf("invalid address format: %q", raw)
	}
	if _, err := hex.DecodeString(padHex(s)); err != nil {
		return "", fmt.Errorf("invalid address hex: %w", err)
	}
	return "0x" + strings.ToLower(strings.Repeat("0", 64-len(s))+s), nil
}

func padHex(s string) string {
	if len(s)%2 == 1 {
		return "0" + s
	}
	return s
}

func decodeHex(s string) ([]byte, error) {
	return hex.DecodeString(padHex(strings.TrimPrefix(s, "0x")))
}

// NormalizeTxHash returns a transaction hash as 0x + 64 lowercase hex. Hashes
// are fixed length, so short forms are rejected rather than padded.
func NormalizeTxHash(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return "", fmt.Errorf("invalid transaction hash length: %q", raw)
	}
	if _, err := hex.DecodeString(s); err != nil {
		return "", fmt.Errorf("invalid transaction hash hex: %w", err)
	}
	return "0x" + strings.ToLower(s), nil
}
