package config

import (
	"testing"
	"time"
)

func TestIsAdmin(t *testing.T) {
	cfg := &Config{AdminAddresses: []string{"0xAD", "0x00000000000000000000000000000000000000000000000000000000000000bb"}}

	tests := []struct {
		addr string
		want bool
	}{
		{"0x00000000000000000000000000000000000000000000000000000000000000ad", true},
		{"0xad", true},
		{"0xbb", true},
		{"0xcc", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := cfg.IsAdmin(tt.addr); got != tt.want {
			t.Errorf("IsAdmin(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("got %v", got)
	}
	t.Setenv("TEST_DURATION", "soon")
	if got := getEnvDuration("TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("invalid value should fall back, got %v", got)
	}
}

func TestParseList(t *testing.T) {
	got := parseList(" 0xa, ,0xb ")
	if len(got) != 2 || got[0] != "0xa" || got[1] != "0xb" {
		t.Errorf("parseList = %v", got)
	}
}
