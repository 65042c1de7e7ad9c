package handlers

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/identity"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/services"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid tip", fmt.Errorf("%w: amount must be positive", services.ErrInvalidTipRequest), fiber.StatusBadRequest},
		{"unknown profile", fmt.Errorf("%w: %w", services.ErrInvalidTipRequest, services.ErrProfileNotFound), fiber.StatusNotFound},
		{"profile exists", services.ErrProfileExists, fiber.StatusConflict},
		{"pepper down", fmt.Errorf("%w: status 503", identity.ErrPepperService), fiber.StatusServiceUnavailable},
		{"binding", identity.ErrProofBindingInvalid, fiber.StatusUnauthorized},
		{"session gone", identity.ErrSessionNotFound, fiber.StatusUnauthorized},
		{"ledger transient", &ledger.Error{Kind: ledger.Transient, Op: "submit", StatusCode: 502}, fiber.StatusServiceUnavailable},
		{"ledger permanent", &ledger.Error{Kind: ledger.Permanent, Op: "submit", StatusCode: 400}, fiber.StatusUnprocessableEntity},
		{"mirror", services.ErrMirrorWrite, fiber.StatusInternalServerError},
		{"other", errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, msg := errorStatus(tt.err)
			if got != tt.want {
				t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
			}
			if msg == "" {
				t.Error("empty message")
			}
		})
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		cents int64
		major string
		want  int64
		ok    bool
	}{
		{1500, "", 1500, true},
		{0, "15.00", 1500, true},
		{0, "0.5", 50, true},
		{0, "", 0, false},
		{-5, "", 0, false},
		{100, "1.00", 0, false},
		{0, "1.001", 0, false},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.cents, tt.major)
		if tt.ok != (err == nil) {
			t.Errorf("parseAmount(%d, %q) err = %v", tt.cents, tt.major, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseAmount(%d, %q) = %d, want %d", tt.cents, tt.major, got, tt.want)
		}
	}
}
