package middleware

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/auth"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/rbac"
	"go.uber.org/zap"
)

func TestRequestIDMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(RequestIDMiddleware())
	app.Get("/", func(c *fiber.Ctx) error {
		return c.SendString(RequestID(c.UserContext()))
	})

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"missing", "", false},
		{"valid", "req-12345678", true},
		{"too short", "abc", false},
		{"bad chars", "req id with spaces", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Request-ID", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			got := resp.Header.Get("X-Request-ID")
			if got == "" {
				t.Fatal("no request id set")
			}
			if tt.keep && got != tt.header {
				t.Errorf("got %q, want %q", got, tt.header)
			}
			if !tt.keep && got == tt.header {
				t.Errorf("untrusted id %q was echoed", got)
			}
		})
	}
}

func TestAuthAndPermissions(t *testing.T) {
	cfg := &config.Config{JWTSecret: "test-secret", AdminAddresses: []string{"0xad"}}

	app := fiber.New()
	app.Use(AuthMiddleware(cfg, zap.NewNop()))
	app.Get("/me", func(c *fiber.Ctx) error { return c.SendString(GetAddress(c)) })
	app.Post("/reconcile", RequirePermission(cfg, rbac.PermReconcile), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})

	token := func(addr string) string {
		tok, _, err := auth.GenerateJWT(cfg.JWTSecret, addr, "session-1", time.Hour, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		return "Bearer " + tok
	}

	tests := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no header", "GET", "/me", "", fiber.StatusUnauthorized},
		{"not bearer", "GET", "/me", "Token abc", fiber.StatusUnauthorized},
		{"garbage token", "GET", "/me", "Bearer abc", fiber.StatusUnauthorized},
		{"member", "GET", "/me", token("0xbb"), fiber.StatusOK},
		{"member reconcile", "POST", "/reconcile", token("0xbb"), fiber.StatusForbidden},
		{"admin reconcile", "POST", "/reconcile", token("0x00ad"), fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(""))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			if err != nil {
				t.Fatal(err)
			}
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}
