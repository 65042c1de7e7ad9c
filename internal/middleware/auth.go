package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/auth"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/identity"
	"github.com/keyless-tips/backend/internal/rbac"
	"github.com/keyless-tips/backend/internal/session"
	"go.uber.org/zap"
)

const (
	CtxAddress    = "address"
	CtxSessionKey = "session_key"
	CtxCredential = "credential"
)

func bearerClaims(cfg *config.Config, c *fiber.Ctx) (*auth.Claims, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return nil, errMissingHeader
	}
	tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenStr == authHeader {
		return nil, errBadFormat
	}
	return auth.ParseJWT(cfg.JWTSecret, tokenStr)
}

var (
	errMissingHeader = errors.New("missing authorization header")
	errBadFormat     = errors.New("invalid authorization format")
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := bearerClaims(cfg, c)
		switch {
		case errors.Is(err, errMissingHeader), errors.Is(err, errBadFormat):
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
		case err != nil:
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxAddress, claims.Address)
		c.Locals(CtxSessionKey, claims.SessionKey)
		return c.Next()
	}
}

// OptionalAuth sets the caller identity when a valid token is present and
// lets anonymous requests through otherwise.
func OptionalAuth(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Get("Authorization") == "" {
			return c.Next()
		}
		claims, err := bearerClaims(cfg, c)
		if err != nil {
			log.Debug("ignoring invalid token on optional route", zap.Error(err))
			return c.Next()
		}
		c.Locals(CtxAddress, claims.Address)
		c.Locals(CtxSessionKey, claims.SessionKey)
		return c.Next()
	}
}

// RequireCredential loads the keyless credential behind the session. It must
// run after AuthMiddleware. An expired credential is treated as signed out.
func RequireCredential(sessions *session.Cache, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		cred, err := sessions.LoadCredential(c.UserContext(), GetSessionKey(c))
		if err != nil {
			if !errors.Is(err, identity.ErrSessionNotFound) {
				log.Warn("session cache lookup failed", zap.Error(err))
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "session expired, sign in again"})
		}
		if !strings.EqualFold(cred.Address, GetAddress(c)) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "session does not match token"})
		}
		c.Locals(CtxCredential, cred)
		return c.Next()
	}
}

// OptionalCredential attaches the credential when the token's session is
// still live. An expired session makes the request anonymous.
func OptionalCredential(sessions *session.Cache) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := GetSessionKey(c)
		if key == "" {
			return c.Next()
		}
		cred, err := sessions.LoadCredential(c.UserContext(), key)
		if err == nil && strings.EqualFold(cred.Address, GetAddress(c)) {
			c.Locals(CtxCredential, cred)
		}
		return c.Next()
	}
}

func GetAddress(c *fiber.Ctx) string {
	a, _ := c.Locals(CtxAddress).(string)
	return a
}

func GetSessionKey(c *fiber.Ctx) string {
	k, _ := c.Locals(CtxSessionKey).(string)
	return k
}

func GetCredential(c *fiber.Ctx) *identity.Credential {
	cred, _ := c.Locals(CtxCredential).(*identity.Credential)
	return cred
}

// RequirePermission checks the caller's role, resolved from its address and
// the configured admin list.
func RequirePermission(cfg *config.Config, perm string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role := rbac.RoleFor(GetAddress(c), cfg.IsAdmin)
		if !rbac.HasPermission(role, perm) {
			msg := "permission denied"
			if rbac.IsOperatorOperation(perm) {
				msg = "admin access required"
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": msg})
		}
		return c.Next()
	}
}
