package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/keyless-tips/backend/internal/auth"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/http/dto"
	"github.com/keyless-tips/backend/internal/identity"
	"github.com/keyless-tips/backend/internal/metrics"
	"github.com/keyless-tips/backend/internal/middleware"
	"github.com/keyless-tips/backend/internal/services"
	"github.com/keyless-tips/backend/internal/session"
	"go.uber.org/zap"
)

type AuthHandler struct {
	exchanger *identity.Exchanger
	sessions  *session.Cache
	profiles  *services.ProfileService
	cfg       *config.Config
	log       *zap.Logger
}

func NewAuthHandler(exchanger *identity.Exchanger, sessions *session.Cache, profiles *services.ProfileService, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{exchanger: exchanger, sessions: sessions, profiles: profiles, cfg: cfg, log: log}
}

// Begin starts a keyless sign-in and returns the provider URL to redirect to.
func (h *AuthHandler) Begin(c *fiber.Ctx) error {
	var req dto.BeginAuthRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
		}
	}
	if req.ClientKey == "" {
		req.ClientKey = uuid.NewString()
	}

	sess, err := h.exchanger.BeginSession(c.UserContext(), req.ClientKey)
	if err != nil {
		h.log.Error("begin session failed", zap.Error(err))
		return respondError(c, err)
	}
	authURL, err := h.exchanger.BuildAuthorizationURL(sess, "", req.RedirectURI)
	if err != nil {
		h.log.Error("build authorization url failed", zap.Error(err))
		return respondError(c, err)
	}

	return c.JSON(dto.BeginAuthResponse{
		ClientKey:        req.ClientKey,
		SessionID:        sess.ID,
		Nonce:            sess.Key.Nonce,
		AuthorizationURL: authURL,
		ExpiresAt:        sess.Key.ExpiresAt,
	})
}

// Complete exchanges the provider callback for a keyless credential and
// issues an app token bound to it.
func (h *AuthHandler) Complete(c *fiber.Ctx) error {
	var req dto.CompleteAuthRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}
	if req.ClientKey == "" || req.CallbackURL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "client_key and callback_url are required"})
	}

	cred, err := h.exchanger.CompleteSessionWithRetry(c.UserContext(), req.ClientKey, req.CallbackURL)
	if err != nil {
		metrics.RecordIdentityExchange(exchangeOutcome(err))
		h.log.Info("keyless sign-in failed", zap.Error(err))
		return respondError(c, err)
	}
	metrics.RecordIdentityExchange("ok")

	token, exp, err := auth.GenerateJWT(h.cfg.JWTSecret, cred.Address, req.ClientKey, h.cfg.JWTExpiration, cred.ExpiresAt)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	resp := dto.AuthResponse{Token: token, ExpiresAt: exp, Address: cred.Address, Email: cred.Email}
	if p, err := h.profiles.GetByAddress(c.UserContext(), cred.Address); err == nil {
		resp.Profile = p
	}
	return c.JSON(resp)
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if err := h.sessions.Clear(c.UserContext(), middleware.GetSessionKey(c)); err != nil {
		h.log.Warn("failed to clear session", zap.Error(err))
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// Me reports the signed-in account and its profile, if one exists.
func (h *AuthHandler) Me(c *fiber.Ctx) error {
	cred := middleware.GetCredential(c)
	data := fiber.Map{
		"address":    cred.Address,
		"email":      cred.Email,
		"issuer":     cred.Issuer,
		"expires_at": cred.ExpiresAt,
	}
	p, err := h.profiles.GetByAddress(c.UserContext(), cred.Address)
	switch {
	case err == nil:
		data["profile"] = p
	case !errors.Is(err, services.ErrProfileNotFound):
		h.log.Error("profile lookup failed", zap.Error(err))
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: data})
}

func exchangeOutcome(err error) string {
	switch {
	case errors.Is(err, identity.ErrPepperService):
		return "pepper_unavailable"
	case errors.Is(err, identity.ErrProofService):
		return "prover_unavailable"
	case errors.Is(err, identity.ErrProofBindingInvalid):
		return "binding_invalid"
	case errors.Is(err, identity.ErrSessionNotFound):
		return "session_missing"
	default:
		return "invalid"
	}
}
