package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/http/dto"
	"github.com/keyless-tips/backend/internal/identity"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/middleware"
	"github.com/keyless-tips/backend/internal/services"
)

// errorStatus maps service and upstream errors to an HTTP status and a
// message safe to show the user.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrProfileNotFound):
		return fiber.StatusNotFound, "profile not found"
	case errors.Is(err, services.ErrInvalidTipRequest), errors.Is(err, services.ErrInvalidProfile):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrProfileExists):
		return fiber.StatusConflict, "profile already exists"
	case errors.Is(err, services.ErrNoAdminSigner):
		return fiber.StatusServiceUnavailable, "profile creation is not available"

	case errors.Is(err, identity.ErrAssertionMissing), errors.Is(err, identity.ErrAssertionInvalid):
		return fiber.StatusBadRequest, "identity assertion missing or malformed"
	case errors.Is(err, identity.ErrSessionNotFound):
		return fiber.StatusUnauthorized, "sign-in session expired, start again"
	case errors.Is(err, identity.ErrProofBindingInvalid):
		return fiber.StatusUnauthorized, "identity assertion does not match this session"
	case errors.Is(err, identity.ErrPepperService), errors.Is(err, identity.ErrProofService):
		return fiber.StatusServiceUnavailable, "identity services unavailable"

	case errors.Is(err, ledger.ErrUnavailable):
		return fiber.StatusServiceUnavailable, "ledger unavailable, try again shortly"
	case ledger.IsPermanent(err):
		return fiber.StatusUnprocessableEntity, ledger.UserMessage(err)
	}
	return fiber.StatusInternalServerError, "internal error"
}

func respondError(c *fiber.Ctx, err error) error {
	status, msg := errorStatus(err)
	return c.Status(status).JSON(dto.ErrorResponse{Error: msg, RequestID: middleware.RequestID(c.UserContext())})
}

// ErrorHandler is the fiber fallback for errors returned by handlers.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(dto.ErrorResponse{Error: fe.Message})
	}
	return respondError(c, err)
}

var (
	errAmountRequired  = errors.New("amount must be positive")
	errAmountAmbiguous = errors.New("give either amount or amount_cents, not both")
)
