package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/http/dto"
	"github.com/keyless-tips/backend/internal/middleware"
	"github.com/keyless-tips/backend/internal/services"
	"go.uber.org/zap"
)

type ProfileHandler struct {
	profileService *services.ProfileService
	tipService     *services.TipService
	log            *zap.Logger
}

func NewProfileHandler(profileService *services.ProfileService, tipService *services.TipService, log *zap.Logger) *ProfileHandler {
	return &ProfileHandler{profileService: profileService, tipService: tipService, log: log}
}

func (h *ProfileHandler) CreateProfile(c *fiber.Ctx) error {
	var req dto.CreateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	res, err := h.profileService.CreateProfile(c.UserContext(), services.CreateProfileRequest{
		Address:     middleware.GetAddress(c),
		Slug:        req.Slug,
		Category:    req.Category,
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
	})
	if err != nil {
		return respondError(c, err)
	}

	status := fiber.StatusCreated
	if res.Pending {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(dto.SuccessResponse{OK: true, Data: res})
}

func (h *ProfileHandler) GetProfile(c *fiber.Ctx) error {
	p, err := h.profileService.GetBySlug(c.UserContext(), c.Params("slug"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: p})
}

func (h *ProfileHandler) ListTips(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	tips, err := h.tipService.ListTips(c.UserContext(), c.Params("slug"), limit, offset)
	if err != nil {
		if status, _ := errorStatus(err); status == fiber.StatusInternalServerError {
			h.log.Error("list tips failed", zap.Error(err))
		}
		return respondError(c, err)
	}
	return c.JSON(dto.ListResponse{Items: tips, Limit: limit, Offset: offset})
}
