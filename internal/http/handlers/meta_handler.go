package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keyless-tips/backend/internal/http/dto"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/keyless-tips/backend/internal/services"
	"github.com/redis/go-redis/v9"
)

type MetaHandler struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
}

func NewMetaHandler(pool *pgxpool.Pool, rdb *redis.Client) *MetaHandler {
	return &MetaHandler{pool: pool, rdb: rdb}
}

type MetaCategory struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

var predefinedCategories = []MetaCategory{
	{ID: models.CategoryRestaurant, Label: "Restaurant"},
	{ID: models.CategoryCreator, Label: "Creator"},
}

func (h *MetaHandler) GetCategories(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: predefinedCategories})
}

func (h *MetaHandler) GetLimits(c *fiber.Ctx) error {
	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"max_message_length": services.MaxTipMessageLen,
		"min_amount_cents":   1,
	}})
}

// Health pings both stores; the service is degraded, not down, without redis.
func (h *MetaHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.Map{"status": "ok", "postgres": "ok", "redis": "ok"}
	code := fiber.StatusOK
	if err := h.pool.Ping(ctx); err != nil {
		status["postgres"] = err.Error()
		status["status"] = "down"
		code = fiber.StatusServiceUnavailable
	}
	if err := h.rdb.Ping(ctx).Err(); err != nil {
		status["redis"] = err.Error()
		if code == fiber.StatusOK {
			status["status"] = "degraded"
		}
	}
	return c.Status(code).JSON(status)
}
