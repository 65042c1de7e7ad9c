package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/http/handlers"
	"github.com/keyless-tips/backend/internal/metrics"
	"github.com/keyless-tips/backend/internal/middleware"
	"github.com/keyless-tips/backend/internal/rbac"
	"github.com/keyless-tips/backend/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Auth    *handlers.AuthHandler
	Profile *handlers.ProfileHandler
	Tip     *handlers.TipHandler
	Admin   *handlers.AdminHandler
	Meta    *handlers.MetaHandler
	WS      *handlers.WSHub
}

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	sessions *session.Cache,
	h Handlers,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))
	app.Use(middleware.MetricsMiddleware())

	app.Get("/health", h.Meta.Health)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api/v1")

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	api.Post("/auth/begin", h.Auth.Begin)
	api.Post("/auth/complete", h.Auth.Complete)

	api.Get("/meta/categories", h.Meta.GetCategories)
	api.Get("/meta/limits", h.Meta.GetLimits)
	api.Get("/fees/quote", h.Tip.Quote)
	api.Get("/profiles/:slug", h.Profile.GetProfile)
	api.Get("/profiles/:slug/tips", h.Profile.ListTips)

	// Tips: anonymous or signed in
	api.Post("/tips",
		middleware.OptionalAuth(cfg, log),
		middleware.OptionalCredential(sessions),
		h.Tip.SubmitTip,
	)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))
	protected.Post("/auth/logout", h.Auth.Logout)

	signedIn := protected.Group("", middleware.RequireCredential(sessions, log))
	signedIn.Get("/me", h.Auth.Me)
	signedIn.Post("/profiles", middleware.RequirePermission(cfg, rbac.PermCreateProfile), h.Profile.CreateProfile)

	admin := protected.Group("/admin")
	admin.Post("/reconcile", middleware.RequirePermission(cfg, rbac.PermReconcile), h.Admin.Reconcile)
	admin.Post("/fees/refresh", middleware.RequirePermission(cfg, rbac.PermRefreshFees), h.Admin.RefreshFees)
	admin.Get("/ledger/:address", middleware.RequirePermission(cfg, rbac.PermInspectLedger), h.Admin.LedgerAccount)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WS.HandleWS))
}
