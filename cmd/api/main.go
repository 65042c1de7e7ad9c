package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/keyless-tips/backend/internal/app"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/db"
	"github.com/keyless-tips/backend/internal/events"
	apphttp "github.com/keyless-tips/backend/internal/http"
	"github.com/keyless-tips/backend/internal/http/handlers"
	"github.com/keyless-tips/backend/internal/identity"
	"github.com/keyless-tips/backend/internal/repositories"
	"github.com/keyless-tips/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := app.Connect(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to connect to stores", zap.Error(err))
	}
	defer infra.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, infra.Pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Repositories
	profileRepo := repositories.NewProfileRepo(infra.Pool)
	tipRepo := repositories.NewTipRepo(infra.Pool)
	auditRepo := repositories.NewAuditRepo(infra.Pool)

	// Events
	publisher := events.NewRedisPublisher(infra.Redis, log)
	subscriber := events.NewRedisSubscriber(infra.Redis, log)

	// Ledger
	ledgerClient, err := app.NewLedgerClient(cfg, infra.Redis, log)
	if err != nil {
		log.Fatal("failed to create ledger client", zap.Error(err))
	}
	adminSigner := app.NewAdminSigner(cfg, log)

	// Identity
	sessions := app.NewSessionCache(cfg, infra.Redis, log)
	verifier := identity.NewAssertionVerifier(cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCJWKSURL, cfg.UpstreamTimeout, log.Named("assertion"))
	exchanger := identity.NewExchanger(identity.Config{
		AuthURL:      cfg.OIDCAuthURL,
		ClientID:     cfg.OIDCClientID,
		RedirectURI:  cfg.OIDCRedirectURI,
		EphemeralTTL: cfg.EphemeralKeyTTL,
		MaxRetries:   cfg.UpstreamRetries,
	}, sessions,
		verifier,
		identity.NewPepperClient(cfg.PepperServiceURL, cfg.UpstreamTimeout, log.Named("pepper")),
		identity.NewProverClient(cfg.ProverServiceURL, cfg.UpstreamTimeout, log.Named("prover")),
		log.Named("identity"),
	)

	// Services
	tipService := services.NewTipService(profileRepo, tipRepo, auditRepo, ledgerClient, publisher, cfg.LedgerTipTimeout, log.Named("tips"))
	profileService := services.NewProfileService(profileRepo, auditRepo, ledgerClient, adminSigner, publisher, cfg.LedgerTipTimeout, log.Named("profiles"))
	reconciler := app.NewReconciler(cfg, infra, ledgerClient, log)

	// Handlers
	wsHub := handlers.NewWSHub(subscriber, log)
	h := apphttp.Handlers{
		Auth:    handlers.NewAuthHandler(exchanger, sessions, profileService, cfg, log),
		Profile: handlers.NewProfileHandler(profileService, tipService, log),
		Tip:     handlers.NewTipHandler(tipService, log),
		Admin:   handlers.NewAdminHandler(reconciler, profileService, ledgerClient, log),
		Meta:    handlers.NewMetaHandler(infra.Pool, infra.Redis),
		WS:      wsHub,
	}

	// Start WS hub
	if err := wsHub.Start(ctx); err != nil {
		log.Error("live tip feed unavailable", zap.Error(err))
	}

	// Warm the fee schedule; quotes fall back to the configured rate if this fails
	if _, err := ledgerClient.GetFeeSchedule(ctx); err != nil {
		log.Warn("fee schedule not loaded", zap.Error(err))
	}

	server := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler,
	})

	apphttp.SetupRouter(server, cfg, log, infra.Redis, sessions, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = server.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := server.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
