package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keyless-tips/backend/internal/app"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/metrics"
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

	ledgerClient, err := app.NewLedgerClient(cfg, infra.Redis, log)
	if err != nil {
		log.Fatal("failed to create ledger client", zap.Error(err))
	}
	reconciler := app.NewReconciler(cfg, infra, ledgerClient, log)

	metricsSrv := &http.Server{Addr: ":" + cfg.ReconcilerMetricsPort, Handler: metrics.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics listener stopped", zap.Error(err))
		}
	}()
	defer metricsSrv.Close()

	log.Info("reconciler started",
		zap.Duration("interval", cfg.ReconcileInterval),
		zap.Int("workers", cfg.ReconcileWorkers),
	)

	reconcileTicker := time.NewTicker(cfg.ReconcileInterval)
	feeTicker := time.NewTicker(cfg.FeeCacheTTL)
	defer reconcileTicker.Stop()
	defer feeTicker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runReconcile(ctx, reconciler, log)
	for {
		select {
		case <-reconcileTicker.C:
			runReconcile(ctx, reconciler, log)
		case <-feeTicker.C:
			runFeeRefresh(ctx, ledgerClient, log)
		case <-sigCh:
			log.Info("shutting down reconciler")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

func runReconcile(ctx context.Context, reconciler *services.ReconcileService, log *zap.Logger) {
	if _, err := reconciler.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("reconcile pass failed", zap.Error(err))
	}
}

func runFeeRefresh(ctx context.Context, ledgerClient *ledger.Client, log *zap.Logger) {
	fs, err := ledgerClient.RefreshFeeSchedule(ctx)
	if err != nil {
		log.Warn("fee schedule refresh failed", zap.Error(err))
		return
	}
	log.Debug("fee schedule refreshed", zap.Int64("fee_bps", fs.FeeBPS))
}
