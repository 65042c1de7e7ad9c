// Package app wires the shared infrastructure used by every binary.
package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keyless-tips/backend/internal/config"
	"github.com/keyless-tips/backend/internal/db"
	"github.com/keyless-tips/backend/internal/events"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/repositories"
	"github.com/keyless-tips/backend/internal/services"
	"github.com/keyless-tips/backend/internal/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Infra struct {
	Pool  *pgxpool.Pool
	Redis *redis.Client
}

func Connect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Infra, error) {
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, int32(cfg.PostgresMaxConns), log)
	if err != nil {
		return nil, err
	}
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &Infra{Pool: pool, Redis: rdb}, nil
}

func (i *Infra) Close() {
	_ = i.Redis.Close()
	i.Pool.Close()
}

func NewLedgerClient(cfg *config.Config, rdb *redis.Client, log *zap.Logger) (*ledger.Client, error) {
	policy := ledger.DefaultRetryPolicy()
	policy.MaxRetries = uint64(max(cfg.LedgerMaxRetries, 0))

	return ledger.NewClient(ledger.Config{
		NodeURL:        cfg.LedgerNodeURL,
		ModuleAddress:  cfg.LedgerModuleAddress,
		Timeout:        cfg.UpstreamTimeout,
		ConfirmTimeout: cfg.LedgerConfirmTimeout,
		PollInterval:   cfg.LedgerPollInterval,
		Retry:          policy,
		DefaultFeeBPS:  int64(cfg.PlatformFeeBPS),
		FeeCacheTTL:    cfg.FeeCacheTTL,
	}, rdb, log.Named("ledger"))
}

// NewAdminSigner returns nil when no admin key is configured or it cannot be
// parsed; profile creation is then refused.
func NewAdminSigner(cfg *config.Config, log *zap.Logger) ledger.Signer {
	if cfg.LedgerAdminPrivateKey == "" {
		return nil
	}
	s, err := ledger.NewAdminSigner(cfg.LedgerAdminPrivateKey, cfg.AdminTxPerSecond)
	if err != nil {
		log.Error("invalid admin key, profile creation disabled", zap.Error(err))
		return nil
	}
	log.Info("admin signer loaded", zap.String("address", s.Address()))
	return s
}

func NewSessionCache(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *session.Cache {
	var store session.Store
	switch cfg.SessionBackend {
	case "memory":
		store = session.NewMemoryStore(10 * time.Minute)
	default:
		store = session.NewRedisStore(rdb)
	}
	return session.NewCache(store, log.Named("session"))
}

func NewReconciler(cfg *config.Config, infra *Infra, ledgerClient *ledger.Client, log *zap.Logger) *services.ReconcileService {
	return services.NewReconcileService(
		repositories.NewTipRepo(infra.Pool),
		repositories.NewAuditRepo(infra.Pool),
		ledgerClient,
		services.NewRedisClaims(infra.Redis, 2*cfg.LedgerConfirmTimeout),
		events.NewRedisPublisher(infra.Redis, log),
		services.ReconcileConfig{
			BatchSize: cfg.ReconcileBatch,
			Workers:   cfg.ReconcileWorkers,
			MaxAge:    cfg.ReconcileMaxAge,
		},
		log.Named("reconcile"),
	)
}
