package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/keyless-tips/backend/internal/events"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/metrics"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/keyless-tips/backend/internal/repositories"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SettlementClaims keeps two reconciler replicas off the same transaction.
type SettlementClaims interface {
	Claim(ctx context.Context, txHash string) (bool, error)
	Release(ctx context.Context, txHash string) error
}

type RedisClaims struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisClaims(rdb *redis.Client, ttl time.Duration) *RedisClaims {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisClaims{rdb: rdb, ttl: ttl}
}

func (c *RedisClaims) Claim(ctx context.Context, txHash string) (bool, error) {
	return c.rdb.SetNX(ctx, "reconcile:claim:"+txHash, time.Now().Unix(), c.ttl).Result()
}

func (c *RedisClaims) Release(ctx context.Context, txHash string) error {
	return c.rdb.Del(ctx, "reconcile:claim:"+txHash).Err()
}

type ReconcileConfig struct {
	BatchSize   int
	Workers     int
	MaxAge      time.Duration
	DebtHorizon time.Duration
}

type ReconcileReport struct {
	Checked   int   `json:"checked"`
	Settled   int   `json:"settled"`
	Failed    int   `json:"failed"`
	Expired   int   `json:"expired"`
	Pending   int   `json:"pending"`
	Skipped   int   `json:"skipped"`
	Errors    int   `json:"errors"`
	Unsettled int64 `json:"unsettled"`
}

// ReconcileService resolves tips left with a submitted but unconfirmed
// ledger reference.
type ReconcileService struct {
	tips      TipStore
	audit     AuditLogger
	ledger    Ledger
	claims    SettlementClaims // optional
	publisher events.Publisher
	cfg       ReconcileConfig
	now       func() time.Time
	log       *zap.Logger
}

func NewReconcileService(
	tips TipStore,
	audit AuditLogger,
	ledgerClient Ledger,
	claims SettlementClaims,
	publisher events.Publisher,
	cfg ReconcileConfig,
	log *zap.Logger,
) *ReconcileService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.DebtHorizon <= 0 {
		cfg.DebtHorizon = 30 * 24 * time.Hour
	}
	return &ReconcileService{
		tips:      tips,
		audit:     audit,
		ledger:    ledgerClient,
		claims:    claims,
		publisher: publisher,
		cfg:       cfg,
		now:       time.Now,
		log:       log,
	}
}

// RunOnce checks one batch of pending tips against the ledger.
func (s *ReconcileService) RunOnce(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport

	pending, err := s.tips.ListPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return report, err
	}

	var mu sync.Mutex
	count := func(f func(r *ReconcileReport)) {
		mu.Lock()
		f(&report)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i := range pending {
		tip := pending[i]
		g.Go(func() error {
			result, err := s.reconcileTip(gctx, &tip)
			if err != nil {
				s.log.Warn("reconcile tip failed", zap.String("tip_id", tip.ID.String()), zap.Error(err))
				result = "error"
			}
			metrics.RecordReconcile(result)
			count(func(r *ReconcileReport) {
				r.Checked++
				switch result {
				case "settled":
					r.Settled++
				case "failed":
					r.Failed++
				case "expired":
					r.Expired++
				case "pending":
					r.Pending++
				case "skipped":
					r.Skipped++
				default:
					r.Errors++
				}
			})
			// one bad tip must not stop the batch
			return nil
		})
	}
	_ = g.Wait()

	if n, err := s.tips.CountUnsettledSince(ctx, s.now().Add(-s.cfg.DebtHorizon)); err == nil {
		report.Unsettled = n
		metrics.SetUnsettledTips(n)
	} else {
		s.log.Warn("failed to count unsettled tips", zap.Error(err))
	}

	if report.Checked > 0 {
		s.log.Info("reconcile pass finished",
			zap.Int("checked", report.Checked),
			zap.Int("settled", report.Settled),
			zap.Int("failed", report.Failed),
			zap.Int("expired", report.Expired),
			zap.Int("pending", report.Pending),
			zap.Int("errors", report.Errors),
		)
	}
	return report, ctx.Err()
}

func (s *ReconcileService) reconcileTip(ctx context.Context, tip *models.Tip) (string, error) {
	if tip.PendingTxHash == nil || *tip.PendingTxHash == "" {
		return "skipped", nil
	}
	hash := *tip.PendingTxHash

	if s.claims != nil {
		ok, err := s.claims.Claim(ctx, hash)
		if err != nil {
			return "", err
		}
		if !ok {
			return "skipped", nil
		}
		defer func() { _ = s.claims.Release(context.WithoutCancel(ctx), hash) }()
	}

	conf, err := s.ledger.TransactionStatus(ctx, hash)
	if err != nil {
		return "", err
	}

	switch conf.Outcome {
	case ledger.OutcomeConfirmed:
		if err := s.tips.AttachTxHash(ctx, tip.ID, hash); err != nil {
			if errors.Is(err, repositories.ErrTxHashConflict) {
				s.log.Error("tip already carries another tx hash", zap.String("tip_id", tip.ID.String()), zap.String("tx_hash", hash))
			}
			return "", err
		}
		tip.TxHash = &hash
		tip.LedgerStatus = models.LedgerStatusConfirmed
		s.logAudit(ctx, tip, "tip_settled", map[string]any{"tx_hash": hash, "version": conf.Version})
		_ = s.publisher.Publish(ctx, events.StreamTips, events.Event{
			Type: events.EventTipSettled,
			Payload: map[string]any{
				"tip_id":       tip.ID.String(),
				"profile_slug": tip.ProfileSlug,
				"tx_hash":      hash,
			},
		})
		return "settled", nil

	case ledger.OutcomeFailed:
		if err := s.tips.SetLedgerStatus(ctx, tip.ID, models.LedgerStatusFailed); err != nil {
			return "", err
		}
		s.logAudit(ctx, tip, "tip_settlement_failed", map[string]any{"tx_hash": hash, "vm_status": conf.VMStatus})
		return "failed", nil
	}

	if s.now().Sub(tip.CreatedAt) > s.cfg.MaxAge {
		if err := s.tips.SetLedgerStatus(ctx, tip.ID, models.LedgerStatusFailed); err != nil {
			return "", err
		}
		s.logAudit(ctx, tip, "tip_settlement_expired", map[string]any{"tx_hash": hash})
		return "expired", nil
	}
	return "pending", nil
}

func (s *ReconcileService) logAudit(ctx context.Context, tip *models.Tip, action string, meta map[string]any) {
	err := s.audit.Log(ctx, models.AuditLog{
		ActorType:  "system",
		Action:     action,
		EntityType: "tip",
		EntityID:   &tip.ID,
		Meta:       meta,
	})
	if err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
