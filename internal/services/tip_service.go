package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/keyless-tips/backend/internal/events"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/metrics"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/keyless-tips/backend/internal/repositories"
	"go.uber.org/zap"
)

const (
	MaxTipMessageLen = 280

	StatusConfirmed             = "confirmed"
	StatusRecordedLedgerPending = "recorded_ledger_pending"
	StatusRejected              = "rejected"
)

type TipRequest struct {
	ProfileSlug   string
	AmountCents   int64
	Message       string
	TipperAddress string

	// Signer funds the tip on the ledger. Nil records a mirror-only tip.
	Signer     ledger.Signer
	SkipLedger bool

	// ConfirmedTxHash is a ledger reference the caller already saw confirmed.
	// The tip is then only mirrored, idempotently by hash.
	ConfirmedTxHash string
}

type TipResult struct {
	Tip           *models.Tip  `json:"tip"`
	TxHash        string       `json:"tx_hash,omitempty"`
	// PendingTxHash is a submitted reference whose outcome is not known yet.
	PendingTxHash string       `json:"pending_tx_hash,omitempty"`
	State         string       `json:"state"`
	Status        string       `json:"status"`
	Quote         ledger.Quote `json:"quote"`
	Replayed      bool         `json:"replayed,omitempty"`
	Notice        string       `json:"notice,omitempty"`
}

// TipService commits tips to the mirror store and the ledger. The mirror
// write always comes first; a ledger failure after it leaves the tip
// recorded without a ledger reference.
type TipService struct {
	profiles      ProfileStore
	tips          TipStore
	audit         AuditLogger
	ledger        Ledger
	publisher     events.Publisher
	ledgerTimeout time.Duration
	log           *zap.Logger
}

func NewTipService(
	profiles ProfileStore,
	tips TipStore,
	audit AuditLogger,
	ledgerClient Ledger,
	publisher events.Publisher,
	ledgerTimeout time.Duration,
	log *zap.Logger,
) *TipService {
	if ledgerTimeout <= 0 {
		ledgerTimeout = 2 * time.Minute
	}
	return &TipService{
		profiles:      profiles,
		tips:          tips,
		audit:         audit,
		ledger:        ledgerClient,
		publisher:     publisher,
		ledgerTimeout: ledgerTimeout,
		log:           log,
	}
}

// tipIntent tracks one submission through the tip state machine.
type tipIntent struct {
	state string
	log   *zap.Logger
}

func (i *tipIntent) advance(next string) {
	if !models.IsValidTipTransition(i.state, next) {
		// a bug in the orchestrator, not a runtime condition
		i.log.Error("invalid tip transition", zap.String("from", i.state), zap.String("to", next))
	}
	i.log.Debug("tip transition", zap.String("from", i.state), zap.String("to", next))
	i.state = next
}

func (s *TipService) SubmitTip(ctx context.Context, req TipRequest) (*TipResult, error) {
	in := &tipIntent{state: models.TipStateValidated, log: s.log.With(zap.String("profile_slug", req.ProfileSlug))}

	profile, err := s.validate(ctx, &req)
	if err != nil {
		in.advance(models.TipStateRejected)
		metrics.RecordTipOutcome(in.state, 0)
		return &TipResult{State: in.state, Status: StatusRejected}, err
	}

	quote := s.ledger.QuoteTipSplit(ctx, req.AmountCents)
	if quote.NetCents+quote.FeeCents != req.AmountCents {
		// never trust a split that does not add up
		s.log.Warn("discarding inconsistent fee quote", zap.Any("quote", quote))
		quote = ledger.Quote{AmountCents: req.AmountCents, NetCents: req.AmountCents, Estimated: true}
	}

	tip := &models.Tip{
		ProfileID:        profile.ID,
		ProfileSlug:      profile.Slug,
		AmountCents:      req.AmountCents,
		NetAmountCents:   quote.NetCents,
		PlatformFeeCents: quote.FeeCents,
		FeeEstimated:     quote.Estimated,
		LedgerStatus:     models.LedgerStatusNone,
	}
	if req.TipperAddress != "" {
		tip.TipperAddress = &req.TipperAddress
	}
	if msg := strings.TrimSpace(req.Message); msg != "" {
		tip.Message = &msg
	}
	preConfirmed := req.ConfirmedTxHash != ""
	switch {
	case preConfirmed:
		tip.TxHash = &req.ConfirmedTxHash
		tip.LedgerStatus = models.LedgerStatusConfirmed
	case req.SkipLedger || req.Signer == nil:
		tip.LedgerStatus = models.LedgerStatusSkipped
	}

	in.advance(models.TipStateMirrorPending)
	saved, created, err := s.tips.CreateWithAggregate(ctx, tip)
	if err != nil {
		in.advance(models.TipStateMirrorFailed)
		in.advance(models.TipStateRejected)
		metrics.RecordTipOutcome(in.state, 0)
		s.log.Error("tip mirror write failed", zap.String("profile_slug", profile.Slug), zap.Error(err))
		return &TipResult{State: in.state, Status: StatusRejected, Quote: quote}, fmt.Errorf("%w: %v", ErrMirrorWrite, err)
	}
	in.advance(models.TipStateMirrorCommitted)

	res := &TipResult{Tip: saved, Quote: quote, Replayed: !created}
	var mirrored int64
	if created {
		mirrored = saved.AmountCents
		s.logAudit(ctx, req.TipperAddress, "tip_recorded", saved.ID, map[string]any{
			"profile_slug": saved.ProfileSlug,
			"amount_cents": saved.AmountCents,
			"ledger":       saved.LedgerStatus,
		})
		s.publish(ctx, events.EventTipReceived, saved)
	}

	switch {
	case preConfirmed:
		in.advance(models.TipStateLedgerCommitted)
		res.TxHash = req.ConfirmedTxHash
	case req.SkipLedger || req.Signer == nil:
		in.advance(models.TipStateLedgerFailedMirrorKept)
		res.Notice = "Tip recorded. Ledger settlement was not requested."
	default:
		in.advance(models.TipStateLedgerPending)
		s.settle(ctx, in, res, profile, req)
	}

	res.State = in.state
	res.Status = statusFor(in.state)
	metrics.RecordTipOutcome(in.state, mirrored)
	return res, nil
}

// validate checks the request and canonicalizes a pre-confirmed hash in place,
// so every spelling of one transaction maps to a single mirror row.
func (s *TipService) validate(ctx context.Context, req *TipRequest) (*models.Profile, error) {
	if req.ConfirmedTxHash != "" {
		hash, err := ledger.NormalizeTxHash(req.ConfirmedTxHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidTipRequest, err)
		}
		req.ConfirmedTxHash = hash
	}
	if req.AmountCents <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidTipRequest)
	}
	if strings.TrimSpace(req.ProfileSlug) == "" {
		return nil, fmt.Errorf("%w: profile slug is required", ErrInvalidTipRequest)
	}
	if utf8.RuneCountInString(req.Message) > MaxTipMessageLen {
		return nil, fmt.Errorf("%w: message longer than %d characters", ErrInvalidTipRequest, MaxTipMessageLen)
	}
	profile, err := s.profiles.GetBySlug(ctx, req.ProfileSlug)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTipRequest, ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: profile lookup: %v", ErrMirrorWrite, err)
	}
	return profile, nil
}

// settle runs the ledger half of a tip. Failures here never undo the mirror
// record; they only decide the ledger status left on it.
func (s *TipService) settle(ctx context.Context, in *tipIntent, res *TipResult, profile *models.Profile, req TipRequest) {
	// the mirror is already committed: finish the ledger half even if the
	// caller goes away
	lctx, cancel := detached(ctx, s.ledgerTimeout)
	defer cancel()

	tip := res.Tip
	log := s.log.With(zap.String("tip_id", tip.ID.String()))

	hash, err := s.ledger.SubmitTip(lctx, req.Signer, profile.Address, req.AmountCents, req.Message)
	if err != nil {
		log.Warn("ledger submission failed, tip kept in mirror", zap.Error(err))
		s.degrade(ctx, in, res, models.LedgerStatusFailed, "", "submission_failed", err)
		res.Notice = ledger.UserMessage(err)
		return
	}
	res.PendingTxHash = hash

	conf, err := s.ledger.AwaitConfirmation(lctx, hash)
	if err != nil {
		log.Warn("confirmation polling failed, settlement pending", zap.String("tx_hash", hash), zap.Error(err))
		s.degrade(ctx, in, res, models.LedgerStatusPending, hash, "confirmation_unknown", err)
		res.Notice = "Tip recorded. Ledger settlement is pending."
		return
	}

	switch conf.Outcome {
	case ledger.OutcomeConfirmed:
		bctx, done := detached(ctx, bookkeepingTimeout)
		err := s.tips.AttachTxHash(bctx, tip.ID, hash)
		done()
		if err != nil {
			log.Error("failed to attach confirmed tx hash", zap.String("tx_hash", hash), zap.Error(err))
			s.degrade(ctx, in, res, models.LedgerStatusPending, hash, "attach_failed", err)
			res.Notice = "Tip recorded. Ledger settlement is pending."
			return
		}
		tip.TxHash = &hash
		tip.PendingTxHash = nil
		tip.LedgerStatus = models.LedgerStatusConfirmed
		in.advance(models.TipStateLedgerCommitted)
		res.TxHash = hash
		res.PendingTxHash = ""

		pctx, pdone := detached(ctx, bookkeepingTimeout)
		s.publish(pctx, events.EventTipSettled, tip)
		pdone()
		log.Info("tip settled", zap.String("tx_hash", hash))

	case ledger.OutcomeFailed:
		le := &ledger.Error{Kind: ledger.Permanent, Op: "send_tip", VMStatus: conf.VMStatus}
		s.degrade(ctx, in, res, models.LedgerStatusFailed, "", "execution_failed", le)
		res.PendingTxHash = ""
		res.Notice = le.UserMessage()

	default:
		s.degrade(ctx, in, res, models.LedgerStatusPending, hash, "confirmation_timeout", nil)
		res.Notice = "Tip recorded. Ledger settlement is pending."
	}
}

// degrade records the ledger status left on a mirror-only tip and the
// reconciliation debt. Both writes get their own budget: the ledger budget may
// already be spent.
func (s *TipService) degrade(ctx context.Context, in *tipIntent, res *TipResult, status, pendingHash, reason string, cause error) {
	ctx, cancel := detached(ctx, bookkeepingTimeout)
	defer cancel()

	s.markLedger(ctx, res.Tip, status, pendingHash)
	s.debt(ctx, in, res, reason, cause)
}

func (s *TipService) markLedger(ctx context.Context, tip *models.Tip, status, pendingHash string) {
	var err error
	if status == models.LedgerStatusPending {
		err = s.tips.MarkPending(ctx, tip.ID, pendingHash)
		tip.PendingTxHash = &pendingHash
	} else {
		err = s.tips.SetLedgerStatus(ctx, tip.ID, status)
	}
	tip.LedgerStatus = status
	if err != nil {
		s.log.Error("failed to record ledger status",
			zap.String("tip_id", tip.ID.String()),
			zap.String("status", status),
			zap.String("pending_tx_hash", pendingHash),
			zap.Error(err),
		)
	}
}

// debt moves the intent to its degraded terminal state and records the
// reconciliation debt.
func (s *TipService) debt(ctx context.Context, in *tipIntent, res *TipResult, reason string, cause error) {
	in.advance(models.TipStateLedgerFailedMirrorKept)
	meta := map[string]any{"reason": reason, "ledger_status": res.Tip.LedgerStatus}
	if cause != nil {
		meta["error"] = cause.Error()
	}
	if res.Tip.PendingTxHash != nil {
		meta["pending_tx_hash"] = *res.Tip.PendingTxHash
	}
	s.log.Warn("reconciliation debt", zap.String("tip_id", res.Tip.ID.String()), zap.String("reason", reason))
	s.logAudit(ctx, "", "tip_ledger_debt", res.Tip.ID, meta)
}

func (s *TipService) ListTips(ctx context.Context, slug string, limit, offset int) ([]models.Tip, error) {
	if _, err := s.profiles.GetBySlug(ctx, slug); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, ErrProfileNotFound
		}
		return nil, err
	}
	return s.tips.ListByProfileSlug(ctx, slug, limit, offset)
}

func (s *TipService) QuoteTip(ctx context.Context, amountCents int64) (ledger.Quote, error) {
	if amountCents <= 0 {
		return ledger.Quote{}, fmt.Errorf("%w: amount must be positive", ErrInvalidTipRequest)
	}
	return s.ledger.QuoteTipSplit(ctx, amountCents), nil
}

func (s *TipService) publish(ctx context.Context, eventType string, tip *models.Tip) {
	payload := map[string]any{
		"tip_id":             tip.ID.String(),
		"profile_slug":       tip.ProfileSlug,
		"amount_cents":       tip.AmountCents,
		"net_amount_cents":   tip.NetAmountCents,
		"platform_fee_cents": tip.PlatformFeeCents,
		"ledger_status":      tip.LedgerStatus,
		"created_at":         tip.CreatedAt,
	}
	if tip.Message != nil {
		payload["message"] = *tip.Message
	}
	if tip.TxHash != nil {
		payload["tx_hash"] = *tip.TxHash
	}
	_ = s.publisher.Publish(ctx, events.StreamTips, events.Event{Type: eventType, Payload: payload})
}

func (s *TipService) logAudit(ctx context.Context, actor, action string, tipID uuid.UUID, meta map[string]any) {
	entry := models.AuditLog{
		ActorType:  "user",
		Action:     action,
		EntityType: "tip",
		EntityID:   &tipID,
		Meta:       meta,
	}
	if actor != "" {
		entry.ActorAddr = &actor
	} else {
		entry.ActorType = "system"
	}
	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func statusFor(state string) string {
	switch state {
	case models.TipStateLedgerCommitted:
		return StatusConfirmed
	case models.TipStateLedgerFailedMirrorKept:
		return StatusRecordedLedgerPending
	default:
		return StatusRejected
	}
}
