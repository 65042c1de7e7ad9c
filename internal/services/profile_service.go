package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/keyless-tips/backend/internal/events"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/models"
	"github.com/keyless-tips/backend/internal/repositories"
	"go.uber.org/zap"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,62}[a-z0-9])$`)

type CreateProfileRequest struct {
	Address     string
	Slug        string
	Category    string
	DisplayName string
	Bio         string
}

type ProfileResult struct {
	Profile *models.Profile `json:"profile"`
	TxHash  string          `json:"tx_hash,omitempty"`
	Pending bool            `json:"pending,omitempty"`
}

// ProfileService creates profiles on both sides. The mirror row is written
// first and removed again if the ledger refuses the profile.
type ProfileService struct {
	profiles      ProfileStore
	audit         AuditLogger
	ledger        Ledger
	adminSigner   ledger.Signer
	publisher     events.Publisher
	ledgerTimeout time.Duration
	log           *zap.Logger
}

func NewProfileService(
	profiles ProfileStore,
	audit AuditLogger,
	ledgerClient Ledger,
	adminSigner ledger.Signer,
	publisher events.Publisher,
	ledgerTimeout time.Duration,
	log *zap.Logger,
) *ProfileService {
	if ledgerTimeout <= 0 {
		ledgerTimeout = 2 * time.Minute
	}
	return &ProfileService{
		profiles:      profiles,
		audit:         audit,
		ledger:        ledgerClient,
		adminSigner:   adminSigner,
		publisher:     publisher,
		ledgerTimeout: ledgerTimeout,
		log:           log,
	}
}

func (s *ProfileService) CreateProfile(ctx context.Context, req CreateProfileRequest) (*ProfileResult, error) {
	addr, err := ledger.NormalizeAddress(req.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	slug := strings.ToLower(strings.TrimSpace(req.Slug))
	if !slugPattern.MatchString(slug) {
		return nil, fmt.Errorf("%w: slug must be 3-64 lowercase letters, digits or dashes", ErrInvalidProfile)
	}
	code, ok := models.CategoryCode(req.Category)
	if !ok {
		return nil, fmt.Errorf("%w: category must be one of %v", ErrInvalidProfile, models.AllCategories)
	}
	name := strings.TrimSpace(req.DisplayName)
	if name == "" {
		return nil, fmt.Errorf("%w: display name is required", ErrInvalidProfile)
	}
	if s.adminSigner == nil {
		return nil, ErrNoAdminSigner
	}

	if _, err := s.profiles.GetByAddress(ctx, addr); err == nil {
		return nil, ErrProfileExists
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return nil, err
	}

	// an on-chain profile without a mirror row cannot be created again
	if exists, err := s.ledger.ProfileExists(ctx, addr); err != nil {
		s.log.Warn("on-chain profile check failed, submitting anyway", zap.String("address", addr), zap.Error(err))
	} else if exists {
		s.log.Warn("profile exists on ledger but not in mirror", zap.String("address", addr))
		return nil, ErrProfileExists
	}

	p := &models.Profile{
		Address:     addr,
		Slug:        slug,
		Category:    req.Category,
		DisplayName: name,
	}
	if bio := strings.TrimSpace(req.Bio); bio != "" {
		p.Bio = &bio
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		if errors.Is(err, repositories.ErrDuplicate) {
			return nil, ErrProfileExists
		}
		return nil, fmt.Errorf("%w: %v", ErrMirrorWrite, err)
	}

	// the mirror row exists now: finish the ledger half even if the caller
	// goes away
	lctx, cancel := detached(ctx, s.ledgerTimeout)
	defer cancel()

	hash, err := s.ledger.SubmitProfileCreation(lctx, s.adminSigner, addr, code)
	if err != nil {
		s.rollback(ctx, p, err)
		return nil, err
	}

	conf, waitErr := s.ledger.AwaitConfirmation(lctx, hash)
	if waitErr == nil && conf.Outcome == ledger.OutcomeFailed {
		err := &ledger.Error{Kind: ledger.Permanent, Op: "create_profile", VMStatus: conf.VMStatus}
		s.rollback(ctx, p, err)
		return nil, err
	}

	bctx, done := detached(ctx, bookkeepingTimeout)
	defer done()

	res := &ProfileResult{Profile: p, TxHash: hash}
	if err := s.profiles.SetLedgerTxHash(bctx, p.ID, hash); err != nil {
		s.log.Error("failed to store profile tx hash", zap.String("profile_id", p.ID.String()), zap.String("tx_hash", hash), zap.Error(err))
	} else {
		p.LedgerTxHash = &hash
	}
	if waitErr != nil || conf.Outcome != ledger.OutcomeConfirmed {
		// submitted but not observed yet; the profile stays
		res.Pending = true
		s.log.Warn("profile creation not yet confirmed", zap.String("slug", slug), zap.String("tx_hash", hash))
	}

	s.logAudit(bctx, addr, "profile_created", p, map[string]any{"slug": slug, "tx_hash": hash, "pending": res.Pending})
	_ = s.publisher.Publish(bctx, events.StreamTips, events.Event{
		Type: events.EventProfileCreated,
		Payload: map[string]any{
			"profile_id":   p.ID.String(),
			"profile_slug": slug,
			"category":     p.Category,
		},
	})

	s.log.Info("profile created",
		zap.String("slug", slug),
		zap.String("address", addr),
		zap.String("tx_hash", hash),
	)
	return res, nil
}

// rollback removes the mirror row of a profile the ledger refused.
func (s *ProfileService) rollback(ctx context.Context, p *models.Profile, cause error) {
	// undo even if the request context is already cancelled
	ctx, cancel := detached(ctx, bookkeepingTimeout)
	defer cancel()

	s.log.Warn("profile ledger creation failed, rolling back mirror row",
		zap.String("slug", p.Slug),
		zap.Error(cause),
	)
	if err := s.profiles.Delete(ctx, p.ID); err != nil {
		s.log.Error("profile rollback failed", zap.String("profile_id", p.ID.String()), zap.Error(err))
	}
	s.logAudit(ctx, p.Address, "profile_rolled_back", p, map[string]any{"slug": p.Slug, "error": cause.Error()})
}

func (s *ProfileService) GetBySlug(ctx context.Context, slug string) (*models.Profile, error) {
	p, err := s.profiles.GetBySlug(ctx, slug)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

func (s *ProfileService) GetByAddress(ctx context.Context, address string) (*models.Profile, error) {
	addr, err := ledger.NormalizeAddress(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	p, err := s.profiles.GetByAddress(ctx, addr)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, ErrProfileNotFound
	}
	return p, err
}

func (s *ProfileService) logAudit(ctx context.Context, actor, action string, p *models.Profile, meta map[string]any) {
	err := s.audit.Log(ctx, models.AuditLog{
		ActorAddr:  &actor,
		ActorType:  "user",
		Action:     action,
		EntityType: "profile",
		EntityID:   &p.ID,
		Meta:       meta,
	})
	if err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
