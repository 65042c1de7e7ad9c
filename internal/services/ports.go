package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/keyless-tips/backend/internal/ledger"
	"github.com/keyless-tips/backend/internal/models"
)

var (
	ErrInvalidTipRequest = errors.New("invalid tip request")
	ErrInvalidProfile    = errors.New("invalid profile")
	ErrProfileNotFound   = errors.New("profile not found")
	ErrProfileExists     = errors.New("profile already exists")
	ErrMirrorWrite       = errors.New("mirror store write failed")
	ErrNoAdminSigner     = errors.New("admin signer not configured")
)

// ProfileStore is the profiles side of the mirror store.
type ProfileStore interface {
	Create(ctx context.Context, p *models.Profile) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error)
	GetBySlug(ctx context.Context, slug string) (*models.Profile, error)
	GetByAddress(ctx context.Context, address string) (*models.Profile, error)
	SetLedgerTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// TipStore is the tips side of the mirror store. CreateWithAggregate must
// apply the tip and the profile aggregate increment atomically.
type TipStore interface {
	CreateWithAggregate(ctx context.Context, t *models.Tip) (*models.Tip, bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tip, error)
	AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error
	MarkPending(ctx context.Context, id uuid.UUID, pendingHash string) error
	SetLedgerStatus(ctx context.Context, id uuid.UUID, status string) error
	ListPending(ctx context.Context, limit int) ([]models.Tip, error)
	ListByProfileSlug(ctx context.Context, slug string, limit, offset int) ([]models.Tip, error)
	CountUnsettledSince(ctx context.Context, since time.Time) (int64, error)
}

type AuditLogger interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

// Ledger is the subset of the ledger client the orchestrator drives.
type Ledger interface {
	QuoteTipSplit(ctx context.Context, amountCents int64) ledger.Quote
	SubmitTip(ctx context.Context, signer ledger.Signer, recipient string, amountCents int64, message string) (string, error)
	SubmitProfileCreation(ctx context.Context, signer ledger.Signer, owner string, category uint8) (string, error)
	ProfileExists(ctx context.Context, addr string) (bool, error)
	AwaitConfirmation(ctx context.Context, txHash string) (ledger.Confirmation, error)
	TransactionStatus(ctx context.Context, txHash string) (ledger.Confirmation, error)
}

// bookkeepingTimeout bounds mirror writes that record what the ledger already
// did. They run detached so an expired request or ledger budget cannot lose a
// submitted transaction reference.
const bookkeepingTimeout = 10 * time.Second

func detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d)
}
