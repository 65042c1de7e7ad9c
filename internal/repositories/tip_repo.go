package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keyless-tips/backend/internal/models"
)

// ErrTxHashConflict is returned when a different ledger reference is already
// attached to the tip.
var ErrTxHashConflict = errors.New("tip already carries a different tx hash")

type TipRepo struct {
	pool *pgxpool.Pool
}

func NewTipRepo(pool *pgxpool.Pool) *TipRepo {
	return &TipRepo{pool: pool}
}

const tipColumns = `id, profile_id, profile_slug, tipper_address, amount_cents, net_amount_cents,
	platform_fee_cents, fee_estimated, message, tx_hash, pending_tx_hash, ledger_status, created_at`

func scanTip(row pgx.Row) (*models.Tip, error) {
	var t models.Tip
	err := row.Scan(&t.ID, &t.ProfileID, &t.ProfileSlug, &t.TipperAddress, &t.AmountCents, &t.NetAmountCents,
		&t.PlatformFeeCents, &t.FeeEstimated, &t.Message, &t.TxHash, &t.PendingTxHash, &t.LedgerStatus, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// CreateWithAggregate records a tip and folds it into the profile aggregates
// in one transaction. The profile row is locked first, so concurrent tips to
// the same profile apply their increments one after another.
//
// When t.TxHash is set and a tip with that hash already exists, the existing
// tip and created=false are returned and the aggregates are left untouched.
func (r *TipRepo) CreateWithAggregate(ctx context.Context, t *models.Tip) (*models.Tip, bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var slug string
	if err := tx.QueryRow(ctx, `SELECT slug FROM profiles WHERE id = $1 FOR UPDATE`, t.ProfileID).Scan(&slug); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrNotFound
		}
		return nil, false, err
	}
	t.ProfileSlug = slug

	if t.TxHash != nil {
		existing, err := scanTip(tx.QueryRow(ctx, `SELECT `+tipColumns+` FROM tips WHERE tx_hash = $1`, *t.TxHash))
		if err == nil {
			return existing, false, tx.Commit(ctx)
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO tips (profile_id, profile_slug, tipper_address, amount_cents, net_amount_cents,
		                  platform_fee_cents, fee_estimated, message, tx_hash, ledger_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tx_hash) DO NOTHING
		RETURNING id, created_at
	`, t.ProfileID, t.ProfileSlug, t.TipperAddress, t.AmountCents, t.NetAmountCents,
		t.PlatformFeeCents, t.FeeEstimated, t.Message, t.TxHash, t.LedgerStatus,
	).Scan(&t.ID, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) && t.TxHash != nil {
		// lost a race with an identical replay between the lookup and the insert
		existing, err := scanTip(tx.QueryRow(ctx, `SELECT `+tipColumns+` FROM tips WHERE tx_hash = $1`, *t.TxHash))
		if err != nil {
			return nil, false, err
		}
		return existing, false, tx.Commit(ctx)
	}
	if err != nil {
		return nil, false, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE profiles SET
			total_tips_cents  = total_tips_cents + $1,
			tip_count         = tip_count + 1,
			average_tip_cents = ROUND((total_tips_cents + $1)::numeric / (tip_count + 1)),
			updated_at        = now()
		WHERE id = $2
	`, t.AmountCents, t.ProfileID)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return t, true, nil
}

func (r *TipRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tip, error) {
	return scanTip(r.pool.QueryRow(ctx, `SELECT `+tipColumns+` FROM tips WHERE id = $1`, id))
}

// AttachTxHash moves a tip to confirmed. Re-attaching the same hash is a no-op;
// a different hash is refused.
func (r *TipRepo) AttachTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tips SET tx_hash = $1, pending_tx_hash = NULL, ledger_status = 'confirmed'
		WHERE id = $2 AND (tx_hash IS NULL OR tx_hash = $1)
	`, txHash, id)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTxHashConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrTxHashConflict
	}
	return nil
}

// MarkPending records a submitted but unconfirmed ledger reference.
func (r *TipRepo) MarkPending(ctx context.Context, id uuid.UUID, pendingHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tips SET pending_tx_hash = $1, ledger_status = 'pending'
		WHERE id = $2 AND tx_hash IS NULL
	`, pendingHash, id)
	return err
}

func (r *TipRepo) SetLedgerStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE tips SET ledger_status = $1
		WHERE id = $2 AND tx_hash IS NULL
	`, status, id)
	return err
}

// ListPending returns tips awaiting settlement, oldest first.
func (r *TipRepo) ListPending(ctx context.Context, limit int) ([]models.Tip, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+tipColumns+` FROM tips
		WHERE ledger_status = 'pending' AND pending_tx_hash IS NOT NULL
		ORDER BY created_at ASC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTips(rows)
}

func (r *TipRepo) ListByProfileSlug(ctx context.Context, slug string, limit, offset int) ([]models.Tip, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+tipColumns+` FROM tips
		WHERE profile_slug = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, slug, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTips(rows)
}

// CountUnsettledSince reports mirror-only tips created after since, for the
// reconciliation debt gauge.
func (r *TipRepo) CountUnsettledSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM tips
		WHERE tx_hash IS NULL AND ledger_status IN ('pending', 'failed') AND created_at > $1
	`, since).Scan(&n)
	return n, err
}

func collectTips(rows pgx.Rows) ([]models.Tip, error) {
	var tips []models.Tip
	for rows.Next() {
		t, err := scanTip(rows)
		if err != nil {
			return nil, err
		}
		tips = append(tips, *t)
	}
	return tips, rows.Err()
}
