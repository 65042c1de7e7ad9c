package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keyless-tips/backend/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const profileColumns = `id, address, slug, category, display_name, bio,
	total_tips_cents, tip_count, average_tip_cents, ledger_tx_hash, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Address, &p.Slug, &p.Category, &p.DisplayName, &p.Bio,
		&p.TotalTipsCents, &p.TipCount, &p.AverageTipCents, &p.LedgerTxHash, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// Create inserts a fresh profile with zeroed aggregates.
func (r *ProfileRepo) Create(ctx context.Context, p *models.Profile) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO profiles (address, slug, category, display_name, bio)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, total_tips_cents, tip_count, average_tip_cents, created_at, updated_at
	`, p.Address, p.Slug, p.Category, p.DisplayName, p.Bio).Scan(
		&p.ID, &p.TotalTipsCents, &p.TipCount, &p.AverageTipCents, &p.CreatedAt, &p.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

func (r *ProfileRepo) GetBySlug(ctx context.Context, slug string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE slug = $1`, slug))
}

func (r *ProfileRepo) GetByAddress(ctx context.Context, address string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE address = $1`, address))
}

func (r *ProfileRepo) SetLedgerTxHash(ctx context.Context, id uuid.UUID, txHash string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE profiles SET ledger_tx_hash = $1, updated_at = now()
		WHERE id = $2 AND ledger_tx_hash IS NULL
	`, txHash, id)
	return err
}

// Delete is only used to roll back a profile whose on-chain creation failed.
// A profile that already received tips is never removed.
func (r *ProfileRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM profiles
		WHERE id = $1 AND tip_count = 0
		  AND NOT EXISTS (SELECT 1 FROM tips WHERE profile_id = $1)
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
