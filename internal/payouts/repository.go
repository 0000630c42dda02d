package payouts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
)

// Sentinel errors for payout mutations.
var (
	ErrNotFound    = errors.New("payout not found")
	ErrAlreadyPaid = errors.New("payout already paid")
)

// Repository handles payout persistence. Payout rows are created by the
// session store when a session completes; this repository only reads and
// settles them.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a payout repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const payoutColumns = "id, session_id, expert_id, amount_cents, currency, status, paid_at, created_at"

func scanPayout(row pgx.Row) (*models.Payout, error) {
	var p models.Payout
	err := row.Scan(&p.ID, &p.SessionID, &p.ExpertID, &p.AmountCents, &p.Currency, &p.Status, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListByExpert returns an expert's payouts, newest first.
func (r *Repository) ListByExpert(ctx context.Context, expertID uuid.UUID) ([]models.Payout, error) {
	const q = `SELECT ` + payoutColumns + ` FROM payouts WHERE expert_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, q, expertID)
}

// ListAll returns every payout, optionally filtered by status (admin).
func (r *Repository) ListAll(ctx context.Context, status string) ([]models.Payout, error) {
	if status != "" {
		const q = `SELECT ` + payoutColumns + ` FROM payouts WHERE status = $1 ORDER BY created_at DESC`
		return r.list(ctx, q, status)
	}
	const q = `SELECT ` + payoutColumns + ` FROM payouts ORDER BY created_at DESC`
	return r.list(ctx, q)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Payout, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payouts := []models.Payout{}
	for rows.Next() {
		var p models.Payout
		if err := rows.Scan(&p.ID, &p.SessionID, &p.ExpertID, &p.AmountCents, &p.Currency, &p.Status, &p.PaidAt, &p.CreatedAt); err != nil {
			return nil, err
		}
		payouts = append(payouts, p)
	}
	return payouts, rows.Err()
}

// MarkPaid settles a pending payout. ErrAlreadyPaid when it was settled
// before; the guarded UPDATE makes the operation safe to repeat.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	const q = `UPDATE payouts SET status = 'paid', paid_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING ` + payoutColumns
	p, err := scanPayout(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, ErrNotFound) {
		var exists bool
		if checkErr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM payouts WHERE id = $1)`, id).Scan(&exists); checkErr != nil {
			return nil, checkErr
		}
		if exists {
			return nil, ErrAlreadyPaid
		}
		return nil, ErrNotFound
	}
	return p, err
}
