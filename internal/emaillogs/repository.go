package emaillogs

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
)

// ErrNotFound is returned for unknown email log rows.
var ErrNotFound = errors.New("email log not found")

// Repository handles email_logs persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an email logs repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const logColumns = "id, session_id, email_type, recipient_email, subject, body, status, sent_at, error_message, created_at"

func scanLog(row pgx.Row) (*models.EmailLog, error) {
	var el models.EmailLog
	err := row.Scan(&el.ID, &el.SessionID, &el.EmailType, &el.RecipientEmail, &el.Subject, &el.Body,
		&el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &el, nil
}

// Create records a queued email before the job is pushed, so the log shows
// the send even when the worker dies mid-flight.
func (r *Repository) Create(ctx context.Context, sessionID uuid.UUID, emailType, recipient, subject, body string) (*models.EmailLog, error) {
	const q = `INSERT INTO email_logs (session_id, email_type, recipient_email, subject, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + logColumns
	return scanLog(r.pool.QueryRow(ctx, q, sessionID, emailType, recipient, subject, body))
}

// MarkSent stamps a successful delivery.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE email_logs SET status = 'sent', sent_at = NOW(), error_message = '' WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// MarkFailed records a delivery failure with its cause.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause string) error {
	const q = `UPDATE email_logs SET status = 'failed', error_message = $2 WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, cause)
	return err
}

// GetByID returns one email log row.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.EmailLog, error) {
	const q = `SELECT ` + logColumns + ` FROM email_logs WHERE id = $1`
	return scanLog(r.pool.QueryRow(ctx, q, id))
}

// List returns email logs newest first, optionally narrowed to one session
// and one delivery status.
func (r *Repository) List(ctx context.Context, sessionID *uuid.UUID, status string) ([]*models.EmailLog, error) {
	q := `SELECT ` + logColumns + ` FROM email_logs`
	var (
		conds []string
		args  []any
	)
	if sessionID != nil {
		args = append(args, *sessionID)
		conds = append(conds, `session_id = $1`)
	}
	if status != "" {
		args = append(args, status)
		if len(args) == 1 {
			conds = append(conds, `status = $1`)
		} else {
			conds = append(conds, `status = $2`)
		}
	}
	if len(conds) > 0 {
		q += ` WHERE ` + conds[0]
		if len(conds) > 1 {
			q += ` AND ` + conds[1]
		}
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.SessionID, &el.EmailType, &el.RecipientEmail, &el.Subject, &el.Body,
			&el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
