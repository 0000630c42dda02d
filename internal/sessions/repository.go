package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/internal/scheduling"
)

// Sentinel errors surfaced by guarded mutations.
var (
	ErrNotFound      = errors.New("session not found")
	ErrInvalidStatus = errors.New("session status does not allow this operation")
)

// serializationRetries bounds retries of aborted serializable transactions.
const serializationRetries = 3

// Repository handles session persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const sessionColumns = `id, expert_id, candidate_id, scheduled_at, duration_minutes, status,
	meeting_id, topic, price_cents, currency, resume_key, created_at, updated_at`

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.ExpertID, &s.CandidateID, &s.ScheduledAt, &s.DurationMinutes, &s.Status,
		&s.MeetingID, &s.Topic, &s.PriceCents, &s.Currency, &s.ResumeKey, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// querier is satisfied by both the pool and a transaction, so the overlap
// scan can run inside or outside a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func findActive(ctx context.Context, q querier, expertID uuid.UUID) ([]models.Session, error) {
	const query = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE expert_id = $1 AND status IN ('scheduled', 'in_progress')
		ORDER BY scheduled_at`
	rows, err := q.Query(ctx, query, expertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.ExpertID, &s.CandidateID, &s.ScheduledAt, &s.DurationMinutes, &s.Status,
			&s.MeetingID, &s.Topic, &s.PriceCents, &s.Currency, &s.ResumeKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// FindActiveByExpert returns the expert's scheduled and in-progress
// sessions ordered by start time. Satisfies scheduling.SessionSource.
func (r *Repository) FindActiveByExpert(ctx context.Context, expertID uuid.UUID) ([]models.Session, error) {
	return findActive(ctx, r.pool, expertID)
}

// FindActiveByExpertBetween returns the expert's active sessions whose
// windows intersect [from, to). Feeds the public availability view.
func (r *Repository) FindActiveByExpertBetween(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions
		WHERE expert_id = $1 AND status IN ('scheduled', 'in_progress')
		AND scheduled_at < $3
		AND scheduled_at + make_interval(mins => duration_minutes) > $2
		ORDER BY scheduled_at`
	rows, err := r.pool.Query(ctx, q, expertID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.ExpertID, &s.CandidateID, &s.ScheduledAt, &s.DurationMinutes, &s.Status,
			&s.MeetingID, &s.Topic, &s.PriceCents, &s.Currency, &s.ResumeKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// CreateParams holds everything needed to insert a session. The meeting ID
// is assigned by the database at insert time.
type CreateParams struct {
	ExpertID        uuid.UUID
	CandidateID     uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Topic           string
	PriceCents      int64
	Currency        string
}

// CreateIfFree inserts a session only if the expert's window is still free.
// The overlap check re-runs inside a serializable transaction so two
// concurrent bookings for the same expert cannot both commit; serialization
// aborts are retried a bounded number of times.
func (r *Repository) CreateIfFree(ctx context.Context, p CreateParams) (*models.Session, *scheduling.Conflict, error) {
	for attempt := 0; ; attempt++ {
		created, conflict, err := r.tryCreate(ctx, p)
		if err != nil && isSerializationFailure(err) && attempt < serializationRetries {
			continue
		}
		return created, conflict, err
	}
}

func (r *Repository) tryCreate(ctx context.Context, p CreateParams) (*models.Session, *scheduling.Conflict, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	active, err := findActive(ctx, tx, p.ExpertID)
	if err != nil {
		return nil, nil, fmt.Errorf("load expert sessions: %w", err)
	}
	if conflict := scheduling.FindOverlap(active, p.ScheduledAt, p.DurationMinutes); conflict != nil {
		return nil, conflict, nil
	}

	const q = `INSERT INTO sessions (expert_id, candidate_id, scheduled_at, duration_minutes, topic, price_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + sessionColumns
	s, err := scanSession(tx.QueryRow(ctx, q, p.ExpertID, p.CandidateID, p.ScheduledAt, p.DurationMinutes, p.Topic, p.PriceCents, p.Currency))
	if err != nil {
		return nil, nil, fmt.Errorf("insert session: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return s, nil, nil
}

// RescheduleIfFree moves a scheduled session to a new window: the old row
// becomes `rescheduled` and a replacement row is created, both inside the
// same serializable transaction as the overlap re-check. The old session's
// own window never blocks its replacement.
func (r *Repository) RescheduleIfFree(ctx context.Context, sessionID uuid.UUID, newStart time.Time, newDuration int) (*models.Session, *scheduling.Conflict, error) {
	for attempt := 0; ; attempt++ {
		created, conflict, err := r.tryReschedule(ctx, sessionID, newStart, newDuration)
		if err != nil && isSerializationFailure(err) && attempt < serializationRetries {
			continue
		}
		return created, conflict, err
	}
}

func (r *Repository) tryReschedule(ctx context.Context, sessionID uuid.UUID, newStart time.Time, newDuration int) (*models.Session, *scheduling.Conflict, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := scanSession(tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, sessionID))
	if err != nil {
		return nil, nil, err
	}
	if old.Status != models.SessionScheduled {
		return nil, nil, ErrInvalidStatus
	}

	active, err := findActive(ctx, tx, old.ExpertID)
	if err != nil {
		return nil, nil, fmt.Errorf("load expert sessions: %w", err)
	}
	others := active[:0]
	for _, s := range active {
		if s.ID != sessionID {
			others = append(others, s)
		}
	}
	if conflict := scheduling.FindOverlap(others, newStart, newDuration); conflict != nil {
		return nil, conflict, nil
	}

	tag, err := tx.Exec(ctx, `UPDATE sessions SET status = 'rescheduled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("mark rescheduled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil, ErrInvalidStatus
	}

	const q = `INSERT INTO sessions (expert_id, candidate_id, scheduled_at, duration_minutes, topic, price_cents, currency, resume_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + sessionColumns
	replacement, err := scanSession(tx.QueryRow(ctx, q, old.ExpertID, old.CandidateID, newStart, newDuration, old.Topic, old.PriceCents, old.Currency, old.ResumeKey))
	if err != nil {
		return nil, nil, fmt.Errorf("insert replacement: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return replacement, nil, nil
}

// CancelScheduled flips a scheduled session to cancelled. ErrInvalidStatus
// when it already started, finished or was cancelled before.
func (r *Repository) CancelScheduled(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	const q = `UPDATE sessions SET status = 'cancelled', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
		RETURNING ` + sessionColumns
	s, err := scanSession(r.pool.QueryRow(ctx, q, sessionID))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, sessionID); getErr != nil {
			return nil, getErr
		}
		return nil, ErrInvalidStatus
	}
	return s, err
}

// CompleteAndPayout finishes a session and creates the expert's pending
// payout in the same transaction, so a completed session can never lack its
// payout row. The unique constraint on payouts.session_id is the backstop
// against double completion.
func (r *Repository) CompleteAndPayout(ctx context.Context, sessionID uuid.UUID, platformFeePercent int) (*models.Session, *models.Payout, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const completeQ = `UPDATE sessions SET status = 'completed', updated_at = NOW()
		WHERE id = $1 AND status IN ('scheduled', 'in_progress')
		RETURNING ` + sessionColumns
	s, err := scanSession(tx.QueryRow(ctx, completeQ, sessionID))
	if errors.Is(err, ErrNotFound) {
		if _, getErr := r.GetByID(ctx, sessionID); getErr != nil {
			return nil, nil, getErr
		}
		return nil, nil, ErrInvalidStatus
	}
	if err != nil {
		return nil, nil, err
	}

	amount := s.PriceCents - s.PriceCents*int64(platformFeePercent)/100
	const payoutQ = `INSERT INTO payouts (session_id, expert_id, amount_cents, currency)
		VALUES ($1, $2, $3, $4)
		RETURNING id, session_id, expert_id, amount_cents, currency, status, paid_at, created_at`
	var p models.Payout
	err = tx.QueryRow(ctx, payoutQ, s.ID, s.ExpertID, amount, s.Currency).
		Scan(&p.ID, &p.SessionID, &p.ExpertID, &p.AmountCents, &p.Currency, &p.Status, &p.PaidAt, &p.CreatedAt)
	if err != nil {
		return nil, nil, fmt.Errorf("insert payout: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("commit: %w", err)
	}
	return s, &p, nil
}

// MarkInProgress flips a scheduled session to in_progress when its first
// participant joins the call. Idempotent: later joins match no row.
func (r *Repository) MarkInProgress(ctx context.Context, meetingID uuid.UUID) error {
	const q = `UPDATE sessions SET status = 'in_progress', updated_at = NOW()
		WHERE meeting_id = $1 AND status = 'scheduled'`
	_, err := r.pool.Exec(ctx, q, meetingID)
	return err
}

// GetByID returns a session by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, q, id))
}

// GetByMeetingID returns the session behind a meeting room.
func (r *Repository) GetByMeetingID(ctx context.Context, meetingID uuid.UUID) (*models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE meeting_id = $1 AND status IN ('scheduled', 'in_progress')`
	return scanSession(r.pool.QueryRow(ctx, q, meetingID))
}

// IsMeetingParty reports whether the user is the expert or candidate of the
// active session behind a meeting room.
func (r *Repository) IsMeetingParty(ctx context.Context, meetingID, userID uuid.UUID) (bool, error) {
	s, err := r.GetByMeetingID(ctx, meetingID)
	if err != nil {
		return false, err
	}
	return s.IsParty(userID), nil
}

// ListByCandidate returns a candidate's sessions, newest first.
func (r *Repository) ListByCandidate(ctx context.Context, candidateID uuid.UUID) ([]models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE candidate_id = $1 ORDER BY scheduled_at DESC`
	return r.list(ctx, q, candidateID)
}

// ListByExpert returns an expert's sessions, newest first.
func (r *Repository) ListByExpert(ctx context.Context, expertID uuid.UUID) ([]models.Session, error) {
	const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE expert_id = $1 ORDER BY scheduled_at DESC`
	return r.list(ctx, q, expertID)
}

// ListAll returns every session, optionally filtered by status (admin).
func (r *Repository) ListAll(ctx context.Context, status string) ([]models.Session, error) {
	if status != "" {
		const q = `SELECT ` + sessionColumns + ` FROM sessions WHERE status = $1 ORDER BY scheduled_at DESC`
		return r.list(ctx, q, status)
	}
	const q = `SELECT ` + sessionColumns + ` FROM sessions ORDER BY scheduled_at DESC`
	return r.list(ctx, q)
}

func (r *Repository) list(ctx context.Context, q string, args ...any) ([]models.Session, error) {
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Session
	for rows.Next() {
		var s models.Session
		if err := rows.Scan(&s.ID, &s.ExpertID, &s.CandidateID, &s.ScheduledAt, &s.DurationMinutes, &s.Status,
			&s.MeetingID, &s.Topic, &s.PriceCents, &s.Currency, &s.ResumeKey, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// SetResumeKey stores the S3 key of the resume shared for this session.
func (r *Repository) SetResumeKey(ctx context.Context, sessionID uuid.UUID, key string) error {
	const q = `UPDATE sessions SET resume_key = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, sessionID, key)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isSerializationFailure reports a serialization abort (40001) or deadlock
// (40P01); both are safe to retry.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
