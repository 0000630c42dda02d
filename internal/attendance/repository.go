package attendance

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
)

// Repository persists per-participant join/leave records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attendance repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// RecordJoin opens an attendance row and returns its ID so the matching
// leave can close it.
func (r *Repository) RecordJoin(ctx context.Context, sessionID, userID uuid.UUID) (uuid.UUID, error) {
	const q = `INSERT INTO session_attendance (session_id, user_id) VALUES ($1, $2) RETURNING id`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, sessionID, userID).Scan(&id)
	return id, err
}

// RecordLeave closes an open attendance row, computing the stay from the
// join timestamp. Closing twice is a no-op.
func (r *Repository) RecordLeave(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE session_attendance
		SET left_at = NOW(), seconds = EXTRACT(EPOCH FROM (NOW() - joined_at))::BIGINT
		WHERE id = $1 AND left_at IS NULL`
	_, err := r.pool.Exec(ctx, q, id)
	return err
}

// ListBySession returns a session's attendance records in join order.
func (r *Repository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.Attendance, error) {
	const q = `SELECT id, session_id, user_id, joined_at, left_at, seconds, created_at
		FROM session_attendance WHERE session_id = $1 ORDER BY joined_at`
	rows, err := r.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Attendance{}
	for rows.Next() {
		var a models.Attendance
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.JoinedAt, &a.LeftAt, &a.Seconds, &a.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, a)
	}
	return records, rows.Err()
}
