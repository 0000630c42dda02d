package reviews

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
)

// ErrAlreadyReviewed guards the one-review-per-session rule.
var ErrAlreadyReviewed = errors.New("session already reviewed")

// Repository handles review persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a review repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const reviewColumns = "id, session_id, expert_id, candidate_id, rating, comment, created_at"

// Create inserts a review. The unique constraint on session_id turns a
// duplicate into ErrAlreadyReviewed.
func (r *Repository) Create(ctx context.Context, sessionID, expertID, candidateID uuid.UUID, rating int, comment string) (*models.Review, error) {
	const q = `INSERT INTO reviews (session_id, expert_id, candidate_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + reviewColumns
	var rev models.Review
	err := r.pool.QueryRow(ctx, q, sessionID, expertID, candidateID, rating, comment).
		Scan(&rev.ID, &rev.SessionID, &rev.ExpertID, &rev.CandidateID, &rev.Rating, &rev.Comment, &rev.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrAlreadyReviewed
		}
		return nil, err
	}
	return &rev, nil
}

// ListByExpert returns an expert's reviews, newest first.
func (r *Repository) ListByExpert(ctx context.Context, expertID uuid.UUID) ([]models.Review, error) {
	const q = `SELECT ` + reviewColumns + ` FROM reviews WHERE expert_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, expertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reviews := []models.Review{}
	for rows.Next() {
		var rev models.Review
		if err := rows.Scan(&rev.ID, &rev.SessionID, &rev.ExpertID, &rev.CandidateID, &rev.Rating, &rev.Comment, &rev.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, rev)
	}
	return reviews, rows.Err()
}
