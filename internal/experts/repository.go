package experts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
)

// ErrNotFound covers unknown and suspended experts alike, so the directory
// never leaks whether a hidden profile exists.
var ErrNotFound = errors.New("expert not found")

// Repository reads the expert directory and updates expert profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an expert repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// cardQuery joins the review aggregate into the directory card. Reviews
// hang off sessions, so the rating follows the expert across reschedules.
const cardQuery = `SELECT u.id, u.full_name, u.headline, u.bio, u.skills, u.hourly_rate_cents, u.currency,
		COALESCE(AVG(r.rating), 0) AS avg_rating,
		COUNT(r.id) AS review_count
	FROM users u
	LEFT JOIN sessions s ON s.expert_id = u.id
	LEFT JOIN reviews r ON r.session_id = s.id
	WHERE u.role = 'expert' AND u.status = 'active'`

const cardGroupOrder = ` GROUP BY u.id ORDER BY review_count DESC, avg_rating DESC, u.full_name`

// List returns active experts with their review aggregates, optionally
// filtered to those advertising a skill.
func (r *Repository) List(ctx context.Context, skill string) ([]models.ExpertCard, error) {
	q := cardQuery + cardGroupOrder
	args := []any{}
	if skill != "" {
		q = cardQuery + ` AND $1 = ANY(u.skills)` + cardGroupOrder
		args = append(args, skill)
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cards := []models.ExpertCard{}
	for rows.Next() {
		var card models.ExpertCard
		if err := rows.Scan(&card.ID, &card.FullName, &card.Headline, &card.Bio, &card.Skills,
			&card.HourlyRateCents, &card.Currency, &card.AvgRating, &card.ReviewCount); err != nil {
			return nil, err
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

// GetCard returns one active expert's directory card.
func (r *Repository) GetCard(ctx context.Context, id uuid.UUID) (*models.ExpertCard, error) {
	q := cardQuery + ` AND u.id = $1` + cardGroupOrder
	var card models.ExpertCard
	err := r.pool.QueryRow(ctx, q, id).Scan(&card.ID, &card.FullName, &card.Headline, &card.Bio,
		&card.Skills, &card.HourlyRateCents, &card.Currency, &card.AvgRating, &card.ReviewCount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &card, nil
}

// UpdateProfileParams carries optional profile fields; nil leaves a column
// untouched.
type UpdateProfileParams struct {
	Headline        *string
	Bio             *string
	Skills          []string
	HourlyRateCents *int64
	Currency        *string
}

// UpdateProfile patches an expert's own profile.
func (r *Repository) UpdateProfile(ctx context.Context, expertID uuid.UUID, p UpdateProfileParams) (*models.User, error) {
	const q = `UPDATE users SET
			headline = COALESCE($2, headline),
			bio = COALESCE($3, bio),
			skills = COALESCE($4, skills),
			hourly_rate_cents = COALESCE($5, hourly_rate_cents),
			currency = COALESCE($6, currency),
			updated_at = NOW()
		WHERE id = $1 AND role = 'expert'
		RETURNING id, email, password_hash, full_name, role, status,
			headline, bio, skills, hourly_rate_cents, currency, created_at, updated_at`
	var u models.User
	err := r.pool.QueryRow(ctx, q, expertID, p.Headline, p.Bio, p.Skills, p.HourlyRateCents, p.Currency).
		Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.Status,
			&u.Headline, &u.Bio, &u.Skills, &u.HourlyRateCents, &u.Currency, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}
