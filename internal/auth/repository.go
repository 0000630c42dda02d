package auth

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mockmate/backend/internal/models"
)

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const userColumns = `id, email, password_hash, full_name, role, status,
	headline, bio, skills, hourly_rate_cents, currency, created_at, updated_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FullName, &u.Role, &u.Status,
		&u.Headline, &u.Bio, &u.Skills, &u.HourlyRateCents, &u.Currency, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID returns a user by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, q, id))
}

// GetByEmail returns a user by email.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	const q = `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, q, email))
}

// List returns all users for the admin surface.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, full_name, role, status,
		headline, bio, skills, hourly_rate_cents, currency, created_at
		FROM users ORDER BY full_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.UserPublic
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.Status,
			&u.Headline, &u.Bio, &u.Skills, &u.HourlyRateCents, &u.Currency, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// CreateUserParams holds optional expert profile fields for registration.
type CreateUserParams struct {
	Headline        string
	Bio             string
	Skills          []string
	HourlyRateCents int64
	Currency        string
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, email, passwordHash, fullName string, role models.Role, profile *CreateUserParams) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, full_name, role, headline, bio, skills, hourly_rate_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + userColumns
	var headline, bio string
	skills := []string{}
	var rate int64
	currency := "USD"
	if profile != nil {
		headline, bio, rate = profile.Headline, profile.Bio, profile.HourlyRateCents
		if profile.Skills != nil {
			skills = profile.Skills
		}
		if profile.Currency != "" {
			currency = profile.Currency
		}
	}
	return scanUser(r.pool.QueryRow(ctx, q, email, passwordHash, fullName, string(role), headline, bio, skills, rate, currency))
}

// SetStatus updates a user's account status (admin suspend / reactivate).
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status models.UserStatus) (*models.User, error) {
	const q = `UPDATE users SET status = $2, updated_at = NOW() WHERE id = $1
		RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id, string(status)))
}
