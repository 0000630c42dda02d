package models

import (
	"time"

	"github.com/google/uuid"
)

// Role represents user role in the marketplace.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleExpert    Role = "expert"
	RoleCandidate Role = "candidate"
)

// UserStatus represents account status.
type UserStatus string

const (
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// User represents a platform user. Expert profile columns are empty for
// candidates and admins.
type User struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	Password        string     `json:"-"`
	FullName        string     `json:"full_name"`
	Role            Role       `json:"role"`
	Status          UserStatus `json:"status"`
	Headline        string     `json:"headline,omitempty"`
	Bio             string     `json:"bio,omitempty"`
	Skills          []string   `json:"skills,omitempty"`
	HourlyRateCents int64      `json:"hourly_rate_cents,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// UserPublic is User without sensitive fields for API responses.
type UserPublic struct {
	ID              uuid.UUID  `json:"id"`
	Email           string     `json:"email"`
	FullName        string     `json:"full_name"`
	Role            Role       `json:"role"`
	Status          UserStatus `json:"status"`
	Headline        string     `json:"headline,omitempty"`
	Bio             string     `json:"bio,omitempty"`
	Skills          []string   `json:"skills,omitempty"`
	HourlyRateCents int64      `json:"hourly_rate_cents,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// ToPublic converts User to UserPublic.
func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:              u.ID,
		Email:           u.Email,
		FullName:        u.FullName,
		Role:            u.Role,
		Status:          u.Status,
		Headline:        u.Headline,
		Bio:             u.Bio,
		Skills:          u.Skills,
		HourlyRateCents: u.HourlyRateCents,
		Currency:        u.Currency,
		CreatedAt:       u.CreatedAt,
	}
}

// ExpertCard is the directory listing view of an expert, with the review
// aggregate joined in.
type ExpertCard struct {
	ID              uuid.UUID `json:"id"`
	FullName        string    `json:"full_name"`
	Headline        string    `json:"headline"`
	Bio             string    `json:"bio,omitempty"`
	Skills          []string  `json:"skills"`
	HourlyRateCents int64     `json:"hourly_rate_cents"`
	Currency        string    `json:"currency"`
	AvgRating       float64   `json:"avg_rating"`
	ReviewCount     int       `json:"review_count"`
}
