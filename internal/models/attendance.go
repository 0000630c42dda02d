package models

import (
	"time"

	"github.com/google/uuid"
)

// Attendance tracks call join/leave per participant, written from the
// signaling layer's join and disconnect hooks. Useful for no-show disputes.
type Attendance struct {
	ID        uuid.UUID  `json:"id"`
	SessionID uuid.UUID  `json:"session_id"`
	UserID    uuid.UUID  `json:"user_id"`
	JoinedAt  time.Time  `json:"joined_at"`
	LeftAt    *time.Time `json:"left_at,omitempty"`
	Seconds   int64      `json:"seconds"`
	CreatedAt time.Time  `json:"created_at"`
}
