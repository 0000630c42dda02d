package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailType for session lifecycle mail.
const (
	EmailTypeSessionBooked      = "session_booked"
	EmailTypeSessionCancelled   = "session_cancelled"
	EmailTypeSessionRescheduled = "session_rescheduled"
	EmailTypeSessionCompleted   = "session_completed"
)

// EmailLogStatus for delivery.
const (
	EmailLogStatusQueued = "queued"
	EmailLogStatusSent   = "sent"
	EmailLogStatusFailed = "failed"
)

// EmailLog records outbound session emails processed by the worker. The
// body is kept so failed sends can be replayed verbatim.
type EmailLog struct {
	ID             uuid.UUID  `json:"id"`
	SessionID      *uuid.UUID `json:"session_id,omitempty"`
	EmailType      string     `json:"email_type"`
	RecipientEmail string     `json:"recipient_email"`
	Subject        string     `json:"subject,omitempty"`
	Body           string     `json:"body,omitempty"`
	Status         string     `json:"status"`
	SentAt         *time.Time `json:"sent_at,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
