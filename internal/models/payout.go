package models

import (
	"time"

	"github.com/google/uuid"
)

// PayoutStatus for expert payouts.
const (
	PayoutStatusPending = "pending"
	PayoutStatusPaid    = "paid"
)

// Payout is the amount owed to an expert for one completed session:
// the session price minus the platform fee. Created atomically with
// session completion; settled by an admin.
type Payout struct {
	ID          uuid.UUID  `json:"id"`
	SessionID   uuid.UUID  `json:"session_id"`
	ExpertID    uuid.UUID  `json:"expert_id"`
	AmountCents int64      `json:"amount_cents"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
