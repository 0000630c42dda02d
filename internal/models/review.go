package models

import (
	"time"

	"github.com/google/uuid"
)

// Review is a candidate's rating of an expert after a completed session.
// One review per session.
type Review struct {
	ID          uuid.UUID `json:"id"`
	SessionID   uuid.UUID `json:"session_id"`
	ExpertID    uuid.UUID `json:"expert_id"`
	CandidateID uuid.UUID `json:"candidate_id"`
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
