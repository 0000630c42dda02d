package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus represents the booking lifecycle of a practice session.
type SessionStatus string

const (
	SessionScheduled   SessionStatus = "scheduled"
	SessionInProgress  SessionStatus = "in_progress"
	SessionCompleted   SessionStatus = "completed"
	SessionCancelled   SessionStatus = "cancelled"
	SessionRescheduled SessionStatus = "rescheduled"
)

// Active reports whether a session in this status occupies the expert's
// calendar. Cancelled, completed and rescheduled sessions free their slot.
func (s SessionStatus) Active() bool {
	return s == SessionScheduled || s == SessionInProgress
}

// Session is a booked interview-practice slot between a candidate and an
// expert. PriceCents snapshots the expert's rate at booking time so later
// rate changes never reprice existing bookings.
type Session struct {
	ID              uuid.UUID     `json:"id"`
	ExpertID        uuid.UUID     `json:"expert_id"`
	CandidateID     uuid.UUID     `json:"candidate_id"`
	ScheduledAt     time.Time     `json:"scheduled_at"`
	DurationMinutes int           `json:"duration_minutes"`
	Status          SessionStatus `json:"status"`
	MeetingID       uuid.UUID     `json:"meeting_id"`
	Topic           string        `json:"topic,omitempty"`
	PriceCents      int64         `json:"price_cents"`
	Currency        string        `json:"currency"`
	ResumeKey       string        `json:"resume_key,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// EndsAt returns the exclusive end instant of the booked window.
func (s *Session) EndsAt() time.Time {
	return s.ScheduledAt.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// IsParty reports whether userID is the candidate or the expert.
func (s *Session) IsParty(userID uuid.UUID) bool {
	return s.CandidateID == userID || s.ExpertID == userID
}
