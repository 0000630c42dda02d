package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mockmate/backend/internal/models"
)

// Conflict describes an existing session that overlaps a proposed window,
// with its computed bounds so callers can report the blocking slot.
type Conflict struct {
	Session models.Session `json:"session"`
	Start   time.Time      `json:"start"`
	End     time.Time      `json:"end"`
}

// Overlaps reports whether two half-open windows [aStart, aEnd) and
// [bStart, bEnd) intersect. A window ending exactly when the other starts
// does not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FindOverlap scans sessions for one whose active window overlaps the
// proposed [start, start+duration) window. Cancelled, completed and
// rescheduled sessions never conflict. All candidates are examined and the
// earliest-starting overlap is returned, so the result does not depend on
// input order.
func FindOverlap(sessions []models.Session, start time.Time, durationMinutes int) *Conflict {
	end := start.Add(time.Duration(durationMinutes) * time.Minute)
	var found *Conflict
	for i := range sessions {
		s := &sessions[i]
		if !s.Status.Active() {
			continue
		}
		existingEnd := s.EndsAt()
		if !Overlaps(start, end, s.ScheduledAt, existingEnd) {
			continue
		}
		if found == nil || s.ScheduledAt.Before(found.Session.ScheduledAt) {
			found = &Conflict{Session: *s, Start: s.ScheduledAt, End: existingEnd}
		}
	}
	return found
}

// SessionSource supplies the active sessions of one expert.
type SessionSource interface {
	FindActiveByExpert(ctx context.Context, expertID uuid.UUID) ([]models.Session, error)
}

// Detector checks proposed bookings against an expert's active calendar.
type Detector struct {
	source SessionSource
}

// NewDetector creates a conflict detector over a session source.
func NewDetector(source SessionSource) *Detector {
	return &Detector{source: source}
}

// CheckConflict fetches the expert's active sessions and returns the
// overlapping one, or nil if the window is free. A store error aborts the
// check; nothing is written.
func (d *Detector) CheckConflict(ctx context.Context, expertID uuid.UUID, start time.Time, durationMinutes int) (*Conflict, error) {
	sessions, err := d.source.FindActiveByExpert(ctx, expertID)
	if err != nil {
		return nil, fmt.Errorf("load expert sessions: %w", err)
	}
	return FindOverlap(sessions, start, durationMinutes), nil
}
