package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mockmate/backend/internal/models"
)

func session(status models.SessionStatus, start time.Time, minutes int) models.Session {
	return models.Session{
		ID:              uuid.New(),
		ExpertID:        uuid.New(),
		CandidateID:     uuid.New(),
		ScheduledAt:     start,
		DurationMinutes: minutes,
		Status:          status,
	}
}

func TestFindOverlap(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	at := func(hour, min int) time.Time { return day.Add(time.Duration(hour)*time.Hour + time.Duration(min)*time.Minute) }

	existing := []models.Session{session(models.SessionScheduled, at(14, 0), 60)} // 14:00-15:00

	tests := []struct {
		name     string
		start    time.Time
		minutes  int
		conflict bool
	}{
		{"inside existing window", at(14, 30), 60, true},
		{"covers existing window", at(13, 30), 120, true},
		{"identical window", at(14, 0), 60, true},
		{"starts at existing end", at(15, 0), 60, false},
		{"ends at existing start", at(13, 0), 60, false},
		{"disjoint later", at(16, 0), 30, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindOverlap(existing, tt.start, tt.minutes)
			if tt.conflict {
				require.NotNil(t, got)
				assert.Equal(t, existing[0].ID, got.Session.ID)
				assert.Equal(t, at(14, 0), got.Start)
				assert.Equal(t, at(15, 0), got.End)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestFindOverlapIgnoresInactiveStatuses(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	sessions := []models.Session{
		session(models.SessionCancelled, start, 60),
		session(models.SessionCompleted, start, 60),
		session(models.SessionRescheduled, start, 60),
	}

	assert.Nil(t, FindOverlap(sessions, start.Add(30*time.Minute), 60))
}

func TestFindOverlapInProgressConflicts(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)
	sessions := []models.Session{session(models.SessionInProgress, start, 60)}

	require.NotNil(t, FindOverlap(sessions, start.Add(30*time.Minute), 60))
}

func TestFindOverlapReturnsEarliestRegardlessOfOrder(t *testing.T) {
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	later := session(models.SessionScheduled, day.Add(15*time.Hour), 60)   // 15:00-16:00
	earlier := session(models.SessionScheduled, day.Add(14*time.Hour), 60) // 14:00-15:00

	// 14:30-16:30 overlaps both; the earliest-starting one wins even when
	// it appears last in the slice.
	got := FindOverlap([]models.Session{later, earlier}, day.Add(14*time.Hour+30*time.Minute), 120)
	require.NotNil(t, got)
	assert.Equal(t, earlier.ID, got.Session.ID)
}

type fakeSource struct {
	sessions []models.Session
	err      error
	expertID uuid.UUID
}

func (f *fakeSource) FindActiveByExpert(_ context.Context, expertID uuid.UUID) ([]models.Session, error) {
	f.expertID = expertID
	return f.sessions, f.err
}

func TestDetectorCheckConflict(t *testing.T) {
	start := time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

	t.Run("free window", func(t *testing.T) {
		src := &fakeSource{}
		d := NewDetector(src)

		expertID := uuid.New()
		got, err := d.CheckConflict(context.Background(), expertID, start, 60)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, expertID, src.expertID)
	})

	t.Run("busy window", func(t *testing.T) {
		src := &fakeSource{sessions: []models.Session{session(models.SessionScheduled, start, 60)}}
		d := NewDetector(src)

		got, err := d.CheckConflict(context.Background(), uuid.New(), start.Add(30*time.Minute), 60)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, start, got.Start)
	})

	t.Run("store error aborts", func(t *testing.T) {
		src := &fakeSource{err: errors.New("connection refused")}
		d := NewDetector(src)

		_, err := d.CheckConflict(context.Background(), uuid.New(), start, 60)
		assert.Error(t, err)
	})
}
