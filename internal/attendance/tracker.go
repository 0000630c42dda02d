package attendance

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
)

// hookTimeout bounds the database work done on a signaling hook; the hooks
// run on websocket goroutines and carry no request context.
const hookTimeout = 5 * time.Second

// Recorder is the persistence surface the tracker writes through.
type Recorder interface {
	RecordJoin(ctx context.Context, sessionID, userID uuid.UUID) (uuid.UUID, error)
	RecordLeave(ctx context.Context, id uuid.UUID) error
}

// SessionResolver maps a meeting room back to its session and flips the
// lifecycle when the call actually starts.
type SessionResolver interface {
	GetByMeetingID(ctx context.Context, meetingID uuid.UUID) (*models.Session, error)
	MarkInProgress(ctx context.Context, meetingID uuid.UUID) error
}

// Tracker turns signaling join/leave hooks into attendance rows. Each live
// connection maps to one open row so reconnects produce separate records.
type Tracker struct {
	recorder Recorder
	sessions SessionResolver
	logger   *zap.Logger

	mu   sync.Mutex
	open map[string]uuid.UUID
}

// NewTracker creates an attendance tracker.
func NewTracker(recorder Recorder, sessions SessionResolver, logger *zap.Logger) *Tracker {
	return &Tracker{
		recorder: recorder,
		sessions: sessions,
		logger:   logger,
		open:     make(map[string]uuid.UUID),
	}
}

// OnJoin records the participant and, on the room's first join, flips the
// session to in_progress. Attendance failures are logged, never surfaced:
// the call must not break because bookkeeping did.
func (t *Tracker) OnJoin(roomID, userID uuid.UUID, connID string, firstInRoom bool) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	if firstInRoom {
		if err := t.sessions.MarkInProgress(ctx, roomID); err != nil {
			t.logger.Error("mark session in progress",
				zap.String("meeting_id", roomID.String()), zap.Error(err))
		}
	}

	session, err := t.sessions.GetByMeetingID(ctx, roomID)
	if err != nil {
		t.logger.Error("resolve meeting for attendance",
			zap.String("meeting_id", roomID.String()), zap.Error(err))
		return
	}
	rowID, err := t.recorder.RecordJoin(ctx, session.ID, userID)
	if err != nil {
		t.logger.Error("record join",
			zap.String("session_id", session.ID.String()),
			zap.String("user_id", userID.String()), zap.Error(err))
		return
	}

	t.mu.Lock()
	t.open[connID] = rowID
	t.mu.Unlock()
}

// OnLeave closes the participant's open attendance row.
func (t *Tracker) OnLeave(roomID, userID uuid.UUID, connID string, roomEmptied bool) {
	t.mu.Lock()
	rowID, ok := t.open[connID]
	delete(t.open, connID)
	t.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := t.recorder.RecordLeave(ctx, rowID); err != nil {
		t.logger.Error("record leave",
			zap.String("user_id", userID.String()), zap.Error(err))
	}
}
