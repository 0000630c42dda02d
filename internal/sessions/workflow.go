package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/internal/notify"
	"github.com/mockmate/backend/internal/scheduling"
)

// Validation errors returned before anything is persisted.
var (
	ErrExpertNotFound = errors.New("expert not found")
	ErrNotBookable    = errors.New("user cannot take bookings")
	ErrSelfBooking    = errors.New("cannot book a session with yourself")
	ErrPastStart      = errors.New("session must start in the future")
	ErrBadDuration    = errors.New("duration must be positive")
	ErrNotParty       = errors.New("not a participant of this session")
)

// ConflictError carries the session blocking a requested window.
type ConflictError struct {
	Conflict *scheduling.Conflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("expert is busy from %s to %s",
		e.Conflict.Start.Format(time.RFC3339), e.Conflict.End.Format(time.RFC3339))
}

// Store is the persistence surface the workflow needs.
type Store interface {
	CreateIfFree(ctx context.Context, p CreateParams) (*models.Session, *scheduling.Conflict, error)
	RescheduleIfFree(ctx context.Context, sessionID uuid.UUID, newStart time.Time, newDuration int) (*models.Session, *scheduling.Conflict, error)
	CancelScheduled(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)
	CompleteAndPayout(ctx context.Context, sessionID uuid.UUID, platformFeePercent int) (*models.Session, *models.Payout, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Notifier pushes an event to every live stream of one user. Both the
// in-process hub and the Redis fanout satisfy it.
type Notifier interface {
	SendToUser(userID uuid.UUID, event string, data interface{})
}

// EmailQueuer records and enqueues a session lifecycle email.
type EmailQueuer interface {
	QueueSessionEmail(ctx context.Context, emailType string, s *models.Session, recipient *models.User) error
}

// UserDirectory resolves the users on either side of a session.
type UserDirectory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Workflow runs the booking lifecycle: validate, check the expert's
// calendar, persist, then notify both parties.
type Workflow struct {
	store      Store
	detector   *scheduling.Detector
	users      UserDirectory
	notifier   Notifier
	emails     EmailQueuer
	feePercent int
	logger     *zap.Logger
}

// NewWorkflow wires the booking workflow.
func NewWorkflow(store Store, detector *scheduling.Detector, users UserDirectory, notifier Notifier, emails EmailQueuer, platformFeePercent int, logger *zap.Logger) *Workflow {
	return &Workflow{
		store:      store,
		detector:   detector,
		users:      users,
		notifier:   notifier,
		emails:     emails,
		feePercent: platformFeePercent,
		logger:     logger,
	}
}

// BookParams is a validated booking request.
type BookParams struct {
	ExpertID        uuid.UUID
	CandidateID     uuid.UUID
	ScheduledAt     time.Time
	DurationMinutes int
	Topic           string
}

// Book creates a session if the expert's window is free. The price is
// derived from the expert's hourly rate at booking time and frozen on the
// session. The pre-check gives fast rejection; the store re-checks inside
// its transaction so a concurrent booking cannot slip past.
func (w *Workflow) Book(ctx context.Context, p BookParams) (*models.Session, error) {
	if p.DurationMinutes <= 0 {
		return nil, ErrBadDuration
	}
	if !p.ScheduledAt.After(time.Now()) {
		return nil, ErrPastStart
	}
	if p.ExpertID == p.CandidateID {
		return nil, ErrSelfBooking
	}

	expert, err := w.users.GetByID(ctx, p.ExpertID)
	if err != nil {
		return nil, ErrExpertNotFound
	}
	if expert.Role != models.RoleExpert || expert.Status != models.UserStatusActive {
		return nil, ErrNotBookable
	}

	if conflict, err := w.detector.CheckConflict(ctx, p.ExpertID, p.ScheduledAt, p.DurationMinutes); err != nil {
		return nil, err
	} else if conflict != nil {
		return nil, &ConflictError{Conflict: conflict}
	}

	price := expert.HourlyRateCents * int64(p.DurationMinutes) / 60
	session, conflict, err := w.store.CreateIfFree(ctx, CreateParams{
		ExpertID:        p.ExpertID,
		CandidateID:     p.CandidateID,
		ScheduledAt:     p.ScheduledAt,
		DurationMinutes: p.DurationMinutes,
		Topic:           p.Topic,
		PriceCents:      price,
		Currency:        expert.Currency,
	})
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, &ConflictError{Conflict: conflict}
	}

	w.fanOut(ctx, notify.EventSessionCreated, models.EmailTypeSessionBooked, session)
	return session, nil
}

// Cancel cancels a scheduled session. Either party may cancel.
func (w *Workflow) Cancel(ctx context.Context, sessionID, requesterID uuid.UUID) (*models.Session, error) {
	if err := w.requireParty(ctx, sessionID, requesterID); err != nil {
		return nil, err
	}
	session, err := w.store.CancelScheduled(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	w.fanOut(ctx, notify.EventSessionUpdated, models.EmailTypeSessionCancelled, session)
	return session, nil
}

// Reschedule moves a scheduled session to a new window. Either party may
// reschedule; the old window never blocks the new one.
func (w *Workflow) Reschedule(ctx context.Context, sessionID, requesterID uuid.UUID, newStart time.Time, newDuration int) (*models.Session, error) {
	if newDuration <= 0 {
		return nil, ErrBadDuration
	}
	if !newStart.After(time.Now()) {
		return nil, ErrPastStart
	}
	if err := w.requireParty(ctx, sessionID, requesterID); err != nil {
		return nil, err
	}

	session, conflict, err := w.store.RescheduleIfFree(ctx, sessionID, newStart, newDuration)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, &ConflictError{Conflict: conflict}
	}

	w.fanOut(ctx, notify.EventSessionUpdated, models.EmailTypeSessionRescheduled, session)
	return session, nil
}

// Complete finishes a session and creates the expert's pending payout.
// Only the expert may mark their session complete.
func (w *Workflow) Complete(ctx context.Context, sessionID, requesterID uuid.UUID) (*models.Session, *models.Payout, error) {
	session, err := w.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.ExpertID != requesterID {
		return nil, nil, ErrNotParty
	}

	session, payout, err := w.store.CompleteAndPayout(ctx, sessionID, w.feePercent)
	if err != nil {
		return nil, nil, err
	}
	w.fanOut(ctx, notify.EventSessionUpdated, models.EmailTypeSessionCompleted, session)
	return session, payout, nil
}

func (w *Workflow) requireParty(ctx context.Context, sessionID, userID uuid.UUID) error {
	session, err := w.store.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.IsParty(userID) {
		return ErrNotParty
	}
	return nil
}

// fanOut notifies both parties over their live streams and queues the
// lifecycle email. Failures here never fail the booking: the session is
// already committed.
func (w *Workflow) fanOut(ctx context.Context, event, emailType string, s *models.Session) {
	if w.notifier != nil {
		w.notifier.SendToUser(s.ExpertID, event, s)
		w.notifier.SendToUser(s.CandidateID, event, s)
	}
	if w.emails == nil {
		return
	}
	for _, id := range []uuid.UUID{s.ExpertID, s.CandidateID} {
		recipient, err := w.users.GetByID(ctx, id)
		if err != nil {
			w.logger.Error("load email recipient", zap.String("user_id", id.String()), zap.Error(err))
			continue
		}
		if err := w.emails.QueueSessionEmail(ctx, emailType, s, recipient); err != nil {
			w.logger.Error("queue session email",
				zap.String("session_id", s.ID.String()),
				zap.String("email_type", emailType),
				zap.Error(err))
		}
	}
}
