package sessions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/internal/notify"
	"github.com/mockmate/backend/internal/scheduling"
)

type fakeStore struct {
	active    []models.Session
	activeErr error

	createConflict *scheduling.Conflict
	createErr      error
	createCalls    int
	lastCreate     CreateParams

	byID map[uuid.UUID]*models.Session

	rescheduleConflict *scheduling.Conflict

	payout *models.Payout
}

func (f *fakeStore) FindActiveByExpert(ctx context.Context, expertID uuid.UUID) ([]models.Session, error) {
	return f.active, f.activeErr
}

func (f *fakeStore) CreateIfFree(ctx context.Context, p CreateParams) (*models.Session, *scheduling.Conflict, error) {
	f.createCalls++
	f.lastCreate = p
	if f.createErr != nil {
		return nil, nil, f.createErr
	}
	if f.createConflict != nil {
		return nil, f.createConflict, nil
	}
	return &models.Session{
		ID:              uuid.New(),
		ExpertID:        p.ExpertID,
		CandidateID:     p.CandidateID,
		ScheduledAt:     p.ScheduledAt,
		DurationMinutes: p.DurationMinutes,
		Status:          models.SessionScheduled,
		MeetingID:       uuid.New(),
		Topic:           p.Topic,
		PriceCents:      p.PriceCents,
		Currency:        p.Currency,
	}, nil, nil
}

func (f *fakeStore) RescheduleIfFree(ctx context.Context, sessionID uuid.UUID, newStart time.Time, newDuration int) (*models.Session, *scheduling.Conflict, error) {
	if f.rescheduleConflict != nil {
		return nil, f.rescheduleConflict, nil
	}
	old, ok := f.byID[sessionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if old.Status != models.SessionScheduled {
		return nil, nil, ErrInvalidStatus
	}
	moved := *old
	moved.ID = uuid.New()
	moved.ScheduledAt = newStart
	moved.DurationMinutes = newDuration
	return &moved, nil, nil
}

func (f *fakeStore) CancelScheduled(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	s, ok := f.byID[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if s.Status != models.SessionScheduled {
		return nil, ErrInvalidStatus
	}
	cancelled := *s
	cancelled.Status = models.SessionCancelled
	return &cancelled, nil
}

func (f *fakeStore) CompleteAndPayout(ctx context.Context, sessionID uuid.UUID, feePercent int) (*models.Session, *models.Payout, error) {
	s, ok := f.byID[sessionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	if !s.Status.Active() {
		return nil, nil, ErrInvalidStatus
	}
	done := *s
	done.Status = models.SessionCompleted
	f.payout = &models.Payout{
		ID:          uuid.New(),
		SessionID:   done.ID,
		ExpertID:    done.ExpertID,
		AmountCents: done.PriceCents - done.PriceCents*int64(feePercent)/100,
		Currency:    done.Currency,
		Status:      models.PayoutStatusPending,
	}
	return &done, f.payout, nil
}

func (f *fakeStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	s, ok := f.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

type fakeUsers struct {
	users map[uuid.UUID]*models.User
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, errors.New("no rows")
	}
	return u, nil
}

type sentEvent struct {
	userID uuid.UUID
	event  string
}

type fakeNotifier struct {
	sent []sentEvent
}

func (f *fakeNotifier) SendToUser(userID uuid.UUID, event string, data interface{}) {
	f.sent = append(f.sent, sentEvent{userID: userID, event: event})
}

type queuedEmail struct {
	emailType string
	recipient string
}

type fakeEmails struct {
	queued []queuedEmail
	err    error
}

func (f *fakeEmails) QueueSessionEmail(ctx context.Context, emailType string, s *models.Session, recipient *models.User) error {
	if f.err != nil {
		return f.err
	}
	f.queued = append(f.queued, queuedEmail{emailType: emailType, recipient: recipient.Email})
	return nil
}

type workflowFixture struct {
	workflow *Workflow
	store    *fakeStore
	notifier *fakeNotifier
	emails   *fakeEmails
	expert   *models.User
	cand     *models.User
}

func newWorkflowFixture(t *testing.T) *workflowFixture {
	t.Helper()
	expert := &models.User{
		ID:              uuid.New(),
		Email:           "expert@example.com",
		FullName:        "Priya Expert",
		Role:            models.RoleExpert,
		Status:          models.UserStatusActive,
		HourlyRateCents: 12000,
		Currency:        "USD",
	}
	cand := &models.User{
		ID:       uuid.New(),
		Email:    "candidate@example.com",
		FullName: "Chris Candidate",
		Role:     models.RoleCandidate,
		Status:   models.UserStatusActive,
	}
	store := &fakeStore{byID: map[uuid.UUID]*models.Session{}}
	notifier := &fakeNotifier{}
	emails := &fakeEmails{}
	users := &fakeUsers{users: map[uuid.UUID]*models.User{expert.ID: expert, cand.ID: cand}}
	wf := NewWorkflow(store, scheduling.NewDetector(store), users, notifier, emails, 20, zap.NewNop())
	return &workflowFixture{workflow: wf, store: store, notifier: notifier, emails: emails, expert: expert, cand: cand}
}

func (fx *workflowFixture) bookParams() BookParams {
	return BookParams{
		ExpertID:        fx.expert.ID,
		CandidateID:     fx.cand.ID,
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
		Topic:           "system design",
	}
}

func TestWorkflowBook(t *testing.T) {
	t.Run("creates session and notifies both parties", func(t *testing.T) {
		fx := newWorkflowFixture(t)

		session, err := fx.workflow.Book(context.Background(), fx.bookParams())
		require.NoError(t, err)
		require.NotNil(t, session)
		assert.Equal(t, models.SessionScheduled, session.Status)
		assert.Equal(t, int64(12000), session.PriceCents)
		assert.Equal(t, "USD", session.Currency)

		require.Len(t, fx.notifier.sent, 2)
		assert.Equal(t, sentEvent{fx.expert.ID, notify.EventSessionCreated}, fx.notifier.sent[0])
		assert.Equal(t, sentEvent{fx.cand.ID, notify.EventSessionCreated}, fx.notifier.sent[1])

		require.Len(t, fx.emails.queued, 2)
		assert.Equal(t, models.EmailTypeSessionBooked, fx.emails.queued[0].emailType)
		assert.Equal(t, "expert@example.com", fx.emails.queued[0].recipient)
		assert.Equal(t, "candidate@example.com", fx.emails.queued[1].recipient)
	})

	t.Run("prices a half hour at half the hourly rate", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		p := fx.bookParams()
		p.DurationMinutes = 30

		session, err := fx.workflow.Book(context.Background(), p)
		require.NoError(t, err)
		assert.Equal(t, int64(6000), session.PriceCents)
	})

	t.Run("rejects overlap seen by the pre-check without touching the store", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		p := fx.bookParams()
		fx.store.active = []models.Session{{
			ID:              uuid.New(),
			ExpertID:        fx.expert.ID,
			ScheduledAt:     p.ScheduledAt.Add(-30 * time.Minute),
			DurationMinutes: 60,
			Status:          models.SessionScheduled,
		}}

		_, err := fx.workflow.Book(context.Background(), p)
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Equal(t, fx.store.active[0].ID, conflictErr.Conflict.Session.ID)
		assert.Equal(t, 0, fx.store.createCalls)
		assert.Empty(t, fx.notifier.sent)
		assert.Empty(t, fx.emails.queued)
	})

	t.Run("rejects overlap caught by the store under a concurrent booking", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		fx.store.createConflict = &scheduling.Conflict{
			Session: models.Session{ID: uuid.New(), ExpertID: fx.expert.ID},
		}

		_, err := fx.workflow.Book(context.Background(), fx.bookParams())
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Equal(t, 1, fx.store.createCalls)
		assert.Empty(t, fx.notifier.sent)
	})

	t.Run("validation", func(t *testing.T) {
		fx := newWorkflowFixture(t)

		p := fx.bookParams()
		p.DurationMinutes = 0
		_, err := fx.workflow.Book(context.Background(), p)
		assert.ErrorIs(t, err, ErrBadDuration)

		p = fx.bookParams()
		p.ScheduledAt = time.Now().Add(-time.Hour)
		_, err = fx.workflow.Book(context.Background(), p)
		assert.ErrorIs(t, err, ErrPastStart)

		p = fx.bookParams()
		p.CandidateID = p.ExpertID
		_, err = fx.workflow.Book(context.Background(), p)
		assert.ErrorIs(t, err, ErrSelfBooking)

		p = fx.bookParams()
		p.ExpertID = uuid.New()
		_, err = fx.workflow.Book(context.Background(), p)
		assert.ErrorIs(t, err, ErrExpertNotFound)
	})

	t.Run("rejects booking a candidate as the expert", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		p := fx.bookParams()
		p.ExpertID, p.CandidateID = p.CandidateID, p.ExpertID

		_, err := fx.workflow.Book(context.Background(), p)
		assert.ErrorIs(t, err, ErrNotBookable)
	})

	t.Run("rejects a suspended expert", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		fx.expert.Status = models.UserStatusSuspended

		_, err := fx.workflow.Book(context.Background(), fx.bookParams())
		assert.ErrorIs(t, err, ErrNotBookable)
	})

	t.Run("propagates store failures", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		fx.store.createErr = errors.New("connection reset")

		_, err := fx.workflow.Book(context.Background(), fx.bookParams())
		require.Error(t, err)
		var conflictErr *ConflictError
		assert.False(t, errors.As(err, &conflictErr))
		assert.Empty(t, fx.notifier.sent)
	})

	t.Run("propagates calendar load failures from the pre-check", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		fx.store.activeErr = errors.New("connection reset")

		_, err := fx.workflow.Book(context.Background(), fx.bookParams())
		require.Error(t, err)
		assert.Equal(t, 0, fx.store.createCalls)
	})

	t.Run("email queue failure does not fail the booking", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		fx.emails.err = errors.New("redis down")

		session, err := fx.workflow.Book(context.Background(), fx.bookParams())
		require.NoError(t, err)
		assert.NotNil(t, session)
		assert.Len(t, fx.notifier.sent, 2)
	})
}

func TestWorkflowCancel(t *testing.T) {
	fx := newWorkflowFixture(t)
	scheduled := &models.Session{
		ID:          uuid.New(),
		ExpertID:    fx.expert.ID,
		CandidateID: fx.cand.ID,
		Status:      models.SessionScheduled,
	}
	fx.store.byID[scheduled.ID] = scheduled

	t.Run("rejects strangers", func(t *testing.T) {
		_, err := fx.workflow.Cancel(context.Background(), scheduled.ID, uuid.New())
		assert.ErrorIs(t, err, ErrNotParty)
		assert.Empty(t, fx.notifier.sent)
	})

	t.Run("unknown session", func(t *testing.T) {
		_, err := fx.workflow.Cancel(context.Background(), uuid.New(), fx.cand.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("either party may cancel", func(t *testing.T) {
		session, err := fx.workflow.Cancel(context.Background(), scheduled.ID, fx.cand.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCancelled, session.Status)
		require.Len(t, fx.notifier.sent, 2)
		assert.Equal(t, notify.EventSessionUpdated, fx.notifier.sent[0].event)
		require.Len(t, fx.emails.queued, 2)
		assert.Equal(t, models.EmailTypeSessionCancelled, fx.emails.queued[0].emailType)
	})

	t.Run("completed session cannot be cancelled", func(t *testing.T) {
		done := &models.Session{
			ID:          uuid.New(),
			ExpertID:    fx.expert.ID,
			CandidateID: fx.cand.ID,
			Status:      models.SessionCompleted,
		}
		fx.store.byID[done.ID] = done

		_, err := fx.workflow.Cancel(context.Background(), done.ID, fx.expert.ID)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}

func TestWorkflowReschedule(t *testing.T) {
	newStart := time.Now().Add(72 * time.Hour)

	t.Run("moves the session and notifies", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		scheduled := &models.Session{
			ID:          uuid.New(),
			ExpertID:    fx.expert.ID,
			CandidateID: fx.cand.ID,
			Status:      models.SessionScheduled,
			PriceCents:  12000,
		}
		fx.store.byID[scheduled.ID] = scheduled

		moved, err := fx.workflow.Reschedule(context.Background(), scheduled.ID, fx.expert.ID, newStart, 45)
		require.NoError(t, err)
		assert.NotEqual(t, scheduled.ID, moved.ID)
		assert.Equal(t, newStart, moved.ScheduledAt)
		assert.Equal(t, 45, moved.DurationMinutes)
		assert.Equal(t, int64(12000), moved.PriceCents)
		require.Len(t, fx.emails.queued, 2)
		assert.Equal(t, models.EmailTypeSessionRescheduled, fx.emails.queued[0].emailType)
	})

	t.Run("surfaces the blocking session", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		scheduled := &models.Session{
			ID:          uuid.New(),
			ExpertID:    fx.expert.ID,
			CandidateID: fx.cand.ID,
			Status:      models.SessionScheduled,
		}
		fx.store.byID[scheduled.ID] = scheduled
		fx.store.rescheduleConflict = &scheduling.Conflict{Session: models.Session{ID: uuid.New()}}

		_, err := fx.workflow.Reschedule(context.Background(), scheduled.ID, fx.cand.ID, newStart, 60)
		var conflictErr *ConflictError
		require.ErrorAs(t, err, &conflictErr)
		assert.Empty(t, fx.notifier.sent)
	})

	t.Run("rejects a past start", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		_, err := fx.workflow.Reschedule(context.Background(), uuid.New(), fx.cand.ID, time.Now().Add(-time.Minute), 60)
		assert.ErrorIs(t, err, ErrPastStart)
	})
}

func TestWorkflowComplete(t *testing.T) {
	t.Run("expert completes and earns the payout", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		scheduled := &models.Session{
			ID:          uuid.New(),
			ExpertID:    fx.expert.ID,
			CandidateID: fx.cand.ID,
			Status:      models.SessionInProgress,
			PriceCents:  10000,
			Currency:    "USD",
		}
		fx.store.byID[scheduled.ID] = scheduled

		session, payout, err := fx.workflow.Complete(context.Background(), scheduled.ID, fx.expert.ID)
		require.NoError(t, err)
		assert.Equal(t, models.SessionCompleted, session.Status)
		require.NotNil(t, payout)
		assert.Equal(t, int64(8000), payout.AmountCents)
		assert.Equal(t, models.PayoutStatusPending, payout.Status)
		require.Len(t, fx.emails.queued, 2)
		assert.Equal(t, models.EmailTypeSessionCompleted, fx.emails.queued[0].emailType)
	})

	t.Run("candidate cannot complete", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		scheduled := &models.Session{
			ID:          uuid.New(),
			ExpertID:    fx.expert.ID,
			CandidateID: fx.cand.ID,
			Status:      models.SessionScheduled,
		}
		fx.store.byID[scheduled.ID] = scheduled

		_, _, err := fx.workflow.Complete(context.Background(), scheduled.ID, fx.cand.ID)
		assert.ErrorIs(t, err, ErrNotParty)
	})

	t.Run("cancelled session cannot complete", func(t *testing.T) {
		fx := newWorkflowFixture(t)
		cancelled := &models.Session{
			ID:          uuid.New(),
			ExpertID:    fx.expert.ID,
			CandidateID: fx.cand.ID,
			Status:      models.SessionCancelled,
		}
		fx.store.byID[cancelled.ID] = cancelled

		_, _, err := fx.workflow.Complete(context.Background(), cancelled.ID, fx.expert.ID)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})
}
