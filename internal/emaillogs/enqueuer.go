package emaillogs

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/pkg/queue"
)

// Enqueuer turns session lifecycle events into queued emails: it writes the
// email_logs row first, then pushes the job carrying that row's ID so the
// worker can settle the outcome.
type Enqueuer struct {
	repo   *Repository
	jobs   *queue.Queue
	logger *zap.Logger
}

// NewEnqueuer creates an email enqueuer.
func NewEnqueuer(repo *Repository, jobs *queue.Queue, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{repo: repo, jobs: jobs, logger: logger}
}

// QueueSessionEmail records and enqueues one lifecycle email.
func (e *Enqueuer) QueueSessionEmail(ctx context.Context, emailType string, s *models.Session, recipient *models.User) error {
	subject := subjectFor(emailType, s)
	body := bodyFor(emailType, s, recipient)
	entry, err := e.repo.Create(ctx, s.ID, emailType, recipient.Email, subject, body)
	if err != nil {
		return fmt.Errorf("record email: %w", err)
	}
	err = e.jobs.EnqueueEmail(ctx, queue.EmailPayload{
		EmailLogID:     entry.ID,
		SessionID:      s.ID,
		EmailType:      emailType,
		RecipientEmail: recipient.Email,
		Subject:        subject,
		Body:           body,
	})
	if err != nil {
		if markErr := e.repo.MarkFailed(ctx, entry.ID, "enqueue: "+err.Error()); markErr != nil {
			e.logger.Error("mark email failed", zap.String("email_log_id", entry.ID.String()), zap.Error(markErr))
		}
		return fmt.Errorf("enqueue email: %w", err)
	}
	return nil
}

const timeLayout = "Monday, 2 January 2006 at 15:04 MST"

func subjectFor(emailType string, s *models.Session) string {
	when := s.ScheduledAt.Format(timeLayout)
	switch emailType {
	case models.EmailTypeSessionBooked:
		return "Mock interview booked for " + when
	case models.EmailTypeSessionCancelled:
		return "Mock interview cancelled"
	case models.EmailTypeSessionRescheduled:
		return "Mock interview moved to " + when
	case models.EmailTypeSessionCompleted:
		return "Mock interview completed"
	default:
		return "Mock interview update"
	}
}

func bodyFor(emailType string, s *models.Session, recipient *models.User) string {
	when := s.ScheduledAt.Format(timeLayout)
	topic := s.Topic
	if topic == "" {
		topic = "general interview practice"
	}

	var lead string
	switch emailType {
	case models.EmailTypeSessionBooked:
		lead = fmt.Sprintf("Your mock interview on %s is confirmed for %s (%d minutes).", topic, when, s.DurationMinutes)
	case models.EmailTypeSessionCancelled:
		lead = fmt.Sprintf("Your mock interview on %s, planned for %s, has been cancelled.", topic, when)
	case models.EmailTypeSessionRescheduled:
		lead = fmt.Sprintf("Your mock interview on %s has been moved to %s (%d minutes).", topic, when, s.DurationMinutes)
	case models.EmailTypeSessionCompleted:
		lead = fmt.Sprintf("Your mock interview on %s is complete. Thanks for using MockMate.", topic)
	default:
		lead = fmt.Sprintf("There is an update on your mock interview on %s.", topic)
	}

	return fmt.Sprintf("Hi %s,\n\n%s\n\nSession ID: %s\n\nThe MockMate team\n", recipient.FullName, lead, s.ID)
}
