package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/pkg/mailer"
	"github.com/mockmate/backend/pkg/queue"
)

// EmailLogStore settles the outcome of a send attempt on its log row.
type EmailLogStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.EmailLog, error)
	MarkSent(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause string) error
}

// EmailProcessor delivers queued session emails and records the outcome.
type EmailProcessor struct {
	logs   EmailLogStore
	sender mailer.Sender
	queue  *queue.Queue
	logger *zap.Logger
}

// NewEmailProcessor creates an email worker.
func NewEmailProcessor(logs EmailLogStore, sender mailer.Sender, q *queue.Queue, logger *zap.Logger) *EmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailProcessor{logs: logs, sender: sender, queue: q, logger: logger}
}

// Process executes one email job. A job whose log row is already sent is
// skipped, so retried and resent jobs cannot double-deliver.
func (p *EmailProcessor) Process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeEmail {
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
	var payload queue.EmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	entry, err := p.logs.GetByID(ctx, payload.EmailLogID)
	if err != nil {
		return fmt.Errorf("email log not found: %s", payload.EmailLogID)
	}
	if entry.Status == models.EmailLogStatusSent {
		p.logger.Info("email already sent", zap.String("email_log_id", entry.ID.String()))
		return nil
	}

	if err := p.sender.Send(ctx, payload.RecipientEmail, payload.Subject, payload.Body); err != nil {
		if markErr := p.logs.MarkFailed(ctx, payload.EmailLogID, err.Error()); markErr != nil {
			p.logger.Error("mark email failed", zap.String("email_log_id", payload.EmailLogID.String()), zap.Error(markErr))
		}
		return fmt.Errorf("send: %w", err)
	}

	if err := p.logs.MarkSent(ctx, payload.EmailLogID); err != nil {
		p.logger.Error("mark email sent", zap.String("email_log_id", payload.EmailLogID.String()), zap.Error(err))
		return fmt.Errorf("update log: %w", err)
	}

	p.logger.Info("email delivered",
		zap.String("email_log_id", payload.EmailLogID.String()),
		zap.String("email_type", payload.EmailType))
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *EmailProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("email worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
