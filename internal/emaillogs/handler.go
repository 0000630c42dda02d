package emaillogs

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/pkg/queue"
	"github.com/mockmate/backend/pkg/response"
)

// Handler handles the admin email log endpoints.
type Handler struct {
	repo   *Repository
	jobs   *queue.Queue
	logger *zap.Logger
}

// NewHandler creates an email logs handler.
func NewHandler(repo *Repository, jobs *queue.Queue, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jobs: jobs, logger: logger}
}

// List handles GET /api/admin/emails?session_id=&status=.
func (h *Handler) List(c *gin.Context) {
	var sessionID *uuid.UUID
	if raw := c.Query("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			response.BadRequest(c, "invalid session id")
			return
		}
		sessionID = &id
	}
	status := c.Query("status")
	if status != "" && status != models.EmailLogStatusQueued && status != models.EmailLogStatusSent && status != models.EmailLogStatusFailed {
		response.BadRequest(c, "status must be queued, sent or failed")
		return
	}

	logs, err := h.repo.List(c.Request.Context(), sessionID, status)
	if err != nil {
		h.logger.Error("list email logs", zap.Error(err))
		response.Internal(c, "failed to load email logs")
		return
	}
	response.OK(c, logs)
}

// Resend handles POST /api/admin/emails/:id/resend. It re-queues a failed
// email as a fresh job; sent and still-queued emails are left alone.
func (h *Handler) Resend(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid email log id")
		return
	}
	entry, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "email log not found")
		} else {
			h.logger.Error("load email log", zap.String("email_log_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to load email log")
		}
		return
	}
	if entry.Status != models.EmailLogStatusFailed {
		response.Conflict(c, "only failed emails can be resent")
		return
	}
	if entry.SessionID == nil {
		response.Conflict(c, "email is not tied to a session")
		return
	}

	err = h.jobs.EnqueueEmail(c.Request.Context(), queue.EmailPayload{
		EmailLogID:     entry.ID,
		SessionID:      *entry.SessionID,
		EmailType:      entry.EmailType,
		RecipientEmail: entry.RecipientEmail,
		Subject:        entry.Subject,
		Body:           entry.Body,
	})
	if err != nil {
		h.logger.Error("re-enqueue email", zap.String("email_log_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to queue resend")
		return
	}
	response.OK(c, gin.H{"message": "resend queued"})
}
