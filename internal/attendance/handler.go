package attendance

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/middleware"
	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/internal/sessions"
	"github.com/mockmate/backend/pkg/response"
)

// SessionLoader resolves the session whose attendance is requested.
type SessionLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Handler serves attendance records.
type Handler struct {
	repo     *Repository
	sessions SessionLoader
	logger   *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(repo *Repository, loader SessionLoader, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, sessions: loader, logger: logger}
}

// ListBySession handles GET /api/sessions/:id/attendance for the session's
// parties and admins.
func (h *Handler) ListBySession(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	session, err := h.sessions.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			response.NotFound(c, "session not found")
		} else {
			h.logger.Error("load session", zap.String("session_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to load session")
		}
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.MustGet(middleware.ContextUserRole).(string)
	if !session.IsParty(userID) && role != string(models.RoleAdmin) {
		response.Forbidden(c, "not a participant of this session")
		return
	}

	records, err := h.repo.ListBySession(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list attendance", zap.String("session_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to list attendance")
		return
	}
	response.OK(c, records)
}
