package reviews

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

// SessionLoader resolves the session being reviewed.
type SessionLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// Handler handles review endpoints.
type Handler struct {
	repo     *Repository
	sessions SessionLoader
	logger   *zap.Logger
}

// NewHandler creates a review handler.
func NewHandler(repo *Repository, loader SessionLoader, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, sessions: loader, logger: logger}
}

// CreateRequest is the review payload.
type CreateRequest struct {
	Rating  int    `json:"rating" binding:"required,min=1,max=5"`
	Comment string `json:"comment" binding:"max=2000"`
}

// Create handles POST /api/sessions/:id/review. Only the candidate of a
// completed session may review it, once.
func (h *Handler) Create(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, err := h.sessions.GetByID(c.Request.Context(), sessionID)
	if err != nil {
		if errors.Is(err, sessions.ErrNotFound) {
			response.NotFound(c, "session not found")
		} else {
			h.logger.Error("load session", zap.String("session_id", sessionID.String()), zap.Error(err))
			response.Internal(c, "failed to load session")
		}
		return
	}
	if session.CandidateID != userID {
		response.Forbidden(c, "only the candidate can review a session")
		return
	}
	if session.Status != models.SessionCompleted {
		response.Conflict(c, "only completed sessions can be reviewed")
		return
	}

	review, err := h.repo.Create(c.Request.Context(), session.ID, session.ExpertID, session.CandidateID, req.Rating, req.Comment)
	if err != nil {
		if errors.Is(err, ErrAlreadyReviewed) {
			response.Conflict(c, "session already reviewed")
		} else {
			h.logger.Error("create review", zap.String("session_id", sessionID.String()), zap.Error(err))
			response.Internal(c, "failed to create review")
		}
		return
	}
	response.Created(c, review)
}

// ListByExpert handles GET /api/experts/:id/reviews.
func (h *Handler) ListByExpert(c *gin.Context) {
	expertID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid expert id")
		return
	}
	reviews, err := h.repo.ListByExpert(c.Request.Context(), expertID)
	if err != nil {
		h.logger.Error("list reviews", zap.String("expert_id", expertID.String()), zap.Error(err))
		response.Internal(c, "failed to list reviews")
		return
	}
	response.OK(c, reviews)
}
