package payouts

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/middleware"
	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/pkg/response"
)

// Handler handles payout endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a payout handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// ListMine handles GET /api/payouts for the calling expert.
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	payouts, err := h.repo.ListByExpert(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list payouts", zap.String("expert_id", userID.String()), zap.Error(err))
		response.Internal(c, "failed to list payouts")
		return
	}
	response.OK(c, payouts)
}

// ListAll handles GET /api/admin/payouts?status=.
func (h *Handler) ListAll(c *gin.Context) {
	status := c.Query("status")
	if status != "" && status != models.PayoutStatusPending && status != models.PayoutStatusPaid {
		response.BadRequest(c, "status must be pending or paid")
		return
	}
	payouts, err := h.repo.ListAll(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("list payouts", zap.Error(err))
		response.Internal(c, "failed to list payouts")
		return
	}
	response.OK(c, payouts)
}

// MarkPaid handles POST /api/admin/payouts/:id/mark-paid after the money
// moved outside the platform.
func (h *Handler) MarkPaid(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid payout id")
		return
	}
	payout, err := h.repo.MarkPaid(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			response.NotFound(c, "payout not found")
		case errors.Is(err, ErrAlreadyPaid):
			response.Conflict(c, "payout already paid")
		default:
			h.logger.Error("mark payout paid", zap.String("payout_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to mark payout paid")
		}
		return
	}
	response.OK(c, payout)
}
