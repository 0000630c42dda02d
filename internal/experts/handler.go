package experts

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/middleware"
	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/internal/scheduling"
	"github.com/mockmate/backend/pkg/response"
)

// defaultAvailabilityWindow is how far ahead the availability view looks
// when the caller gives no range.
const defaultAvailabilityWindow = 14 * 24 * time.Hour

// maxAvailabilityWindow caps the range a single request may scan.
const maxAvailabilityWindow = 90 * 24 * time.Hour

// Calendar supplies an expert's booked windows for the availability view.
type Calendar interface {
	FindActiveByExpertBetween(ctx context.Context, expertID uuid.UUID, from, to time.Time) ([]models.Session, error)
}

// Handler handles the public expert directory and availability endpoints.
type Handler struct {
	repo     *Repository
	calendar Calendar
	detector *scheduling.Detector
	logger   *zap.Logger
}

// NewHandler creates an expert handler.
func NewHandler(repo *Repository, calendar Calendar, detector *scheduling.Detector, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, calendar: calendar, detector: detector, logger: logger}
}

// List handles GET /api/experts. ?skill= narrows to experts advertising it.
func (h *Handler) List(c *gin.Context) {
	cards, err := h.repo.List(c.Request.Context(), c.Query("skill"))
	if err != nil {
		h.logger.Error("list experts", zap.Error(err))
		response.Internal(c, "failed to list experts")
		return
	}
	response.OK(c, cards)
}

// Get handles GET /api/experts/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid expert id")
		return
	}
	card, err := h.repo.GetCard(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "expert not found")
		} else {
			h.logger.Error("get expert", zap.String("expert_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to load expert")
		}
		return
	}
	response.OK(c, card)
}

// BusyWindow is one occupied span of an expert's calendar. Session details
// stay hidden from other candidates.
type BusyWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Availability handles GET /api/experts/:id/availability?from=&to=. Both
// bounds are RFC 3339; from defaults to now and to defaults to two weeks
// out.
func (h *Handler) Availability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid expert id")
		return
	}
	if _, err := h.repo.GetCard(c.Request.Context(), id); err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "expert not found")
		} else {
			h.logger.Error("get expert", zap.String("expert_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to load expert")
		}
		return
	}

	from, to, err := parseRange(c.Query("from"), c.Query("to"))
	if err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	sessions, err := h.calendar.FindActiveByExpertBetween(c.Request.Context(), id, from, to)
	if err != nil {
		h.logger.Error("load availability", zap.String("expert_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to load availability")
		return
	}

	busy := make([]BusyWindow, 0, len(sessions))
	for _, s := range sessions {
		busy = append(busy, BusyWindow{Start: s.ScheduledAt, End: s.EndsAt()})
	}
	response.OK(c, gin.H{"from": from, "to": to, "busy": busy})
}

// CheckAvailabilityRequest is a dry-run booking probe.
type CheckAvailabilityRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
}

// CheckAvailability handles POST /api/experts/:id/availability/check. It
// runs the same overlap scan a booking would, without writing anything.
func (h *Handler) CheckAvailability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid expert id")
		return
	}
	var req CheckAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.DurationMinutes <= 0 {
		response.BadRequest(c, "duration must be positive")
		return
	}

	conflict, err := h.detector.CheckConflict(c.Request.Context(), id, req.ScheduledAt, req.DurationMinutes)
	if err != nil {
		h.logger.Error("check availability", zap.String("expert_id", id.String()), zap.Error(err))
		response.Internal(c, "failed to check availability")
		return
	}
	if conflict != nil {
		response.OK(c, gin.H{"available": false, "busy": BusyWindow{Start: conflict.Start, End: conflict.End}})
		return
	}
	response.OK(c, gin.H{"available": true})
}

// UpdateMeRequest carries optional profile fields for the caller's own
// expert profile.
type UpdateMeRequest struct {
	Headline        *string  `json:"headline"`
	Bio             *string  `json:"bio"`
	Skills          []string `json:"skills"`
	HourlyRateCents *int64   `json:"hourly_rate_cents"`
	Currency        *string  `json:"currency"`
}

// UpdateMe handles PUT /api/experts/me.
func (h *Handler) UpdateMe(c *gin.Context) {
	var req UpdateMeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.HourlyRateCents != nil && *req.HourlyRateCents < 0 {
		response.BadRequest(c, "hourly rate cannot be negative")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	user, err := h.repo.UpdateProfile(c.Request.Context(), userID, UpdateProfileParams{
		Headline:        req.Headline,
		Bio:             req.Bio,
		Skills:          req.Skills,
		HourlyRateCents: req.HourlyRateCents,
		Currency:        req.Currency,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.Forbidden(c, "only experts can edit a profile")
		} else {
			h.logger.Error("update profile", zap.String("user_id", userID.String()), zap.Error(err))
			response.Internal(c, "failed to update profile")
		}
		return
	}
	response.OK(c, user.ToPublic())
}

func parseRange(fromRaw, toRaw string) (time.Time, time.Time, error) {
	from := time.Now()
	if fromRaw != "" {
		parsed, err := time.Parse(time.RFC3339, fromRaw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		from = parsed
	}
	to := from.Add(defaultAvailabilityWindow)
	if toRaw != "" {
		parsed, err := time.Parse(time.RFC3339, toRaw)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		to = parsed
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	if to.Sub(from) > maxAvailabilityWindow {
		return time.Time{}, time.Time{}, errors.New("range cannot exceed 90 days")
	}
	return from, to, nil
}
