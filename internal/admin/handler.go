package admin

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/auth"
	"github.com/mockmate/backend/internal/middleware"
	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/internal/sessions"
	"github.com/mockmate/backend/pkg/response"
)

// LiveStats exposes the in-memory gauges of the realtime layers.
type LiveStats interface {
	TotalStreams() int
}

// RoomStats counts live meeting rooms.
type RoomStats interface {
	RoomCount() int
}

// Handler handles the admin endpoints.
type Handler struct {
	pool     *pgxpool.Pool
	users    *auth.Repository
	sessions *sessions.Repository
	streams  LiveStats
	rooms    RoomStats
	logger   *zap.Logger
}

// NewHandler creates an admin handler.
func NewHandler(pool *pgxpool.Pool, users *auth.Repository, sessionRepo *sessions.Repository, streams LiveStats, rooms RoomStats, logger *zap.Logger) *Handler {
	return &Handler{
		pool:     pool,
		users:    users,
		sessions: sessionRepo,
		streams:  streams,
		rooms:    rooms,
		logger:   logger,
	}
}

// ListUsers handles GET /api/admin/users.
func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(c.Request.Context())
	if err != nil {
		h.logger.Error("list users", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, users)
}

// SetUserStatusRequest is the account status payload.
type SetUserStatusRequest struct {
	Status models.UserStatus `json:"status" binding:"required"`
}

// SetUserStatus handles PATCH /api/admin/users/:id/status. Suspension keeps
// data intact; the account just cannot log in or take bookings.
func (h *Handler) SetUserStatus(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var req SetUserStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Status != models.UserStatusActive && req.Status != models.UserStatusSuspended {
		response.BadRequest(c, "status must be active or suspended")
		return
	}
	adminID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if id == adminID {
		response.BadRequest(c, "cannot change your own status")
		return
	}

	user, err := h.users.SetStatus(c.Request.Context(), id, req.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			response.NotFound(c, "user not found")
		} else {
			h.logger.Error("set user status", zap.String("user_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to update user")
		}
		return
	}
	response.OK(c, user.ToPublic())
}

// ListSessions handles GET /api/admin/sessions?status=.
func (h *Handler) ListSessions(c *gin.Context) {
	status := c.Query("status")
	if status != "" && !validSessionStatus(status) {
		response.BadRequest(c, "unknown session status")
		return
	}
	list, err := h.sessions.ListAll(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("list sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, list)
}

func validSessionStatus(s string) bool {
	switch models.SessionStatus(s) {
	case models.SessionScheduled, models.SessionInProgress, models.SessionCompleted,
		models.SessionCancelled, models.SessionRescheduled:
		return true
	}
	return false
}

// StatsResponse is the platform dashboard shape.
type StatsResponse struct {
	UsersByRole             map[string]int `json:"users_by_role"`
	SessionsByStatus        map[string]int `json:"sessions_by_status"`
	CompletedRevenueCents   int64          `json:"completed_revenue_cents"`
	PendingPayoutCents      int64          `json:"pending_payout_cents"`
	AvgRating               float64        `json:"avg_rating"`
	LiveNotificationStreams int            `json:"live_notification_streams"`
	LiveMeetingRooms        int            `json:"live_meeting_rooms"`
}

// Stats handles GET /api/admin/stats.
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()

	usersByRole, err := h.countGroups(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`)
	if err != nil {
		h.logger.Error("count users", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	sessionsByStatus, err := h.countGroups(ctx, `SELECT status, COUNT(*) FROM sessions GROUP BY status`)
	if err != nil {
		h.logger.Error("count sessions", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}

	out := StatsResponse{
		UsersByRole:      usersByRole,
		SessionsByStatus: sessionsByStatus,
	}
	// Money and rating aggregates are best-effort; an empty table yields
	// zeros either way.
	_ = h.pool.QueryRow(ctx, `SELECT COALESCE(SUM(price_cents), 0) FROM sessions WHERE status = 'completed'`).
		Scan(&out.CompletedRevenueCents)
	_ = h.pool.QueryRow(ctx, `SELECT COALESCE(SUM(amount_cents), 0) FROM payouts WHERE status = 'pending'`).
		Scan(&out.PendingPayoutCents)
	_ = h.pool.QueryRow(ctx, `SELECT COALESCE(AVG(rating), 0) FROM reviews`).
		Scan(&out.AvgRating)

	if h.streams != nil {
		out.LiveNotificationStreams = h.streams.TotalStreams()
	}
	if h.rooms != nil {
		out.LiveMeetingRooms = h.rooms.RoomCount()
	}
	response.OK(c, out)
}

func (h *Handler) countGroups(ctx context.Context, q string) (map[string]int, error) {
	rows, err := h.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}
