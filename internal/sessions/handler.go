package sessions

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mockmate/backend/internal/middleware"
	"github.com/mockmate/backend/internal/models"
	"github.com/mockmate/backend/pkg/response"
	"github.com/mockmate/backend/pkg/storage"
)

// Presence reports who is currently connected to a meeting room.
type Presence interface {
	RoomMembers(roomID uuid.UUID) []uuid.UUID
}

// Handler handles session booking and lifecycle endpoints.
type Handler struct {
	repo     *Repository
	workflow *Workflow
	store    *storage.S3
	presence Presence
	logger   *zap.Logger
}

// NewHandler creates a session handler. store may be nil when S3 is not
// configured; resume endpoints then answer 503.
func NewHandler(repo *Repository, workflow *Workflow, store *storage.S3, presence Presence, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, workflow: workflow, store: store, presence: presence, logger: logger}
}

// BookRequest is the booking payload.
type BookRequest struct {
	ExpertID        uuid.UUID `json:"expert_id" binding:"required"`
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
	Topic           string    `json:"topic"`
}

// Book handles POST /api/sessions.
func (h *Handler) Book(c *gin.Context) {
	var req BookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, err := h.workflow.Book(c.Request.Context(), BookParams{
		ExpertID:        req.ExpertID,
		CandidateID:     userID,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Topic:           req.Topic,
	})
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}
	response.Created(c, session)
}

// List handles GET /api/sessions. Experts see sessions they host,
// everyone else the sessions they booked.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.MustGet(middleware.ContextUserRole).(string)

	var (
		sessions []models.Session
		err      error
	)
	if role == string(models.RoleExpert) {
		sessions, err = h.repo.ListByExpert(c.Request.Context(), userID)
	} else {
		sessions, err = h.repo.ListByCandidate(c.Request.Context(), userID)
	}
	if err != nil {
		h.logger.Error("list sessions", zap.Error(err))
		response.Internal(c, "failed to list sessions")
		return
	}
	response.OK(c, sessions)
}

// Get handles GET /api/sessions/:id.
func (h *Handler) Get(c *gin.Context) {
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	response.OK(c, session)
}

// Cancel handles POST /api/sessions/:id/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, err := h.workflow.Cancel(c.Request.Context(), id, userID)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}
	response.OK(c, session)
}

// RescheduleRequest is the reschedule payload.
type RescheduleRequest struct {
	ScheduledAt     time.Time `json:"scheduled_at" binding:"required"`
	DurationMinutes int       `json:"duration_minutes" binding:"required"`
}

// Reschedule handles POST /api/sessions/:id/reschedule.
func (h *Handler) Reschedule(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, err := h.workflow.Reschedule(c.Request.Context(), id, userID, req.ScheduledAt, req.DurationMinutes)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}
	response.OK(c, session)
}

// Complete handles POST /api/sessions/:id/complete.
func (h *Handler) Complete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	session, payout, err := h.workflow.Complete(c.Request.Context(), id, userID)
	if err != nil {
		h.writeWorkflowError(c, err)
		return
	}
	response.OK(c, gin.H{"session": session, "payout": payout})
}

// Participants handles GET /api/sessions/:id/participants: who is on the
// call right now, straight from the signaling rooms.
func (h *Handler) Participants(c *gin.Context) {
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	members := h.presence.RoomMembers(session.MeetingID)
	response.OK(c, gin.H{
		"session_id":   session.ID,
		"participants": members,
		"count":        len(members),
	})
}

// UploadResume handles POST /api/sessions/:id/resume. The candidate streams
// their resume as multipart form data; the key is recorded on the session.
func (h *Handler) UploadResume(c *gin.Context) {
	if h.store == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if session.CandidateID != userID {
		response.Forbidden(c, "only the candidate can share a resume")
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file")
		return
	}
	if fileHeader.Size > storage.MaxResumeFileSize {
		response.BadRequest(c, "resume exceeds the 5MB limit")
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(fileHeader.Filename)
	}
	if !storage.ValidateResumeFileType(contentType, fileHeader.Filename) {
		response.BadRequest(c, "resume must be a PDF, Word or text document")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "unreadable file")
		return
	}
	defer file.Close()

	key := storage.ResumeKey(session.CandidateID.String(), fileHeader.Filename)
	if _, err := h.store.Upload(c.Request.Context(), h.store.UploadsBucket(), key, contentType, file, fileHeader.Size); err != nil {
		h.logger.Error("upload resume", zap.String("session_id", session.ID.String()), zap.Error(err))
		response.Internal(c, "failed to upload resume")
		return
	}
	if err := h.repo.SetResumeKey(c.Request.Context(), session.ID, key); err != nil {
		h.logger.Error("record resume key", zap.String("session_id", session.ID.String()), zap.Error(err))
		response.Internal(c, "failed to record resume")
		return
	}
	h.deleteReplacedResume(c, session.ResumeKey, key)
	response.OK(c, gin.H{"resume_key": key})
}

// ResumeUploadURLRequest asks for a presigned PUT URL.
type ResumeUploadURLRequest struct {
	Filename string `json:"filename" binding:"required"`
}

// CreateResumeUploadURL handles POST /api/sessions/:id/resume/upload-url for
// clients that upload directly to S3. The key is recorded up front so the
// download endpoint works as soon as the client finishes its PUT.
func (h *Handler) CreateResumeUploadURL(c *gin.Context) {
	if h.store == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if session.CandidateID != userID {
		response.Forbidden(c, "only the candidate can share a resume")
		return
	}

	var req ResumeUploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	contentType := storage.ContentTypeForFilename(req.Filename)
	if !storage.ValidateResumeFileType(contentType, req.Filename) {
		response.BadRequest(c, "resume must be a PDF, Word or text document")
		return
	}

	key := storage.ResumeKey(session.CandidateID.String(), req.Filename)
	url, err := h.store.GeneratePresignedUploadURL(c.Request.Context(), h.store.UploadsBucket(), key, contentType, h.store.PresignExpire())
	if err != nil {
		h.logger.Error("presign resume upload", zap.String("session_id", session.ID.String()), zap.Error(err))
		response.Internal(c, "failed to create upload URL")
		return
	}
	if err := h.repo.SetResumeKey(c.Request.Context(), session.ID, key); err != nil {
		h.logger.Error("record resume key", zap.String("session_id", session.ID.String()), zap.Error(err))
		response.Internal(c, "failed to record resume")
		return
	}
	h.deleteReplacedResume(c, session.ResumeKey, key)
	response.OK(c, gin.H{
		"upload_url":   url,
		"resume_key":   key,
		"content_type": contentType,
		"expires_in":   int(h.store.PresignExpire().Seconds()),
	})
}

// GetResumeDownloadURL handles GET /api/sessions/:id/resume/download-url.
// Either party fetches a short-lived link to the shared resume.
func (h *Handler) GetResumeDownloadURL(c *gin.Context) {
	if h.store == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	if session.ResumeKey == "" {
		response.NotFound(c, "no resume shared for this session")
		return
	}

	url, err := h.store.GeneratePresignedDownloadURL(c.Request.Context(), h.store.UploadsBucket(), session.ResumeKey, h.store.PresignExpire())
	if err != nil {
		h.logger.Error("presign resume download", zap.String("session_id", session.ID.String()), zap.Error(err))
		response.Internal(c, "failed to create download URL")
		return
	}
	response.OK(c, gin.H{
		"download_url": url,
		"expires_in":   int(h.store.PresignExpire().Seconds()),
	})
}

// DownloadResume handles GET /api/sessions/:id/resume, streaming the shared
// resume through the server so the bucket never has to be reachable from the
// browser.
func (h *Handler) DownloadResume(c *gin.Context) {
	if h.store == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	if session.ResumeKey == "" {
		response.NotFound(c, "no resume shared for this session")
		return
	}

	body, contentType, err := h.store.GetObjectStream(c.Request.Context(), h.store.UploadsBucket(), session.ResumeKey)
	if err != nil {
		h.logger.Warn("resume get failed", zap.String("resume_key", session.ResumeKey), zap.Error(err))
		response.NotFound(c, "resume not found")
		return
	}
	defer body.Close()
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(session.ResumeKey)
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(session.ResumeKey)))
	c.Header("Cache-Control", "private, max-age=300")
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

// RemoveResume handles DELETE /api/sessions/:id/resume. The candidate
// withdraws the shared resume; the key is cleared first so the download
// endpoints stop serving it even if the object removal lags.
func (h *Handler) RemoveResume(c *gin.Context) {
	if h.store == nil {
		response.ServiceUnavailable(c, "file storage is not configured")
		return
	}
	session, ok := h.loadForParty(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if session.CandidateID != userID {
		response.Forbidden(c, "only the candidate can withdraw the resume")
		return
	}
	if session.ResumeKey == "" {
		response.NotFound(c, "no resume shared for this session")
		return
	}

	if err := h.repo.SetResumeKey(c.Request.Context(), session.ID, ""); err != nil {
		h.logger.Error("clear resume key", zap.String("session_id", session.ID.String()), zap.Error(err))
		response.Internal(c, "failed to withdraw resume")
		return
	}
	h.deleteReplacedResume(c, session.ResumeKey, "")
	response.NoContent(c)
}

// deleteReplacedResume removes the previous resume object once a new key is
// recorded. Best effort: an orphaned object is not worth failing the share.
func (h *Handler) deleteReplacedResume(c *gin.Context, oldKey, newKey string) {
	if oldKey == "" || oldKey == newKey {
		return
	}
	if err := h.store.DeleteResume(c.Request.Context(), oldKey); err != nil {
		h.logger.Warn("delete replaced resume", zap.String("resume_key", oldKey), zap.Error(err))
	}
}

// loadForParty parses :id, loads the session and enforces that the caller
// is the expert, the candidate or an admin. Writes the error response and
// returns ok=false otherwise.
func (h *Handler) loadForParty(c *gin.Context) (*models.Session, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid session id")
		return nil, false
	}
	session, err := h.repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			response.NotFound(c, "session not found")
		} else {
			h.logger.Error("load session", zap.String("session_id", id.String()), zap.Error(err))
			response.Internal(c, "failed to load session")
		}
		return nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.MustGet(middleware.ContextUserRole).(string)
	if !session.IsParty(userID) && role != string(models.RoleAdmin) {
		response.Forbidden(c, "not a participant of this session")
		return nil, false
	}
	return session, true
}

// writeWorkflowError maps workflow errors onto HTTP responses.
func (h *Handler) writeWorkflowError(c *gin.Context, err error) {
	var conflictErr *ConflictError
	switch {
	case errors.As(err, &conflictErr):
		response.ConflictData(c, "expert is busy during this window", conflictErr.Conflict)
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrExpertNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, ErrNotParty):
		response.Forbidden(c, err.Error())
	case errors.Is(err, ErrInvalidStatus):
		response.Conflict(c, err.Error())
	case errors.Is(err, ErrNotBookable), errors.Is(err, ErrSelfBooking),
		errors.Is(err, ErrPastStart), errors.Is(err, ErrBadDuration):
		response.BadRequest(c, err.Error())
	default:
		h.logger.Error("session workflow", zap.Error(err))
		response.Internal(c, "something went wrong")
	}
}
