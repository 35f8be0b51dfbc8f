package notifications

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/pkg/response"
)

// Handler handles notification HTTP endpoints. All routes are scoped to the
// authenticated user; there is no cross-user access.
type Handler struct {
	repo *Repository
}

// NewHandler creates a notifications handler.
func NewHandler(repo *Repository) *Handler {
	return &Handler{repo: repo}
}

// List handles GET /notifications?unread=true&limit=50.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	unreadOnly := c.Query("unread") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.repo.ListForUser(c.Request.Context(), userID, unreadOnly, limit)
	if err != nil {
		response.Internal(c, "failed to load notifications")
		return
	}
	response.OK(c, list)
}

// UnreadCount handles GET /notifications/unread-count.
func (h *Handler) UnreadCount(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	n, err := h.repo.CountUnread(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to count notifications")
		return
	}
	response.OK(c, gin.H{"unread": n})
}

// MarkRead handles PUT /notifications/:id/read.
func (h *Handler) MarkRead(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	if err := h.repo.MarkRead(c.Request.Context(), userID, id); err != nil {
		response.Internal(c, "failed to mark notification read")
		return
	}
	response.NoContent(c)
}

// MarkAllRead handles PUT /notifications/read-all.
func (h *Handler) MarkAllRead(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.repo.MarkAllRead(c.Request.Context(), userID); err != nil {
		response.Internal(c, "failed to mark notifications read")
		return
	}
	response.NoContent(c)
}
