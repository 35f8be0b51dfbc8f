package availability

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/pkg/response"
)

// Handler handles agent availability HTTP endpoints.
type Handler struct {
	repo    *Repository
	orgRepo *organizations.Repository
}

// NewHandler creates an availability handler.
func NewHandler(repo *Repository, orgRepo *organizations.Repository) *Handler {
	return &Handler{repo: repo, orgRepo: orgRepo}
}

// List handles GET /organizations/:id/availability. Org admin only.
func (h *Handler) List(c *gin.Context) {
	orgID, role, ok := h.resolveRole(c)
	if !ok {
		return
	}
	if role != authz.RoleOrgAdmin {
		response.Forbidden(c, "org admin role required")
		return
	}
	list, err := h.repo.ListByOrg(c.Request.Context(), orgID)
	if err != nil {
		response.Internal(c, "failed to load availability")
		return
	}
	response.OK(c, list)
}

// UpdateSelfRequest is the body for PUT /organizations/:id/availability.
type UpdateSelfRequest struct {
	IsAvailable bool `json:"is_available"`
	MaxTickets  int  `json:"max_tickets" binding:"required,min=1"`
}

// UpdateSelf handles PUT /organizations/:id/availability. Agents set their
// own availability flag and capacity.
func (h *Handler) UpdateSelf(c *gin.Context) {
	orgID, role, ok := h.resolveRole(c)
	if !ok {
		return
	}
	if role != authz.RoleAgent {
		response.Forbidden(c, "agent role required")
		return
	}
	var body UpdateSelfRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "max_tickets must be at least 1")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	if err := h.repo.SetAvailability(c.Request.Context(), orgID, userID, body.IsAvailable, body.MaxTickets); err != nil {
		response.Internal(c, "failed to update availability")
		return
	}
	row, err := h.repo.Get(c.Request.Context(), orgID, userID)
	if err != nil {
		response.NotFound(c, "availability row not found")
		return
	}
	response.OK(c, row)
}

func (h *Handler) resolveRole(c *gin.Context) (uuid.UUID, authz.Role, bool) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return uuid.Nil, authz.RoleNone, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), orgID, userID)
	if err != nil || role == authz.RoleNone {
		response.Forbidden(c, "not a member of this organization")
		return uuid.Nil, authz.RoleNone, false
	}
	return orgID, role, true
}
