package organizations

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/internal/models"
	"github.com/caredesk/backend/pkg/response"
)

// Slug must be lowercase alphanumeric and hyphens only, 2–64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// Handler handles organization HTTP endpoints.
type Handler struct {
	repo       *Repository
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewHandler creates an organizations handler. The dispatcher is needed for
// the force-rebuild administrative path.
func NewHandler(repo *Repository, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, dispatcher: dispatcher, logger: logger}
}

// CreateOrganizationRequest is the body for POST /organizations.
type CreateOrganizationRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

// CreateOrganization handles POST /organizations. Creates org and adds the
// current user as org admin.
func (h *Handler) CreateOrganization(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var body CreateOrganizationRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and slug required")
		return
	}
	body.Slug = strings.ToLower(strings.TrimSpace(body.Slug))
	if !slugRegex.MatchString(body.Slug) {
		response.BadRequest(c, "slug must be 2–64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if len(body.Name) < 1 || len(body.Name) > 255 {
		response.BadRequest(c, "name must be 1–255 characters")
		return
	}
	org := &models.Organization{Name: body.Name, Slug: body.Slug}
	if err := h.repo.Create(c.Request.Context(), org); err != nil {
		if strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique") {
			response.Conflict(c, "An organization with this slug already exists")
			return
		}
		response.Internal(c, "failed to create organization")
		return
	}
	if err := h.repo.AddUser(c.Request.Context(), org.ID, userID, authz.RoleNameOrgAdmin); err != nil {
		response.Internal(c, "failed to add you as admin")
		return
	}
	response.Created(c, org)
}

// ListMyOrganizations handles GET /organizations.
func (h *Handler) ListMyOrganizations(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	orgs, err := h.repo.ListOrganizationsForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load organizations")
		return
	}
	response.OK(c, orgs)
}

// ListMembers handles GET /organizations/:id/members. Any member may list.
func (h *Handler) ListMembers(c *gin.Context) {
	orgID, _, ok := h.resolveMember(c)
	if !ok {
		return
	}
	members, err := h.repo.ListMembers(c.Request.Context(), orgID)
	if err != nil {
		response.Internal(c, "failed to load members")
		return
	}
	response.OK(c, members)
}

// UpdateAssignmentSettingsRequest is the body for PUT /organizations/:id/assignment-settings.
type UpdateAssignmentSettingsRequest struct {
	AutoAssign     bool                  `json:"auto_assign"`
	AssignmentAlgo models.AssignmentAlgo `json:"assignment_algo" binding:"required"`
	Rebuild        bool                  `json:"rebuild"`
}

// UpdateAssignmentSettings handles PUT /organizations/:id/assignment-settings.
// Org admin only. The rebuild flag additionally force-rebuilds the rotation
// queue from the current agent roster.
func (h *Handler) UpdateAssignmentSettings(c *gin.Context) {
	orgID, principal, ok := h.resolveMember(c)
	if !ok {
		return
	}
	if principal.Role != authz.RoleOrgAdmin {
		response.Forbidden(c, "org admin role required")
		return
	}
	var body UpdateAssignmentSettingsRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "assignment_algo required")
		return
	}
	if !body.AssignmentAlgo.Valid() {
		response.BadRequest(c, "assignment_algo must be RR or LAA")
		return
	}
	if err := h.repo.UpdateAssignmentSettings(c.Request.Context(), orgID, body.AutoAssign, body.AssignmentAlgo); err != nil {
		response.Internal(c, "failed to update assignment settings")
		return
	}
	if body.Rebuild {
		if n, err := h.dispatcher.ForceRebuild(c.Request.Context(), orgID); err != nil {
			// Settings are saved; the queue will self-heal on next dispatch.
			h.logger.Warn("force rebuild after settings update failed",
				zap.String("org_id", orgID.String()), zap.Error(err))
		} else {
			h.logger.Info("rotation queue rebuilt with settings update",
				zap.String("org_id", orgID.String()), zap.Int("agents", n))
		}
	}
	org, err := h.repo.GetByID(c.Request.Context(), orgID)
	if err != nil {
		response.Internal(c, "failed to load organization")
		return
	}
	response.OK(c, org)
}

// RebuildRotation handles POST /organizations/:id/rotation/rebuild.
// Org admin only; destructively replaces the rotation queue.
func (h *Handler) RebuildRotation(c *gin.Context) {
	orgID, principal, ok := h.resolveMember(c)
	if !ok {
		return
	}
	if principal.Role != authz.RoleOrgAdmin {
		response.Forbidden(c, "org admin role required")
		return
	}
	n, err := h.dispatcher.ForceRebuild(c.Request.Context(), orgID)
	if err != nil {
		response.ServiceUnavailable(c, "failed to rebuild rotation queue")
		return
	}
	response.OK(c, gin.H{"agents_enqueued": n})
}

// resolveMember parses :id and resolves the caller's membership in that org.
// Writes the error response itself when resolution fails.
func (h *Handler) resolveMember(c *gin.Context) (uuid.UUID, authz.Principal, bool) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return uuid.Nil, authz.Principal{}, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.repo.GetUserRole(c.Request.Context(), orgID, userID)
	if err != nil || role == authz.RoleNone {
		response.Forbidden(c, "not a member of this organization")
		return uuid.Nil, authz.Principal{}, false
	}
	return orgID, authz.Principal{UserID: userID, OrganizationID: orgID, Role: role}, true
}
