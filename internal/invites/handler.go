package invites

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/availability"
	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/internal/models"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/pkg/queue"
	"github.com/caredesk/backend/pkg/response"
)

// Handler handles organization invite HTTP endpoints.
type Handler struct {
	repo              *Repository
	orgRepo           *organizations.Repository
	availRepo         *availability.Repository
	dispatcher        *dispatch.Dispatcher
	jobs              *queue.Queue
	defaultMaxTickets int
	logger            *zap.Logger
}

// NewHandler creates an invites handler. defaultMaxTickets seeds the
// availability row when an agent invite is accepted.
func NewHandler(repo *Repository, orgRepo *organizations.Repository, availRepo *availability.Repository, dispatcher *dispatch.Dispatcher, jobs *queue.Queue, defaultMaxTickets int, logger *zap.Logger) *Handler {
	if defaultMaxTickets <= 0 {
		defaultMaxTickets = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:              repo,
		orgRepo:           orgRepo,
		availRepo:         availRepo,
		dispatcher:        dispatcher,
		jobs:              jobs,
		defaultMaxTickets: defaultMaxTickets,
		logger:            logger,
	}
}

// CreateRequest is the body for POST /organizations/:id/invites.
type CreateRequest struct {
	Email   string `json:"email" binding:"required,email"`
	Role    string `json:"role" binding:"required"`
	Message string `json:"message"`
}

// Create handles POST /organizations/:id/invites. Org admin only.
func (h *Handler) Create(c *gin.Context) {
	orgID, userID, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "email and role are required")
		return
	}
	role := authz.ParseRole(body.Role)
	if role == authz.RoleNone {
		response.BadRequest(c, "unknown role: "+body.Role)
		return
	}
	exists, err := h.repo.HasPending(c.Request.Context(), orgID, body.Email)
	if err != nil {
		response.Internal(c, "failed to check existing invites")
		return
	}
	if exists {
		response.Conflict(c, "a pending invite already exists for this email")
		return
	}
	inv := &models.OrganizationInvite{
		OrganizationID: orgID,
		Email:          strings.ToLower(strings.TrimSpace(body.Email)),
		Role:           role.String(),
		InvitedBy:      userID,
		Token:          newToken(),
		Message:        body.Message,
	}
	if err := h.repo.Create(c.Request.Context(), inv); err != nil {
		response.Internal(c, "failed to create invite")
		return
	}
	if err := h.jobs.EnqueueInviteSent(c.Request.Context(), queue.InviteSentPayload{
		InviteID:       inv.ID,
		OrganizationID: inv.OrganizationID,
		Email:          inv.Email,
		Role:           inv.Role,
	}); err != nil {
		h.logger.Warn("invite notification enqueue failed", zap.String("invite_id", inv.ID.String()), zap.Error(err))
	}
	response.Created(c, inv)
}

// ListByOrg handles GET /organizations/:id/invites. Org admin only.
func (h *Handler) ListByOrg(c *gin.Context) {
	orgID, _, ok := h.requireAdmin(c)
	if !ok {
		return
	}
	list, err := h.repo.ListPendingByOrg(c.Request.Context(), orgID)
	if err != nil {
		response.Internal(c, "failed to load invites")
		return
	}
	response.OK(c, list)
}

// ListMine handles GET /invites: pending invites addressed to the caller.
func (h *Handler) ListMine(c *gin.Context) {
	email := c.MustGet(middleware.ContextUserEmail).(string)
	list, err := h.repo.ListPendingByEmail(c.Request.Context(), email)
	if err != nil {
		response.Internal(c, "failed to load invites")
		return
	}
	response.OK(c, list)
}

// Accept handles POST /invites/:token/accept. The caller becomes a member
// with the invited role; agents additionally get an availability row and a
// slot in the dispatch rotation.
func (h *Handler) Accept(c *gin.Context) {
	inv, userID, ok := h.resolvePending(c)
	if !ok {
		return
	}
	if err := h.orgRepo.AddUser(c.Request.Context(), inv.OrganizationID, userID, inv.Role); err != nil {
		response.Internal(c, "failed to add organization member")
		return
	}
	if authz.ParseRole(inv.Role) == authz.RoleAgent {
		if err := h.availRepo.Upsert(c.Request.Context(), inv.OrganizationID, userID, h.defaultMaxTickets); err != nil {
			response.Internal(c, "failed to initialize agent availability")
			return
		}
		if err := h.dispatcher.EnrollAgent(c.Request.Context(), inv.OrganizationID, userID); err != nil {
			// Rotation self-heals on the next rebuild; not fatal.
			h.logger.Warn("failed to enroll agent in rotation",
				zap.String("org_id", inv.OrganizationID.String()),
				zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
	if err := h.repo.UpdateStatus(c.Request.Context(), inv.ID, models.InviteAccepted); err != nil {
		response.Internal(c, "failed to update invite")
		return
	}
	inv.Status = models.InviteAccepted
	response.OK(c, inv)
}

// Reject handles POST /invites/:token/reject.
func (h *Handler) Reject(c *gin.Context) {
	inv, _, ok := h.resolvePending(c)
	if !ok {
		return
	}
	if err := h.repo.UpdateStatus(c.Request.Context(), inv.ID, models.InviteRejected); err != nil {
		response.Internal(c, "failed to update invite")
		return
	}
	inv.Status = models.InviteRejected
	response.OK(c, inv)
}

// resolvePending loads the invite by token and checks it is addressed to the
// caller, still pending, and not expired.
func (h *Handler) resolvePending(c *gin.Context) (*models.OrganizationInvite, uuid.UUID, bool) {
	token := c.Param("token")
	inv, err := h.repo.GetByToken(c.Request.Context(), token)
	if err != nil {
		response.NotFound(c, "invite not found")
		return nil, uuid.Nil, false
	}
	email := c.MustGet(middleware.ContextUserEmail).(string)
	if !strings.EqualFold(inv.Email, email) {
		response.Forbidden(c, "invite is addressed to a different email")
		return nil, uuid.Nil, false
	}
	if inv.Status != models.InvitePending {
		response.Conflict(c, "invite has already been "+string(inv.Status))
		return nil, uuid.Nil, false
	}
	if time.Now().After(inv.ExpiresAt) {
		response.Conflict(c, "invite has expired")
		return nil, uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return inv, userID, true
}

func (h *Handler) requireAdmin(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return uuid.Nil, uuid.Nil, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), orgID, userID)
	if err != nil || role != authz.RoleOrgAdmin {
		response.Forbidden(c, "org admin role required")
		return uuid.Nil, uuid.Nil, false
	}
	return orgID, userID, true
}

func newToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
