package comments

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/internal/models"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/internal/tickets"
	"github.com/caredesk/backend/pkg/response"
)

// Handler handles ticket comment HTTP endpoints. Access piggybacks on the
// ticket authorization gate: whoever may view the ticket may comment on it.
type Handler struct {
	repo       *Repository
	ticketRepo *tickets.Repository
	orgRepo    *organizations.Repository
	hub        tickets.HubBroadcaster
}

// NewHandler creates a comments handler.
func NewHandler(repo *Repository, ticketRepo *tickets.Repository, orgRepo *organizations.Repository, hub tickets.HubBroadcaster) *Handler {
	return &Handler{repo: repo, ticketRepo: ticketRepo, orgRepo: orgRepo, hub: hub}
}

// List handles GET /tickets/:id/comments. Customers never see internal
// comments; the filter is in the query, not post-fetch.
func (h *Handler) List(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	if d := authz.Authorize(principal, authz.ActionView, ticketFacts(ticket)); !d.Allowed {
		response.NotFound(c, "ticket not found")
		return
	}
	includeInternal := principal.Role != authz.RoleCustomer
	list, err := h.repo.ListByTicket(c.Request.Context(), ticket.ID, includeInternal)
	if err != nil {
		response.Internal(c, "failed to load comments")
		return
	}
	response.OK(c, list)
}

// CreateRequest is the body for POST /tickets/:id/comments.
type CreateRequest struct {
	Content    string `json:"content" binding:"required"`
	IsInternal bool   `json:"is_internal"`
}

// Create handles POST /tickets/:id/comments.
func (h *Handler) Create(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil || strings.TrimSpace(body.Content) == "" {
		response.BadRequest(c, "comment content is required")
		return
	}
	action := authz.ActionComment
	if body.IsInternal {
		action = authz.ActionCommentInternal
	}
	if d := authz.Authorize(principal, action, ticketFacts(ticket)); !d.Allowed {
		response.Forbidden(c, d.Reason)
		return
	}
	cm := &models.TicketComment{
		TicketID:   ticket.ID,
		UserID:     principal.UserID,
		Content:    strings.TrimSpace(body.Content),
		IsInternal: body.IsInternal,
	}
	if err := h.repo.Create(c.Request.Context(), cm); err != nil {
		response.Internal(c, "failed to create comment")
		return
	}
	h.hub.BroadcastToTicket(ticket.ID, "new_ticket_comment", cm)
	response.Created(c, cm)
}

func (h *Handler) resolve(c *gin.Context) (*models.Ticket, authz.Principal, bool) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ticket id")
		return nil, authz.Principal{}, false
	}
	ticket, err := h.ticketRepo.GetByID(c.Request.Context(), ticketID)
	if err != nil {
		response.NotFound(c, "ticket not found")
		return nil, authz.Principal{}, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), ticket.OrganizationID, userID)
	if err != nil {
		role = authz.RoleNone
	}
	return ticket, authz.Principal{UserID: userID, OrganizationID: ticket.OrganizationID, Role: role}, true
}

func ticketFacts(t *models.Ticket) authz.TicketFacts {
	return authz.TicketFacts{
		OrganizationID:  t.OrganizationID,
		CustomerID:      t.CustomerID,
		AssignedAgentID: t.AssignedAgentID,
		Status:          t.Status,
	}
}
