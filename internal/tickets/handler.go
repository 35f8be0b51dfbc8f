package tickets

import (
	"context"
	"errors"

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

// HubBroadcaster pushes realtime events to connected clients.
type HubBroadcaster interface {
	BroadcastToTicket(ticketID uuid.UUID, event string, data interface{})
	BroadcastToUser(userID uuid.UUID, event string, data interface{})
}

// Handler handles ticket HTTP endpoints. Ticket creation is the dispatch
// entry point; every read/write goes through the authorization gate.
type Handler struct {
	repo       *Repository
	orgRepo    *organizations.Repository
	availRepo  *availability.Repository
	dispatcher *dispatch.Dispatcher
	jobs       *queue.Queue
	hub        HubBroadcaster
	logger     *zap.Logger
}

// NewHandler creates a tickets handler.
func NewHandler(repo *Repository, orgRepo *organizations.Repository, availRepo *availability.Repository,
	dispatcher *dispatch.Dispatcher, jobs *queue.Queue, hub HubBroadcaster, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		repo:       repo,
		orgRepo:    orgRepo,
		availRepo:  availRepo,
		dispatcher: dispatcher,
		jobs:       jobs,
		hub:        hub,
		logger:     logger,
	}
}

// CreateRequest is the body for POST /organizations/:id/tickets.
type CreateRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
}

// Create handles POST /organizations/:id/tickets. Customers only. The ticket
// is created first; dispatch runs after and its failure never fails the
// request, it just leaves the ticket unassigned.
func (h *Handler) Create(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), orgID, userID)
	if err != nil || role == authz.RoleNone {
		response.Forbidden(c, "not a member of this organization")
		return
	}
	if role != authz.RoleCustomer {
		response.Forbidden(c, "only customers can create tickets")
		return
	}

	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "title required")
		return
	}

	ticket := &models.Ticket{
		OrganizationID: orgID,
		Title:          body.Title,
		Description:    body.Description,
		CustomerID:     userID,
	}
	if err := h.repo.Create(c.Request.Context(), ticket); err != nil {
		h.logger.Error("create ticket", zap.Error(err), zap.String("org_id", orgID.String()))
		response.Internal(c, "failed to create ticket")
		return
	}

	agentID, err := h.dispatcher.Assign(c.Request.Context(), orgID)
	if err != nil && !errors.Is(err, dispatch.ErrUnknownOrganization) {
		// Should not happen: Assign only errors on unknown org, and the org
		// existed moments ago. Leave the ticket unassigned either way.
		h.logger.Warn("dispatch failed", zap.Error(err), zap.String("ticket_id", ticket.ID.String()))
	}
	if agentID != nil {
		if err := h.repo.AssignAgent(c.Request.Context(), ticket.ID, *agentID, userID); err != nil {
			h.logger.Error("persist assignment", zap.Error(err),
				zap.String("ticket_id", ticket.ID.String()), zap.String("agent_id", agentID.String()))
		} else {
			ticket.AssignedAgentID = agentID
			assignedBy := userID
			ticket.AssignedBy = &assignedBy
			// Lifecycle bookkeeping; the dispatcher itself never writes
			// availability, so this lands after the assignment.
			if err := h.availRepo.IncrementCurrent(c.Request.Context(), orgID, *agentID); err != nil {
				h.logger.Warn("increment availability", zap.Error(err), zap.String("agent_id", agentID.String()))
			}
			h.hub.BroadcastToUser(*agentID, "ticket_assigned", ticket)
		}
	}

	payload := queue.TicketEventPayload{
		TicketID:        ticket.ID,
		OrganizationID:  orgID,
		CustomerID:      userID,
		AssignedAgentID: ticket.AssignedAgentID,
		TicketNumber:    ticket.TicketNumber,
		Title:           ticket.Title,
	}
	if err := h.jobs.EnqueueTicketCreated(c.Request.Context(), payload); err != nil {
		h.logger.Warn("enqueue ticket_created", zap.Error(err), zap.String("ticket_id", ticket.ID.String()))
	}

	response.Created(c, ticket)
}

// List handles GET /organizations/:id/tickets. The scope filter is applied
// inside the query, so a customer or agent never pulls the whole org's rows.
func (h *Handler) List(c *gin.Context) {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid organization id")
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), orgID, userID)
	if err != nil || role == authz.RoleNone {
		response.Forbidden(c, "not a member of this organization")
		return
	}
	principal := authz.Principal{UserID: userID, OrganizationID: orgID, Role: role}
	scope := authz.ScopeFilter(principal, 2) // $1 is the org id
	list, err := h.repo.ListByOrg(c.Request.Context(), orgID, scope)
	if err != nil {
		response.Internal(c, "failed to load tickets")
		return
	}
	response.OK(c, list)
}

// Get handles GET /tickets/:id.
func (h *Handler) Get(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	if d := authz.Authorize(principal, authz.ActionView, facts(ticket)); !d.Allowed {
		// A denied view reads as not-found so ticket existence does not leak
		// across role boundaries.
		response.NotFound(c, "ticket not found")
		return
	}
	detail, err := h.repo.GetDetail(c.Request.Context(), ticket.ID)
	if err != nil {
		response.Internal(c, "failed to load ticket")
		return
	}
	response.OK(c, detail)
}

// History handles GET /tickets/:id/history.
func (h *Handler) History(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	if d := authz.Authorize(principal, authz.ActionView, facts(ticket)); !d.Allowed {
		response.NotFound(c, "ticket not found")
		return
	}
	list, err := h.repo.ListHistory(c.Request.Context(), ticket.ID)
	if err != nil {
		response.Internal(c, "failed to load history")
		return
	}
	response.OK(c, list)
}

// UpdateRequest is the body for PUT /tickets/:id. All fields optional; the
// gate decides per field.
type UpdateRequest struct {
	Status          *models.TicketStatus `json:"status"`
	Description     *string              `json:"description"`
	AssignedAgentID *uuid.UUID           `json:"assigned_agent_id"`
}

// Update handles PUT /tickets/:id: status transitions, description edits and
// org-admin reassignment. Authorization is evaluated against the ticket's
// current organization and assignment on every call.
func (h *Handler) Update(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	var body UpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if body.Status == nil && body.Description == nil && body.AssignedAgentID == nil {
		response.BadRequest(c, "no fields to update")
		return
	}

	ctx := c.Request.Context()
	updated := false

	if body.Status != nil {
		if !body.Status.Valid() {
			response.BadRequest(c, "invalid status")
			return
		}
		if d := authz.Authorize(principal, authz.ActionChangeStatus, facts(ticket)); !d.Allowed {
			response.Forbidden(c, d.Reason)
			return
		}
		if !authz.CanTransition(principal.Role, ticket.Status, *body.Status) {
			response.Forbidden(c, "status transition not allowed")
			return
		}
		if err := h.repo.UpdateStatus(ctx, ticket.ID, *body.Status); err != nil {
			response.Internal(c, "failed to update status")
			return
		}
		h.recordHistory(ctx, ticket.ID, principal.UserID, "status", string(ticket.Status), string(*body.Status))
		// Leaving active states releases the agent's capacity slot.
		if ticket.AssignedAgentID != nil && isTerminal(*body.Status) && !isTerminal(ticket.Status) {
			if err := h.availRepo.DecrementCurrent(ctx, ticket.OrganizationID, *ticket.AssignedAgentID); err != nil {
				h.logger.Warn("decrement availability", zap.Error(err))
			}
		}
		ticket.Status = *body.Status
		updated = true
	}

	if body.Description != nil {
		if d := authz.Authorize(principal, authz.ActionEditDescription, facts(ticket)); !d.Allowed {
			response.Forbidden(c, d.Reason)
			return
		}
		if err := h.repo.UpdateDescription(ctx, ticket.ID, *body.Description); err != nil {
			response.Internal(c, "failed to update description")
			return
		}
		updated = true
	}

	if body.AssignedAgentID != nil {
		if d := authz.Authorize(principal, authz.ActionReassign, facts(ticket)); !d.Allowed {
			response.Forbidden(c, d.Reason)
			return
		}
		newAgent := *body.AssignedAgentID
		if err := h.repo.AssignAgent(ctx, ticket.ID, newAgent, principal.UserID); err != nil {
			response.Internal(c, "failed to reassign ticket")
			return
		}
		oldAgent := ""
		if ticket.AssignedAgentID != nil {
			oldAgent = ticket.AssignedAgentID.String()
			if err := h.availRepo.DecrementCurrent(ctx, ticket.OrganizationID, *ticket.AssignedAgentID); err != nil {
				h.logger.Warn("decrement availability", zap.Error(err))
			}
		}
		if err := h.availRepo.IncrementCurrent(ctx, ticket.OrganizationID, newAgent); err != nil {
			h.logger.Warn("increment availability", zap.Error(err))
		}
		h.recordHistory(ctx, ticket.ID, principal.UserID, "assigned_agent_id", oldAgent, newAgent.String())
		ticket.AssignedAgentID = &newAgent
		if err := h.jobs.EnqueueTicketAssigned(ctx, queue.TicketEventPayload{
			TicketID:        ticket.ID,
			OrganizationID:  ticket.OrganizationID,
			CustomerID:      ticket.CustomerID,
			AssignedAgentID: &newAgent,
			TicketNumber:    ticket.TicketNumber,
			Title:           ticket.Title,
		}); err != nil {
			h.logger.Warn("enqueue ticket_assigned", zap.Error(err))
		}
		h.hub.BroadcastToUser(newAgent, "ticket_assigned", ticket)
		updated = true
	}

	if !updated {
		response.BadRequest(c, "no valid fields to update")
		return
	}

	detail, err := h.repo.GetDetail(ctx, ticket.ID)
	if err != nil {
		response.Internal(c, "failed to load ticket")
		return
	}
	h.hub.BroadcastToTicket(ticket.ID, "ticket_updated", detail)
	response.OK(c, detail)
}

// Delete handles DELETE /tickets/:id. Customer-owner or org admin.
func (h *Handler) Delete(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	if d := authz.Authorize(principal, authz.ActionDelete, facts(ticket)); !d.Allowed {
		response.Forbidden(c, d.Reason)
		return
	}
	if ticket.AssignedAgentID != nil && !isTerminal(ticket.Status) {
		if err := h.availRepo.DecrementCurrent(c.Request.Context(), ticket.OrganizationID, *ticket.AssignedAgentID); err != nil {
			h.logger.Warn("decrement availability", zap.Error(err))
		}
	}
	if err := h.repo.Delete(c.Request.Context(), ticket.ID); err != nil {
		response.Internal(c, "failed to delete ticket")
		return
	}
	response.OK(c, gin.H{"message": "ticket deleted"})
}

// resolve loads the ticket and the caller's membership in the ticket's
// current organization. Role is re-read per request, never cached.
func (h *Handler) resolve(c *gin.Context) (*models.Ticket, authz.Principal, bool) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ticket id")
		return nil, authz.Principal{}, false
	}
	ticket, err := h.repo.GetByID(c.Request.Context(), ticketID)
	if err != nil {
		response.NotFound(c, "ticket not found")
		return nil, authz.Principal{}, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), ticket.OrganizationID, userID)
	if err != nil {
		// Membership could not be evaluated: deny rather than guess.
		role = authz.RoleNone
	}
	return ticket, authz.Principal{UserID: userID, OrganizationID: ticket.OrganizationID, Role: role}, true
}

func (h *Handler) recordHistory(ctx context.Context, ticketID, userID uuid.UUID, field, oldV, newV string) {
	entry := &models.TicketHistory{
		TicketID:  ticketID,
		UserID:    &userID,
		Action:    "update",
		FieldName: field,
		OldValue:  oldV,
		NewValue:  newV,
	}
	if err := h.repo.AddHistory(ctx, entry); err != nil {
		h.logger.Warn("record ticket history", zap.Error(err), zap.String("ticket_id", ticketID.String()))
	}
}

func facts(t *models.Ticket) authz.TicketFacts {
	return authz.TicketFacts{
		OrganizationID:  t.OrganizationID,
		CustomerID:      t.CustomerID,
		AssignedAgentID: t.AssignedAgentID,
		Status:          t.Status,
	}
}

func isTerminal(s models.TicketStatus) bool {
	return s == models.StatusResolved || s == models.StatusClosed
}
