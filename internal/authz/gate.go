package authz

import (
	"github.com/google/uuid"

	"github.com/caredesk/backend/internal/models"
)

// Action is a requested ticket operation.
type Action int

const (
	ActionView Action = iota
	ActionChangeStatus
	ActionEditDescription
	ActionReassign
	ActionComment
	ActionCommentInternal
	ActionDelete
)

// String names the action for deny reasons and logs.
func (a Action) String() string {
	switch a {
	case ActionView:
		return "view"
	case ActionChangeStatus:
		return "change_status"
	case ActionEditDescription:
		return "edit_description"
	case ActionReassign:
		return "reassign"
	case ActionComment:
		return "comment"
	case ActionCommentInternal:
		return "comment_internal"
	case ActionDelete:
		return "delete"
	}
	return "unknown"
}

// Principal is the caller's resolved identity within one organization.
// Role must come from the membership row of the ticket's current
// organization, looked up per request, never from a cached claim.
type Principal struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           Role
}

// TicketFacts is the slice of ticket state the gate decides on.
type TicketFacts struct {
	OrganizationID  uuid.UUID
	CustomerID      uuid.UUID
	AssignedAgentID *uuid.UUID
	Status          models.TicketStatus
}

// Decision is the gate's verdict. Reason is set only on deny.
type Decision struct {
	Allowed bool
	Reason  string
}

var allow = Decision{Allowed: true}

func deny(reason string) Decision {
	return Decision{Reason: reason}
}

// Authorize decides whether the principal may perform the action on the
// ticket. Deny-by-default: a principal whose role is RoleNone (no membership
// row) or whose organization does not match the ticket's current organization
// is always denied.
func Authorize(p Principal, action Action, t TicketFacts) Decision {
	if p.Role == RoleNone {
		return deny("no membership in organization")
	}
	if p.OrganizationID != t.OrganizationID {
		return deny("wrong organization")
	}

	switch p.Role {
	case RoleOrgAdmin:
		// Org admins see and mutate every ticket in their organization.
		return allow
	case RoleAgent:
		return authorizeAgent(p, action, t)
	case RoleCustomer:
		return authorizeCustomer(p, action, t)
	}
	return deny("unknown role")
}

func authorizeAgent(p Principal, action Action, t TicketFacts) Decision {
	if t.AssignedAgentID == nil || *t.AssignedAgentID != p.UserID {
		return deny("ticket not assigned to you")
	}
	switch action {
	case ActionView, ActionChangeStatus, ActionComment, ActionCommentInternal:
		return allow
	case ActionEditDescription:
		return deny("agents cannot edit the description")
	case ActionReassign:
		return deny("agents cannot reassign tickets")
	case ActionDelete:
		return deny("agents cannot delete tickets")
	}
	return deny("action not permitted")
}

func authorizeCustomer(p Principal, action Action, t TicketFacts) Decision {
	if t.CustomerID != p.UserID {
		return deny("not your ticket")
	}
	switch action {
	case ActionView, ActionChangeStatus, ActionEditDescription, ActionComment, ActionDelete:
		return allow
	case ActionCommentInternal:
		return deny("customers cannot make internal comments")
	case ActionReassign:
		return deny("customers cannot reassign tickets")
	}
	return deny("action not permitted")
}

// CanTransition reports whether the role may move a ticket from one status
// to another. The lifecycle is open -> in_progress -> resolved -> closed,
// with a direct open -> closed shortcut for customers and org admins.
// closed is terminal for every role.
func CanTransition(role Role, from, to models.TicketStatus) bool {
	if from == models.StatusClosed {
		return false
	}
	if from == to {
		return false
	}
	switch role {
	case RoleCustomer:
		// Customers may only close an open ticket.
		return from == models.StatusOpen && to == models.StatusClosed
	case RoleAgent:
		switch {
		case from == models.StatusOpen && to == models.StatusInProgress:
			return true
		case from == models.StatusInProgress && to == models.StatusResolved:
			return true
		case from == models.StatusResolved && to == models.StatusClosed:
			return true
		}
		return false
	case RoleOrgAdmin:
		switch {
		case from == models.StatusOpen && to == models.StatusInProgress:
			return true
		case from == models.StatusOpen && to == models.StatusClosed:
			return true
		case from == models.StatusInProgress && to == models.StatusResolved:
			return true
		case from == models.StatusResolved && to == models.StatusClosed:
			return true
		}
		return false
	}
	return false
}
