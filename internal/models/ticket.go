package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketStatus is the lifecycle state of a ticket.
type TicketStatus string

const (
	StatusOpen       TicketStatus = "open"
	StatusInProgress TicketStatus = "in_progress"
	StatusResolved   TicketStatus = "resolved"
	StatusClosed     TicketStatus = "closed"
)

// Valid reports whether the status is a known lifecycle state.
func (s TicketStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// Ticket is a support request raised by a customer within an organization.
// AssignedAgentID is set at most once by the dispatcher at creation time;
// afterwards only an org admin can change it.
type Ticket struct {
	ID              uuid.UUID    `json:"id"`
	OrganizationID  uuid.UUID    `json:"organization_id"`
	TicketNumber    string       `json:"ticket_number"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Status          TicketStatus `json:"status"`
	CustomerID      uuid.UUID    `json:"customer_id"`
	AssignedAgentID *uuid.UUID   `json:"assigned_agent_id"`
	AssignedBy      *uuid.UUID   `json:"assigned_by"`
	ResolvedAt      *time.Time   `json:"resolved_at,omitempty"`
	ClosedAt        *time.Time   `json:"closed_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// TicketDetail is a ticket with joined display fields for API responses.
type TicketDetail struct {
	Ticket
	CustomerName      string `json:"customer_name"`
	CustomerEmail     string `json:"customer_email"`
	AssignedAgentName string `json:"assigned_agent_name,omitempty"`
	OrganizationName  string `json:"organization_name,omitempty"`
}

// TicketHistory records a change applied to a ticket.
type TicketHistory struct {
	ID        uuid.UUID  `json:"id"`
	TicketID  uuid.UUID  `json:"ticket_id"`
	UserID    *uuid.UUID `json:"user_id"`
	Action    string     `json:"action"`
	FieldName string     `json:"field_name"`
	OldValue  string     `json:"old_value"`
	NewValue  string     `json:"new_value"`
	CreatedAt time.Time  `json:"created_at"`
}
