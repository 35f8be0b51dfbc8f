package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationKind identifies what a notification is about.
type NotificationKind string

const (
	NotifyTicketCreated  NotificationKind = "ticket_created"
	NotifyTicketAssigned NotificationKind = "ticket_assigned"
	NotifyOrgInvite      NotificationKind = "org_invite"
)

// Notification is an in-app notification produced by the background worker.
type Notification struct {
	ID             uuid.UUID        `json:"id"`
	UserID         uuid.UUID        `json:"user_id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	Kind           NotificationKind `json:"kind"`
	TicketID       *uuid.UUID       `json:"ticket_id,omitempty"`
	Body           string           `json:"body"`
	ReadAt         *time.Time       `json:"read_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}
