package models

import (
	"time"

	"github.com/google/uuid"
)

// InviteStatus is the state of an organization invite.
type InviteStatus string

const (
	InvitePending  InviteStatus = "pending"
	InviteAccepted InviteStatus = "accepted"
	InviteRejected InviteStatus = "rejected"
)

// OrganizationInvite invites a user (by email) into an organization with a role.
type OrganizationInvite struct {
	ID             uuid.UUID    `json:"id"`
	OrganizationID uuid.UUID    `json:"organization_id"`
	Email          string       `json:"email"`
	Role           string       `json:"role"`
	InvitedBy      uuid.UUID    `json:"invited_by"`
	Token          string       `json:"token"`
	Message        string       `json:"message,omitempty"`
	Status         InviteStatus `json:"status"`
	ExpiresAt      time.Time    `json:"expires_at"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}
