package models

import (
	"time"

	"github.com/google/uuid"
)

// AgentAvailability tracks an agent's capacity within an organization.
// current_tickets <= max_tickets is the eligibility test used by the
// dispatcher, not a database constraint; the counters are maintained by
// the ticket lifecycle and may be stale or overshoot.
type AgentAvailability struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	IsAvailable    bool      `json:"is_available"`
	CurrentTickets int       `json:"current_tickets"`
	MaxTickets     int       `json:"max_tickets"`
	UpdatedAt      time.Time `json:"updated_at"`
}
