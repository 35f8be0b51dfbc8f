package models

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentAlgo selects the dispatch strategy for an organization.
type AssignmentAlgo string

const (
	// AlgoRoundRobin cycles agents through a Redis-backed rotation queue.
	AlgoRoundRobin AssignmentAlgo = "RR"
	// AlgoLeastActive picks the available agent with the fewest open tickets.
	AlgoLeastActive AssignmentAlgo = "LAA"
)

// Valid reports whether the algorithm is a known strategy.
func (a AssignmentAlgo) Valid() bool {
	return a == AlgoRoundRobin || a == AlgoLeastActive
}

// Organization represents a tenant.
type Organization struct {
	ID             uuid.UUID      `json:"id"`
	Name           string         `json:"name"`
	Slug           string         `json:"slug"`
	AutoAssign     bool           `json:"auto_assign"`
	AssignmentAlgo AssignmentAlgo `json:"assignment_algo"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// OrganizationUser links a user to an organization with a role.
// One row per (organization, user); the role is assigned on invite
// acceptance and not changed afterwards.
type OrganizationUser struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	UserID         uuid.UUID `json:"user_id"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
