package authz

import "strings"

// Role is the closed set of organization roles. All external representations
// (JWT claims, membership rows, legacy names) are translated into this enum
// at the boundary; the core never compares role strings.
type Role int

const (
	// RoleNone means no membership in the organization.
	RoleNone Role = iota
	RoleCustomer
	RoleAgent
	RoleOrgAdmin
)

// Canonical membership-row values.
const (
	RoleNameOrgAdmin = "orgAdmin"
	RoleNameAgent    = "Agent"
	RoleNameCustomer = "Customer"
)

// legacyRoles maps every representation seen in the wild onto the enum.
// Older rows used owner/reviewer/viewer.
var legacyRoles = map[string]Role{
	"orgadmin": RoleOrgAdmin,
	"owner":    RoleOrgAdmin,
	"admin":    RoleOrgAdmin,
	"agent":    RoleAgent,
	"reviewer": RoleAgent,
	"customer": RoleCustomer,
	"viewer":   RoleCustomer,
}

// ParseRole translates a stored or claimed role name into a Role.
// Unknown names map to RoleNone, which denies everything.
func ParseRole(name string) Role {
	if r, ok := legacyRoles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return r
	}
	return RoleNone
}

// String returns the canonical name for storage and logging.
func (r Role) String() string {
	switch r {
	case RoleOrgAdmin:
		return RoleNameOrgAdmin
	case RoleAgent:
		return RoleNameAgent
	case RoleCustomer:
		return RoleNameCustomer
	}
	return "none"
}
