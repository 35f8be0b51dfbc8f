package authz

import "strconv"

// Filter narrows a ticket list query to what the principal may see.
// Clause is a SQL predicate over the aliased tickets table "t" with
// numbered placeholders starting at startArg; Args are the values.
// It must be applied in the query itself, before any rows are fetched.
type Filter struct {
	Clause string
	Args   []any
}

// ScopeFilter returns the visibility predicate for list endpoints.
// The caller is expected to have already constrained the query to the
// principal's organization; this adds the per-role restriction on top.
func ScopeFilter(p Principal, startArg int) Filter {
	switch p.Role {
	case RoleOrgAdmin:
		return Filter{Clause: "TRUE"}
	case RoleAgent:
		return Filter{Clause: "t.assigned_agent_id = $" + strconv.Itoa(startArg), Args: []any{p.UserID}}
	case RoleCustomer:
		return Filter{Clause: "t.customer_id = $" + strconv.Itoa(startArg), Args: []any{p.UserID}}
	}
	// No membership: match nothing.
	return Filter{Clause: "FALSE"}
}
