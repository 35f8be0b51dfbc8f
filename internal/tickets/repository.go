package tickets

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/models"
)

// Repository handles ticket persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a tickets repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const detailColumns = `
	t.id, t.organization_id, t.ticket_number, t.title, t.description, t.status,
	t.customer_id, t.assigned_agent_id, t.assigned_by, t.resolved_at, t.closed_at,
	t.created_at, t.updated_at,
	COALESCE(cu.full_name, ''), COALESCE(cu.email, ''),
	COALESCE(ag.full_name, ''), o.name`

func scanDetail(row interface{ Scan(dest ...any) error }) (*models.TicketDetail, error) {
	var d models.TicketDetail
	err := row.Scan(&d.ID, &d.OrganizationID, &d.TicketNumber, &d.Title, &d.Description, &d.Status,
		&d.CustomerID, &d.AssignedAgentID, &d.AssignedBy, &d.ResolvedAt, &d.ClosedAt,
		&d.CreatedAt, &d.UpdatedAt,
		&d.CustomerName, &d.CustomerEmail, &d.AssignedAgentName, &d.OrganizationName)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a ticket with a per-organization ticket number.
func (r *Repository) Create(ctx context.Context, t *models.Ticket) error {
	const q = `INSERT INTO tickets (id, organization_id, ticket_number, title, description, status, customer_id)
		VALUES (gen_random_uuid(), $1, generate_ticket_number($1), $2, $3, 'open', $4)
		RETURNING id, ticket_number, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, t.OrganizationID, t.Title, t.Description, t.CustomerID).
		Scan(&t.ID, &t.TicketNumber, &t.Status, &t.CreatedAt, &t.UpdatedAt)
}

// GetByID returns the bare ticket row. Used for authorization facts; always
// reflects the current organization and assignment.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	const q = `SELECT id, organization_id, ticket_number, title, description, status,
		customer_id, assigned_agent_id, assigned_by, resolved_at, closed_at, created_at, updated_at
		FROM tickets WHERE id = $1`
	var t models.Ticket
	err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.OrganizationID, &t.TicketNumber,
		&t.Title, &t.Description, &t.Status, &t.CustomerID, &t.AssignedAgentID, &t.AssignedBy,
		&t.ResolvedAt, &t.ClosedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetDetail returns a ticket with joined customer/agent/org display fields.
func (r *Repository) GetDetail(ctx context.Context, id uuid.UUID) (*models.TicketDetail, error) {
	q := `SELECT ` + detailColumns + `
		FROM tickets t
		LEFT JOIN users cu ON cu.id = t.customer_id
		LEFT JOIN users ag ON ag.id = t.assigned_agent_id
		INNER JOIN organizations o ON o.id = t.organization_id
		WHERE t.id = $1`
	return scanDetail(r.pool.QueryRow(ctx, q, id))
}

// ListByOrg returns org tickets narrowed by the caller's scope filter.
// The filter is part of the query; rows outside the principal's scope are
// never fetched.
func (r *Repository) ListByOrg(ctx context.Context, orgID uuid.UUID, scope authz.Filter) ([]*models.TicketDetail, error) {
	q := `SELECT ` + detailColumns + `
		FROM tickets t
		LEFT JOIN users cu ON cu.id = t.customer_id
		LEFT JOIN users ag ON ag.id = t.assigned_agent_id
		INNER JOIN organizations o ON o.id = t.organization_id
		WHERE t.organization_id = $1 AND ` + scope.Clause + `
		ORDER BY t.created_at DESC`
	args := append([]any{orgID}, scope.Args...)
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TicketDetail
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, d)
	}
	return list, rows.Err()
}

// AssignAgent sets the dispatcher's pick on a freshly created ticket.
// assignedBy records who triggered the assignment (the customer for
// auto-assignment, the admin for manual reassignment).
func (r *Repository) AssignAgent(ctx context.Context, ticketID, agentID, assignedBy uuid.UUID) error {
	const q = `UPDATE tickets SET assigned_agent_id = $1, assigned_by = $2, updated_at = NOW()
		WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, agentID, assignedBy, ticketID)
	return err
}

// UpdateStatus transitions the ticket and stamps resolved_at/closed_at.
func (r *Repository) UpdateStatus(ctx context.Context, ticketID uuid.UUID, status models.TicketStatus) error {
	q := `UPDATE tickets SET status = $1, updated_at = NOW()`
	switch status {
	case models.StatusResolved:
		q += `, resolved_at = NOW()`
	case models.StatusClosed:
		q += `, closed_at = NOW()`
	}
	q += ` WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, ticketID)
	return err
}

// UpdateDescription replaces the ticket description.
func (r *Repository) UpdateDescription(ctx context.Context, ticketID uuid.UUID, description string) error {
	const q = `UPDATE tickets SET description = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, description, ticketID)
	return err
}

// Delete removes the ticket and its dependent rows in one transaction.
// Attachment objects stay in S3; only the rows go.
func (r *Repository) Delete(ctx context.Context, ticketID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, q := range []string{
		`DELETE FROM ticket_attachments WHERE ticket_id = $1`,
		`DELETE FROM ticket_comments WHERE ticket_id = $1`,
		`DELETE FROM ticket_history WHERE ticket_id = $1`,
		`DELETE FROM tickets WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, ticketID); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// AddHistory records a change on the ticket.
func (r *Repository) AddHistory(ctx context.Context, h *models.TicketHistory) error {
	const q = `INSERT INTO ticket_history (id, ticket_id, user_id, action, field_name, old_value, new_value)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, h.TicketID, h.UserID, h.Action, h.FieldName, h.OldValue, h.NewValue).
		Scan(&h.ID, &h.CreatedAt)
}

// ListHistory returns the change log for a ticket, oldest first.
func (r *Repository) ListHistory(ctx context.Context, ticketID uuid.UUID) ([]models.TicketHistory, error) {
	const q = `SELECT id, ticket_id, user_id, action, field_name, old_value, new_value, created_at
		FROM ticket_history WHERE ticket_id = $1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, q, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.TicketHistory
	for rows.Next() {
		var h models.TicketHistory
		if err := rows.Scan(&h.ID, &h.TicketID, &h.UserID, &h.Action, &h.FieldName,
			&h.OldValue, &h.NewValue, &h.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, h)
	}
	return list, rows.Err()
}
