package availability

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caredesk/backend/internal/models"
)

// Repository handles agent_availability persistence. The dispatcher reads
// through LeastLoaded; the counters are written only by the ticket lifecycle
// and by agents toggling their own availability.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an availability repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LeastLoaded returns the eligible agent with the fewest current tickets.
// Ties break by lowest user id so the result is deterministic regardless of
// row order. ok is false when no agent is eligible.
func (r *Repository) LeastLoaded(ctx context.Context, orgID uuid.UUID) (uuid.UUID, bool, error) {
	const q = `SELECT user_id FROM agent_availability
		WHERE organization_id = $1 AND is_available = TRUE AND current_tickets < max_tickets
		ORDER BY current_tickets ASC, user_id ASC
		LIMIT 1`
	var id uuid.UUID
	err := r.pool.QueryRow(ctx, q, orgID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// ListByOrg returns all availability rows for an organization.
func (r *Repository) ListByOrg(ctx context.Context, orgID uuid.UUID) ([]models.AgentAvailability, error) {
	const q = `SELECT id, organization_id, user_id, is_available, current_tickets, max_tickets, updated_at
		FROM agent_availability WHERE organization_id = $1
		ORDER BY current_tickets ASC, user_id ASC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.AgentAvailability
	for rows.Next() {
		var a models.AgentAvailability
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.UserID, &a.IsAvailable,
			&a.CurrentTickets, &a.MaxTickets, &a.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Get returns one agent's availability row.
func (r *Repository) Get(ctx context.Context, orgID, userID uuid.UUID) (*models.AgentAvailability, error) {
	const q = `SELECT id, organization_id, user_id, is_available, current_tickets, max_tickets, updated_at
		FROM agent_availability WHERE organization_id = $1 AND user_id = $2`
	var a models.AgentAvailability
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(&a.ID, &a.OrganizationID, &a.UserID,
		&a.IsAvailable, &a.CurrentTickets, &a.MaxTickets, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Upsert creates or resets the availability row for an agent. Called when an
// Agent invite is accepted.
func (r *Repository) Upsert(ctx context.Context, orgID, userID uuid.UUID, maxTickets int) error {
	const q = `INSERT INTO agent_availability (id, organization_id, user_id, is_available, current_tickets, max_tickets)
		VALUES (gen_random_uuid(), $1, $2, TRUE, 0, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			is_available = TRUE, current_tickets = 0, max_tickets = EXCLUDED.max_tickets, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, orgID, userID, maxTickets)
	return err
}

// SetAvailability updates an agent's availability flag and capacity.
func (r *Repository) SetAvailability(ctx context.Context, orgID, userID uuid.UUID, isAvailable bool, maxTickets int) error {
	const q = `UPDATE agent_availability
		SET is_available = $1, max_tickets = $2, updated_at = NOW()
		WHERE organization_id = $3 AND user_id = $4`
	_, err := r.pool.Exec(ctx, q, isAvailable, maxTickets, orgID, userID)
	return err
}

// IncrementCurrent bumps the agent's open-ticket counter. Called by the
// ticket lifecycle after an assignment is persisted, never by the dispatcher;
// the window between assignment and this increment is an accepted race.
func (r *Repository) IncrementCurrent(ctx context.Context, orgID, userID uuid.UUID) error {
	const q = `UPDATE agent_availability SET current_tickets = current_tickets + 1, updated_at = NOW()
		WHERE organization_id = $1 AND user_id = $2`
	_, err := r.pool.Exec(ctx, q, orgID, userID)
	return err
}

// DecrementCurrent lowers the agent's open-ticket counter, flooring at zero
// since the counters are best-effort and can drift.
func (r *Repository) DecrementCurrent(ctx context.Context, orgID, userID uuid.UUID) error {
	const q = `UPDATE agent_availability
		SET current_tickets = GREATEST(current_tickets - 1, 0), updated_at = NOW()
		WHERE organization_id = $1 AND user_id = $2`
	_, err := r.pool.Exec(ctx, q, orgID, userID)
	return err
}
