package invites

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caredesk/backend/internal/models"
)

// Repository handles organization invite persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an invites repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a pending invite. Invites expire after seven days.
func (r *Repository) Create(ctx context.Context, inv *models.OrganizationInvite) error {
	const q = `INSERT INTO organization_invites
			(id, organization_id, email, role, invited_by, token, message, status, expires_at)
		VALUES (gen_random_uuid(), $1, lower($2), $3, $4, $5, $6, 'pending', NOW() + INTERVAL '7 days')
		RETURNING id, status, expires_at, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, inv.OrganizationID, inv.Email, inv.Role, inv.InvitedBy, inv.Token, inv.Message).
		Scan(&inv.ID, &inv.Status, &inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt)
}

// GetByToken returns an invite by its opaque token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.OrganizationInvite, error) {
	const q = `SELECT id, organization_id, email, role, invited_by, token, COALESCE(message, ''),
			status, expires_at, created_at, updated_at
		FROM organization_invites WHERE token = $1`
	var inv models.OrganizationInvite
	err := r.pool.QueryRow(ctx, q, token).Scan(&inv.ID, &inv.OrganizationID, &inv.Email,
		&inv.Role, &inv.InvitedBy, &inv.Token, &inv.Message, &inv.Status,
		&inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// HasPending reports whether a pending, unexpired invite already exists for
// the email in this organization.
func (r *Repository) HasPending(ctx context.Context, orgID uuid.UUID, email string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM organization_invites
		WHERE organization_id = $1 AND email = lower($2) AND status = 'pending' AND expires_at > NOW())`
	var exists bool
	err := r.pool.QueryRow(ctx, q, orgID, email).Scan(&exists)
	return exists, err
}

// ListPendingByOrg returns pending invites for an organization, newest first.
func (r *Repository) ListPendingByOrg(ctx context.Context, orgID uuid.UUID) ([]models.OrganizationInvite, error) {
	const q = `SELECT id, organization_id, email, role, invited_by, token, COALESCE(message, ''),
			status, expires_at, created_at, updated_at
		FROM organization_invites
		WHERE organization_id = $1 AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at DESC`
	return r.list(ctx, q, orgID)
}

// ListPendingByEmail returns pending invites addressed to the email across
// all organizations.
func (r *Repository) ListPendingByEmail(ctx context.Context, email string) ([]models.OrganizationInvite, error) {
	const q = `SELECT id, organization_id, email, role, invited_by, token, COALESCE(message, ''),
			status, expires_at, created_at, updated_at
		FROM organization_invites
		WHERE email = lower($1) AND status = 'pending' AND expires_at > NOW()
		ORDER BY created_at DESC`
	return r.list(ctx, q, email)
}

func (r *Repository) list(ctx context.Context, q string, arg any) ([]models.OrganizationInvite, error) {
	rows, err := r.pool.Query(ctx, q, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.OrganizationInvite
	for rows.Next() {
		var inv models.OrganizationInvite
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role,
			&inv.InvitedBy, &inv.Token, &inv.Message, &inv.Status,
			&inv.ExpiresAt, &inv.CreatedAt, &inv.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, inv)
	}
	return list, rows.Err()
}

// UpdateStatus marks an invite accepted or rejected.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InviteStatus) error {
	const q = `UPDATE organization_invites SET status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, q, status, id)
	return err
}
