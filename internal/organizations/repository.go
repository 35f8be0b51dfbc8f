package organizations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/dispatch"
	"github.com/caredesk/backend/internal/models"
)

// Repository handles organization and organization_user persistence.
// It is also the dispatcher's settings source and membership directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an organizations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create creates an organization. Assignment defaults: auto_assign off, LAA.
func (r *Repository) Create(ctx context.Context, org *models.Organization) error {
	const q = `INSERT INTO organizations (id, name, slug, auto_assign, assignment_algo)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at, updated_at`
	if org.AssignmentAlgo == "" {
		org.AssignmentAlgo = models.AlgoLeastActive
	}
	return r.pool.QueryRow(ctx, q, org.Name, org.Slug, org.AutoAssign, org.AssignmentAlgo).
		Scan(&org.ID, &org.CreatedAt, &org.UpdatedAt)
}

// GetByID returns an organization by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	const q = `SELECT id, name, slug, auto_assign, assignment_algo, created_at, updated_at
		FROM organizations WHERE id = $1`
	var org models.Organization
	err := r.pool.QueryRow(ctx, q, id).Scan(&org.ID, &org.Name, &org.Slug,
		&org.AutoAssign, &org.AssignmentAlgo, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetBySlug returns an organization by slug.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	const q = `SELECT id, name, slug, auto_assign, assignment_algo, created_at, updated_at
		FROM organizations WHERE slug = $1`
	var org models.Organization
	err := r.pool.QueryRow(ctx, q, slug).Scan(&org.ID, &org.Name, &org.Slug,
		&org.AutoAssign, &org.AssignmentAlgo, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &org, nil
}

// GetAssignmentSettings returns the dispatch settings for an organization.
// pgx.ErrNoRows propagates so the dispatcher can distinguish an unknown org
// from a transient failure.
func (r *Repository) GetAssignmentSettings(ctx context.Context, orgID uuid.UUID) (dispatch.Settings, error) {
	const q = `SELECT auto_assign, assignment_algo FROM organizations WHERE id = $1`
	var s dispatch.Settings
	err := r.pool.QueryRow(ctx, q, orgID).Scan(&s.AutoAssign, &s.Algo)
	return s, err
}

// UpdateAssignmentSettings persists auto_assign and assignment_algo.
func (r *Repository) UpdateAssignmentSettings(ctx context.Context, orgID uuid.UUID, autoAssign bool, algo models.AssignmentAlgo) error {
	const q = `UPDATE organizations SET auto_assign = $1, assignment_algo = $2, updated_at = NOW()
		WHERE id = $3`
	_, err := r.pool.Exec(ctx, q, autoAssign, algo, orgID)
	return err
}

// AddUser adds a user to an organization with a role.
func (r *Repository) AddUser(ctx context.Context, orgID, userID uuid.UUID, role string) error {
	const q = `INSERT INTO organization_users (id, organization_id, user_id, role)
		VALUES (gen_random_uuid(), $1, $2, $3)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET role = EXCLUDED.role, updated_at = NOW()`
	_, err := r.pool.Exec(ctx, q, orgID, userID, role)
	return err
}

// GetUserRole returns the user's role enum in the organization. RoleNone
// when the user has no membership row.
func (r *Repository) GetUserRole(ctx context.Context, orgID, userID uuid.UUID) (authz.Role, error) {
	const q = `SELECT role FROM organization_users WHERE organization_id = $1 AND user_id = $2`
	var role string
	err := r.pool.QueryRow(ctx, q, orgID, userID).Scan(&role)
	if err != nil {
		return authz.RoleNone, err
	}
	return authz.ParseRole(role), nil
}

// ListAgents returns the agent roster in membership-creation order; this is
// the ordering the rotation queue is rebuilt with.
func (r *Repository) ListAgents(ctx context.Context, orgID uuid.UUID) ([]dispatch.AgentRef, error) {
	const q = `SELECT ou.user_id, ou.created_at
		FROM organization_users ou
		WHERE ou.organization_id = $1 AND lower(ou.role) IN ('agent', 'reviewer')
		ORDER BY ou.created_at ASC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var agents []dispatch.AgentRef
	for rows.Next() {
		var a dispatch.AgentRef
		if err := rows.Scan(&a.UserID, &a.JoinedAt); err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListOrganizationsForUser returns organizations the user is a member of,
// with the user's role in each.
type MemberOrg struct {
	models.Organization
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

func (r *Repository) ListOrganizationsForUser(ctx context.Context, userID uuid.UUID) ([]MemberOrg, error) {
	const q = `SELECT o.id, o.name, o.slug, o.auto_assign, o.assignment_algo, o.created_at, o.updated_at,
			ou.role, ou.created_at
		FROM organizations o
		INNER JOIN organization_users ou ON ou.organization_id = o.id
		WHERE ou.user_id = $1
		ORDER BY o.name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []MemberOrg
	for rows.Next() {
		var m MemberOrg
		if err := rows.Scan(&m.ID, &m.Name, &m.Slug, &m.AutoAssign, &m.AssignmentAlgo,
			&m.CreatedAt, &m.UpdatedAt, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// ListOrganizationsWithRoundRobin returns org IDs configured for RR dispatch.
// Used by the rotation reconciler.
func (r *Repository) ListOrganizationsWithRoundRobin(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id FROM organizations WHERE auto_assign = TRUE AND assignment_algo = $1`,
		models.AlgoRoundRobin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Member represents an organization member with user details.
type Member struct {
	ID       uuid.UUID `json:"id"`
	UserID   uuid.UUID `json:"user_id"`
	Email    string    `json:"email"`
	FullName string    `json:"full_name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// ListMembers returns members of an organization, admins first then by join time.
func (r *Repository) ListMembers(ctx context.Context, orgID uuid.UUID) ([]Member, error) {
	const q = `SELECT ou.id, ou.user_id, u.email, COALESCE(u.full_name, ''), ou.role, ou.created_at
		FROM organization_users ou
		INNER JOIN users u ON u.id = ou.user_id
		WHERE ou.organization_id = $1
		ORDER BY lower(ou.role) IN ('orgadmin', 'owner', 'admin') DESC, ou.created_at ASC`
	rows, err := r.pool.Query(ctx, q, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Member
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.ID, &m.UserID, &m.Email, &m.FullName, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

// ListAdmins returns user IDs holding the OrgAdmin role in the org.
// The worker notifies them when tickets arrive unassigned.
func (r *Repository) ListAdmins(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM organization_users
		 WHERE organization_id = $1 AND lower(role) IN ('orgadmin', 'owner', 'admin')`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
