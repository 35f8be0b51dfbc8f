package comments

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caredesk/backend/internal/models"
)

// Repository handles ticket comment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a comments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a comment and returns it with author fields joined.
func (r *Repository) Create(ctx context.Context, cm *models.TicketComment) error {
	const q = `INSERT INTO ticket_comments (id, ticket_id, user_id, content, is_internal)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at`
	if err := r.pool.QueryRow(ctx, q, cm.TicketID, cm.UserID, cm.Content, cm.IsInternal).
		Scan(&cm.ID, &cm.CreatedAt); err != nil {
		return err
	}
	const author = `SELECT COALESCE(full_name, ''), email FROM users WHERE id = $1`
	return r.pool.QueryRow(ctx, author, cm.UserID).Scan(&cm.AuthorName, &cm.AuthorEmail)
}

// ListByTicket returns comments oldest first. When includeInternal is false,
// internal comments are filtered in the query.
func (r *Repository) ListByTicket(ctx context.Context, ticketID uuid.UUID, includeInternal bool) ([]models.TicketComment, error) {
	q := `SELECT tc.id, tc.ticket_id, tc.user_id, tc.content, tc.is_internal, tc.created_at,
			COALESCE(u.full_name, ''), u.email
		FROM ticket_comments tc
		INNER JOIN users u ON u.id = tc.user_id
		WHERE tc.ticket_id = $1`
	if !includeInternal {
		q += ` AND tc.is_internal = FALSE`
	}
	q += ` ORDER BY tc.created_at ASC`
	rows, err := r.pool.Query(ctx, q, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.TicketComment
	for rows.Next() {
		var cm models.TicketComment
		if err := rows.Scan(&cm.ID, &cm.TicketID, &cm.UserID, &cm.Content, &cm.IsInternal,
			&cm.CreatedAt, &cm.AuthorName, &cm.AuthorEmail); err != nil {
			return nil, err
		}
		list = append(list, cm)
	}
	return list, rows.Err()
}
