package attachments

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/caredesk/backend/internal/models"
)

// Repository handles ticket attachment persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an attachments repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts an attachment row. The caller supplies the ID because it is
// part of the S3 object key.
func (r *Repository) Create(ctx context.Context, a *models.TicketAttachment) error {
	const q = `INSERT INTO ticket_attachments (id, ticket_id, uploaded_by, file_name, file_type, file_size, s3_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, a.ID, a.TicketID, a.UploadedBy, a.FileName, a.FileType, a.FileSize, a.S3Key).
		Scan(&a.CreatedAt)
}

// Get returns a single attachment.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.TicketAttachment, error) {
	const q = `SELECT id, ticket_id, uploaded_by, file_name, file_type, file_size, s3_key, created_at
		FROM ticket_attachments WHERE id = $1`
	var a models.TicketAttachment
	err := r.pool.QueryRow(ctx, q, id).Scan(&a.ID, &a.TicketID, &a.UploadedBy,
		&a.FileName, &a.FileType, &a.FileSize, &a.S3Key, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListByTicket returns attachments newest first.
func (r *Repository) ListByTicket(ctx context.Context, ticketID uuid.UUID) ([]models.TicketAttachment, error) {
	const q = `SELECT id, ticket_id, uploaded_by, file_name, file_type, file_size, s3_key, created_at
		FROM ticket_attachments WHERE ticket_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.TicketAttachment
	for rows.Next() {
		var a models.TicketAttachment
		if err := rows.Scan(&a.ID, &a.TicketID, &a.UploadedBy, &a.FileName,
			&a.FileType, &a.FileSize, &a.S3Key, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// Delete removes an attachment row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM ticket_attachments WHERE id = $1`, id)
	return err
}
