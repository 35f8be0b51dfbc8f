package models

import (
	"time"

	"github.com/google/uuid"
)

// TicketAttachment is a file uploaded against a ticket, stored in S3.
type TicketAttachment struct {
	ID         uuid.UUID `json:"id"`
	TicketID   uuid.UUID `json:"ticket_id"`
	UploadedBy uuid.UUID `json:"uploaded_by"`
	FileName   string    `json:"file_name"`
	FileType   string    `json:"file_type"`
	FileSize   int64     `json:"file_size"`
	S3Key      string    `json:"s3_key"`
	CreatedAt  time.Time `json:"created_at"`
	// PresignedURL is populated on read for download/preview; not persisted.
	PresignedURL string `json:"presigned_url,omitempty"`
}
