package attachments

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caredesk/backend/internal/authz"
	"github.com/caredesk/backend/internal/middleware"
	"github.com/caredesk/backend/internal/models"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/internal/tickets"
	"github.com/caredesk/backend/pkg/response"
	"github.com/caredesk/backend/pkg/storage"
)

// Handler handles ticket attachment HTTP endpoints. Visibility follows the
// ticket: whoever may view the ticket may list and download its attachments.
type Handler struct {
	repo       *Repository
	ticketRepo *tickets.Repository
	orgRepo    *organizations.Repository
	s3         *storage.S3
	logger     *zap.Logger
}

// NewHandler creates an attachments handler.
func NewHandler(repo *Repository, ticketRepo *tickets.Repository, orgRepo *organizations.Repository, s3 *storage.S3, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, ticketRepo: ticketRepo, orgRepo: orgRepo, s3: s3, logger: logger}
}

// Upload handles POST /tickets/:id/attachments (multipart form, field "file").
func (h *Handler) Upload(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	if d := authz.Authorize(principal, authz.ActionComment, ticketFacts(ticket)); !d.Allowed {
		response.Forbidden(c, d.Reason)
		return
	}
	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	if fileHeader.Size > storage.MaxAttachmentSize {
		response.BadRequest(c, "file exceeds maximum attachment size")
		return
	}
	contentType := fileHeader.Header.Get("Content-Type")
	if !storage.ValidateAttachmentType(contentType, fileHeader.Filename) {
		response.BadRequest(c, "file type not allowed")
		return
	}
	if contentType == "" {
		contentType = storage.ContentTypeForFilename(fileHeader.Filename)
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Internal(c, "failed to read uploaded file")
		return
	}
	defer file.Close()

	att := &models.TicketAttachment{
		ID:         uuid.New(),
		TicketID:   ticket.ID,
		UploadedBy: principal.UserID,
		FileName:   fileHeader.Filename,
		FileType:   contentType,
		FileSize:   fileHeader.Size,
	}
	att.S3Key = storage.AttachmentKey(ticket.ID.String(), att.ID.String(), fileHeader.Filename)

	if err := h.s3.Upload(c.Request.Context(), att.S3Key, contentType, file, fileHeader.Size); err != nil {
		h.logger.Error("attachment upload failed", zap.String("ticket_id", ticket.ID.String()), zap.Error(err))
		response.Internal(c, "failed to store attachment")
		return
	}
	if err := h.repo.Create(c.Request.Context(), att); err != nil {
		// Best effort cleanup of the orphaned object.
		if delErr := h.s3.DeleteObject(c.Request.Context(), att.S3Key); delErr != nil {
			h.logger.Warn("orphaned attachment object left in bucket", zap.String("key", att.S3Key), zap.Error(delErr))
		}
		response.Internal(c, "failed to record attachment")
		return
	}
	response.Created(c, att)
}

// List handles GET /tickets/:id/attachments. Each row carries a pre-signed
// download URL.
func (h *Handler) List(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	if d := authz.Authorize(principal, authz.ActionView, ticketFacts(ticket)); !d.Allowed {
		response.NotFound(c, "ticket not found")
		return
	}
	list, err := h.repo.ListByTicket(c.Request.Context(), ticket.ID)
	if err != nil {
		response.Internal(c, "failed to load attachments")
		return
	}
	for i := range list {
		url, err := h.s3.GeneratePresignedDownloadURL(c.Request.Context(), list[i].S3Key, h.s3.PresignExpire())
		if err != nil {
			h.logger.Warn("presign failed", zap.String("key", list[i].S3Key), zap.Error(err))
			continue
		}
		list[i].PresignedURL = url
	}
	response.OK(c, list)
}

// Delete handles DELETE /tickets/:id/attachments/:attachment_id. Uploader or
// org admin only.
func (h *Handler) Delete(c *gin.Context) {
	ticket, principal, ok := h.resolve(c)
	if !ok {
		return
	}
	attID, err := uuid.Parse(c.Param("attachment_id"))
	if err != nil {
		response.BadRequest(c, "invalid attachment id")
		return
	}
	att, err := h.repo.Get(c.Request.Context(), attID)
	if err != nil || att.TicketID != ticket.ID {
		response.NotFound(c, "attachment not found")
		return
	}
	if att.UploadedBy != principal.UserID && principal.Role != authz.RoleOrgAdmin {
		response.Forbidden(c, "only the uploader or an org admin can delete an attachment")
		return
	}
	if err := h.repo.Delete(c.Request.Context(), attID); err != nil {
		response.Internal(c, "failed to delete attachment")
		return
	}
	if err := h.s3.DeleteObject(c.Request.Context(), att.S3Key); err != nil {
		h.logger.Warn("failed to delete attachment object", zap.String("key", att.S3Key), zap.Error(err))
	}
	response.NoContent(c)
}

func (h *Handler) resolve(c *gin.Context) (*models.Ticket, authz.Principal, bool) {
	ticketID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ticket id")
		return nil, authz.Principal{}, false
	}
	ticket, err := h.ticketRepo.GetByID(c.Request.Context(), ticketID)
	if err != nil {
		response.NotFound(c, "ticket not found")
		return nil, authz.Principal{}, false
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role, err := h.orgRepo.GetUserRole(c.Request.Context(), ticket.OrganizationID, userID)
	if err != nil {
		role = authz.RoleNone
	}
	return ticket, authz.Principal{UserID: userID, OrganizationID: ticket.OrganizationID, Role: role}, true
}

func ticketFacts(t *models.Ticket) authz.TicketFacts {
	return authz.TicketFacts{
		OrganizationID:  t.OrganizationID,
		CustomerID:      t.CustomerID,
		AssignedAgentID: t.AssignedAgentID,
		Status:          t.Status,
	}
}
