package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/caredesk/backend/internal/models"
	"github.com/caredesk/backend/internal/notifications"
	"github.com/caredesk/backend/internal/organizations"
	"github.com/caredesk/backend/internal/realtime"
	"github.com/caredesk/backend/pkg/queue"
)

// UserLookup resolves an email address to a registered user, if any.
type UserLookup interface {
	GetUserIDByEmail(ctx context.Context, email string) (uuid.UUID, bool, error)
}

// NotificationProcessor consumes ticket and invite jobs and fans them out as
// notification rows plus realtime pushes to the recipients' user rooms.
type NotificationProcessor struct {
	notifRepo *notifications.Repository
	orgRepo   *organizations.Repository
	users     UserLookup
	queue     *queue.Queue
	publisher realtime.RedisPublisher
	logger    *zap.Logger
}

// NewNotificationProcessor creates the processor. publisher may be nil, in
// which case recipients only see notifications on their next poll.
func NewNotificationProcessor(notifRepo *notifications.Repository, orgRepo *organizations.Repository, users UserLookup, q *queue.Queue, publisher realtime.RedisPublisher, logger *zap.Logger) *NotificationProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationProcessor{
		notifRepo: notifRepo,
		orgRepo:   orgRepo,
		users:     users,
		queue:     q,
		publisher: publisher,
		logger:    logger,
	}
}

// Process executes one job.
func (p *NotificationProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeTicketCreated:
		return p.processTicketCreated(ctx, job)
	case queue.JobTypeTicketAssigned:
		return p.processTicketAssigned(ctx, job)
	case queue.JobTypeInviteSent:
		return p.processInviteSent(ctx, job)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// processTicketCreated notifies the org admins, and the assigned agent when
// auto-assignment picked one.
func (p *NotificationProcessor) processTicketCreated(ctx context.Context, job *queue.Job) error {
	var payload queue.TicketEventPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	admins, err := p.orgRepo.ListAdmins(ctx, payload.OrganizationID)
	if err != nil {
		return fmt.Errorf("list admins: %w", err)
	}
	body := fmt.Sprintf("New ticket %s: %s", payload.TicketNumber, payload.Title)
	for _, adminID := range admins {
		if err := p.notify(ctx, adminID, payload.OrganizationID, models.NotifyTicketCreated, &payload.TicketID, body); err != nil {
			return err
		}
	}
	if payload.AssignedAgentID != nil {
		assigned := fmt.Sprintf("Ticket %s assigned to you: %s", payload.TicketNumber, payload.Title)
		if err := p.notify(ctx, *payload.AssignedAgentID, payload.OrganizationID, models.NotifyTicketAssigned, &payload.TicketID, assigned); err != nil {
			return err
		}
	}
	return nil
}

func (p *NotificationProcessor) processTicketAssigned(ctx context.Context, job *queue.Job) error {
	var payload queue.TicketEventPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	if payload.AssignedAgentID == nil {
		return nil
	}
	body := fmt.Sprintf("Ticket %s assigned to you: %s", payload.TicketNumber, payload.Title)
	return p.notify(ctx, *payload.AssignedAgentID, payload.OrganizationID, models.NotifyTicketAssigned, &payload.TicketID, body)
}

// processInviteSent notifies the invitee when the email belongs to a
// registered user. Unregistered invitees see the invite on signup.
func (p *NotificationProcessor) processInviteSent(ctx context.Context, job *queue.Job) error {
	var payload queue.InviteSentPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	userID, found, err := p.users.GetUserIDByEmail(ctx, payload.Email)
	if err != nil {
		return fmt.Errorf("lookup invitee: %w", err)
	}
	if !found {
		p.logger.Debug("invitee not registered, skipping notification", zap.String("email", payload.Email))
		return nil
	}
	body := fmt.Sprintf("You have been invited to join an organization as %s", payload.Role)
	return p.notify(ctx, userID, payload.OrganizationID, models.NotifyOrgInvite, nil, body)
}

func (p *NotificationProcessor) notify(ctx context.Context, userID, orgID uuid.UUID, kind models.NotificationKind, ticketID *uuid.UUID, body string) error {
	n := &models.Notification{
		UserID:         userID,
		OrganizationID: orgID,
		Kind:           kind,
		TicketID:       ticketID,
		Body:           body,
	}
	if err := p.notifRepo.Create(ctx, n); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	if p.publisher != nil {
		raw, err := json.Marshal(n)
		if err == nil {
			if err := p.publisher.PublishRoomEvent(realtime.UserRoom(userID), "notification", raw); err != nil {
				p.logger.Warn("notification push failed", zap.String("user_id", userID.String()), zap.Error(err))
			}
		}
	}
	return nil
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *NotificationProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("notification worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
