// Package notify delivers invitation links to invitees. Delivery itself
// (email, SMS) happens in a worker that consumes the queued tasks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// TypeInvitation is the asynq task type for invitation delivery.
const TypeInvitation = "notify:invitation"

// InvitationMessage is what the invitee receives.
type InvitationMessage struct {
	InvitationID   uuid.UUID `json:"invitation_id"`
	Email          string    `json:"email"`
	Role           string    `json:"role"`
	OrganizationID uuid.UUID `json:"organization_id"`
	AcceptURL      string    `json:"accept_url"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// Notifier sends invitation messages.
type Notifier interface {
	SendInvitation(ctx context.Context, msg InvitationMessage) error
}

// NewInvitationTask encodes msg as an asynq task.
func NewInvitationTask(msg InvitationMessage) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeInvitation, data), nil
}

// enqueuer is the part of *asynq.Client the notifier uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqNotifier queues invitation tasks on Redis.
type AsynqNotifier struct {
	client enqueuer
	queue  string
	logger *zap.Logger
}

// NewAsynqClient connects an asynq client to addr.
func NewAsynqClient(addr, password string) *asynq.Client {
	return asynq.NewClient(asynq.RedisClientOpt{
		Addr:     addr,
		Password: password,
	})
}

// NewAsynqNotifier creates a notifier that enqueues on queue.
func NewAsynqNotifier(client *asynq.Client, queue string, logger *zap.Logger) *AsynqNotifier {
	return newAsynqNotifier(client, queue, logger)
}

func newAsynqNotifier(client enqueuer, queue string, logger *zap.Logger) *AsynqNotifier {
	if queue == "" {
		queue = "default"
	}
	return &AsynqNotifier{client: client, queue: queue, logger: logger}
}

// SendInvitation enqueues the message. The task expires with the invitation.
func (n *AsynqNotifier) SendInvitation(ctx context.Context, msg InvitationMessage) error {
	task, err := NewInvitationTask(msg)
	if err != nil {
		return fmt.Errorf("encoding invitation task: %w", err)
	}

	info, err := n.client.EnqueueContext(ctx, task,
		asynq.Queue(n.queue),
		asynq.MaxRetry(5),
		asynq.Deadline(msg.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("enqueueing invitation: %w", err)
	}

	n.logger.Info("invitation queued",
		zap.String("task_id", info.ID),
		zap.String("invitation_id", msg.InvitationID.String()),
		zap.String("queue", info.Queue))
	return nil
}

// LogNotifier writes invitations to the log. It is used when no queue is
// configured; the accept URL is logged only at debug level.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// SendInvitation logs msg
func (n *LogNotifier) SendInvitation(_ context.Context, msg InvitationMessage) error {
	n.logger.Info("invitation created",
		zap.String("invitation_id", msg.InvitationID.String()),
		zap.String("email", msg.Email),
		zap.String("role", msg.Role),
		zap.Time("expires_at", msg.ExpiresAt))
	n.logger.Debug("invitation link", zap.String("accept_url", msg.AcceptURL))
	return nil
}
