// Package notify delivers fire-and-forget user notifications raised by moderation and
// membership operations.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lkzdsb-lab/community-feed/internal/pkg"
)

type Type string

const (
	TypePostPendingApproval Type = "POST_PENDING_APPROVAL"
	TypePostApproved        Type = "POST_APPROVED"
	TypePostRejected        Type = "POST_REJECTED"
	TypePostFlagged         Type = "POST_FLAGGED"
	TypePostDeleted         Type = "POST_DELETED"
	TypeJoinRequested       Type = "JOIN_REQUESTED"
	TypeJoinAccepted        Type = "JOIN_ACCEPTED"
	TypeJoinRejected        Type = "JOIN_REJECTED"
	TypeMemberRemoved       Type = "MEMBER_REMOVED"
	TypeCommunityFlagged    Type = "COMMUNITY_FLAGGED"
)

type Notification struct {
	ID          string    `json:"id"`
	UserID      uint64    `json:"user_id"`
	CommunityID uint64    `json:"community_id"`
	EntityID    uint64    `json:"entity_id"`
	Type        Type      `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	ActionURL   string    `json:"action_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Dispatcher hands a notification to a delivery transport.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

// Sender is the subset of pkg.KafkaProducer the kafka dispatcher needs.
type Sender interface {
	Send(ctx context.Context, key string, value []byte) error
}

// KafkaDispatcher publishes notifications as JSON keyed by recipient, keeping one user's
// notifications on one partition.
type KafkaDispatcher struct {
	sender Sender
}

func NewKafkaDispatcher(sender Sender) *KafkaDispatcher {
	return &KafkaDispatcher{sender: sender}
}

func (d *KafkaDispatcher) Notify(ctx context.Context, n Notification) error {
	fill(&n)
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, pkg.MakeKeyFromID(n.UserID), b)
}

// LogDispatcher only logs; used when no broker is configured.
type LogDispatcher struct {
	log *zap.Logger
}

func NewLogDispatcher(log *zap.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Notify(_ context.Context, n Notification) error {
	fill(&n)
	d.log.Info("notification",
		zap.String("id", n.ID),
		zap.Uint64("user_id", n.UserID),
		zap.Uint64("community_id", n.CommunityID),
		zap.String("type", string(n.Type)),
		zap.String("title", n.Title))
	return nil
}

// Multi fans a notification out to every dispatcher, joining their errors.
type Multi []Dispatcher

func (m Multi) Notify(ctx context.Context, n Notification) error {
	fill(&n)
	var errs []error
	for _, d := range m {
		if err := d.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fill(n *Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}
