package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Approval statuses mirror the pending-action lifecycle.
const (
	ApprovalPending    = "PENDING"
	ApprovalDispatched = "DISPATCHED"
	ApprovalCancelled  = "CANCELLED"
	ApprovalExpired    = "EXPIRED"
)

// ApprovalRecord is the cold-tier audit row for one staged action. The live
// pending-action state machine is in-process; these rows are the durable
// trail of what was staged and how it resolved.
type ApprovalRecord struct {
	MessageID   string         `bson:"message_id" json:"message_id"`
	SessionID   string         `bson:"session_id" json:"session_id"`
	UserID      string         `bson:"user_id" json:"user_id"`
	Intent      string         `bson:"intent" json:"intent"`
	Fields      map[string]any `bson:"fields,omitempty" json:"fields,omitempty"`
	PreviewText string         `bson:"preview_text" json:"preview_text"`
	Status      string         `bson:"status" json:"status"`
	WebhookOK   *bool          `bson:"webhook_ok,omitempty" json:"webhook_ok,omitempty"`
	CreatedAt   time.Time      `bson:"created_at" json:"created_at"`
	ResolvedAt  *time.Time     `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
}

// SaveApproval upserts the record keyed by message_id, so re-staging after an
// overwrite keeps one row per staged action.
func (s *Store) SaveApproval(ctx context.Context, record *ApprovalRecord) error {
	if record == nil || record.MessageID == "" {
		return errors.New("approval record with message_id is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.Status == "" {
		record.Status = ApprovalPending
	}

	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	filter := bson.M{"message_id": record.MessageID}
	update := bson.M{"$set": record}
	if _, err := s.db.Collection(collApprovals).UpdateOne(coldCtx, filter, update,
		options.UpdateOne().SetUpsert(true)); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}
	return nil
}

// ResolveApproval stamps the record's terminal status. webhookOK is nil when
// no webhook was attempted (cancellation, expiry).
func (s *Store) ResolveApproval(ctx context.Context, messageID, status string, webhookOK *bool) error {
	if messageID == "" {
		return errors.New("message_id is required")
	}
	now := time.Now().UTC()

	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	set := bson.M{"status": status, "resolved_at": now}
	if webhookOK != nil {
		set["webhook_ok"] = *webhookOK
	}
	if _, err := s.db.Collection(collApprovals).UpdateOne(coldCtx,
		bson.M{"message_id": messageID}, bson.M{"$set": set}); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}
	return nil
}
