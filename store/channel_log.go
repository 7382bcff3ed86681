package store

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// ChannelConversation logs one inbound message and its outbound reply as seen
// by a channel gateway, for operator debugging of bridge traffic. Failed turns
// are recorded too, with the fallback reply as the outbound text.
type ChannelConversation struct {
	Platform      string    `bson:"platform" json:"platform"`
	SessionID     string    `bson:"session_id" json:"session_id"`
	UserID        string    `bson:"user_id" json:"user_id"`
	Inbound       string    `bson:"inbound" json:"inbound"`
	Outbound      string    `bson:"outbound" json:"outbound"`
	Intent        string    `bson:"intent" json:"intent"`
	NeedsApproval bool      `bson:"needs_approval" json:"needs_approval"`
	CreatedAt     time.Time `bson:"created_at" json:"created_at"`
}

// ChannelError records a gateway failure with enough context to replay it.
type ChannelError struct {
	Platform  string    `bson:"platform" json:"platform"`
	SessionID string    `bson:"session_id,omitempty" json:"session_id,omitempty"`
	Stage     string    `bson:"stage" json:"stage"`
	Message   string    `bson:"message" json:"message"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// LogChannelConversation is best-effort: a logging failure never fails the
// turn, the caller only gets the error for its own warn log.
func (s *Store) LogChannelConversation(ctx context.Context, conv *ChannelConversation) error {
	if conv == nil {
		return nil
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now().UTC()
	}
	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err := s.db.Collection(collChannelConvs).InsertOne(coldCtx, conv)
	return err
}

// LogChannelError is best-effort, same contract as LogChannelConversation.
func (s *Store) LogChannelError(ctx context.Context, cerr *ChannelError) error {
	if cerr == nil {
		return nil
	}
	if cerr.CreatedAt.IsZero() {
		cerr.CreatedAt = time.Now().UTC()
	}
	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	_, err := s.db.Collection(collChannelErrs).InsertOne(coldCtx, cerr)
	return err
}

// ListChannelConversations returns recent bridge traffic for a session.
func (s *Store) ListChannelConversations(ctx context.Context, sessionID string, limit int64) ([]*ChannelConversation, error) {
	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()

	filter := bson.M{}
	if sessionID != "" {
		filter["session_id"] = sessionID
	}
	cur, err := s.db.Collection(collChannelConvs).Find(coldCtx, filter, findRecent(limit))
	if err != nil {
		return nil, err
	}
	var out []*ChannelConversation
	if err := cur.All(coldCtx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func findRecent(limit int64) *options.FindOptionsBuilder {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return opts
}
