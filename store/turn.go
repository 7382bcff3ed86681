package store

import (
	"context"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Turn is one inbound utterance plus the reply it produced. Immutable once
// written; both texts are committed in a single document so history never
// shows a user message without its reply.
type Turn struct {
	ID            string         `bson:"id" json:"id"`
	SessionID     string         `bson:"session_id" json:"session_id"`
	UserID        string         `bson:"user_id" json:"user_id"`
	Channel       string         `bson:"channel" json:"channel"`
	UserText      string         `bson:"user_text" json:"user_text"`
	AIText        string         `bson:"ai_text" json:"ai_text"`
	Intent        string         `bson:"intent" json:"intent"`
	Routing       map[string]any `bson:"routing,omitempty" json:"routing,omitempty"`
	NeedsApproval bool           `bson:"needs_approval" json:"needs_approval"`
	CreatedAt     time.Time      `bson:"created_at" json:"created_at"`
}

// SaveTurn persists a completed turn to the cold tier.
func (s *Store) SaveTurn(ctx context.Context, turn *Turn) error {
	if turn == nil || turn.SessionID == "" {
		return errors.New("turn with session_id is required")
	}
	if turn.ID == "" {
		turn.ID = shortuuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	if _, err := s.db.Collection(collTurns).InsertOne(coldCtx, turn); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}
	return nil
}

// ListTurns returns the session's turns ordered by creation time.
func (s *Store) ListTurns(ctx context.Context, sessionID string) ([]*Turn, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()

	filter := bson.M{"session_id": sessionID}
	cur, err := s.db.Collection(collTurns).Find(coldCtx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, errors.Wrap(ErrColdUnavailable, err.Error())
	}
	var turns []*Turn
	if err := cur.All(coldCtx, &turns); err != nil {
		return nil, errors.Wrap(err, "decode turns")
	}
	return turns, nil
}

// DeleteTurns clears the session's history.
func (s *Store) DeleteTurns(ctx context.Context, sessionID string) (int64, error) {
	if sessionID == "" {
		return 0, errors.New("session_id is required")
	}
	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()

	res, err := s.db.Collection(collTurns).DeleteMany(coldCtx, bson.M{"session_id": sessionID})
	if err != nil {
		return 0, errors.Wrap(ErrColdUnavailable, err.Error())
	}
	return res.DeletedCount, nil
}
