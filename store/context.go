package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Payload size bound for one envelope. Oversized chat histories are trimmed
// oldest-first until the envelope fits.
const maxEnvelopeBytes = 32 * 1024

const (
	promptTurns   = 5
	promptAppends = 3
)

// Append sources.
const (
	SourceEngine        = "engine"
	SourceTool          = "tool"
	SourceApproval      = "approval"
	SourceExternalAgent = "external_agent"
)

// ContextEnvelope is the latest context document for a session. A write
// replaces any prior envelope.
type ContextEnvelope struct {
	SessionID string         `bson:"session_id" json:"session_id"`
	UserID    string         `bson:"user_id" json:"user_id"`
	IntentTag string         `bson:"intent_tag" json:"intent_tag"`
	Payload   map[string]any `bson:"payload" json:"payload"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
	ExpiresAt time.Time      `bson:"expires_at" json:"expires_at"`
}

// AppendedResult is an addendum recorded after the envelope, ordered by
// arrival.
type AppendedResult struct {
	SessionID string         `bson:"session_id" json:"session_id"`
	AppendID  string         `bson:"append_id" json:"append_id"`
	Source    string         `bson:"source" json:"source"`
	Output    map[string]any `bson:"output" json:"output"`
	CreatedAt time.Time      `bson:"created_at" json:"created_at"`
}

// ContextSnapshot is what ReadContext returns: the envelope plus the append
// log visible from the tier that answered.
type ContextSnapshot struct {
	Envelope    *ContextEnvelope  `json:"envelope"`
	Appends     []*AppendedResult `json:"appends"`
	Total       int64             `json:"total"`
	LastUpdated time.Time         `json:"last_updated"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

func warmContextKey(sessionID string) string { return "ctx:" + sessionID }
func warmAppendKey(sessionID string) string  { return "app:" + sessionID }

// WriteContext upserts the envelope cold-first. When the cold write succeeds
// the warm copy is refreshed; a warm failure leaves cold authoritative and a
// later read miss repopulates warm.
func (s *Store) WriteContext(ctx context.Context, envelope *ContextEnvelope) error {
	if envelope == nil || envelope.SessionID == "" {
		return errors.New("envelope with session_id is required")
	}
	now := time.Now().UTC()
	if envelope.CreatedAt.IsZero() {
		envelope.CreatedAt = now
	}
	if envelope.ExpiresAt.IsZero() {
		envelope.ExpiresAt = now.Add(warmTTL)
	}
	trimEnvelope(envelope, maxEnvelopeBytes)

	lock := s.sessionLock(envelope.SessionID)
	lock.Lock()
	defer lock.Unlock()

	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	filter := bson.M{"session_id": envelope.SessionID}
	update := bson.M{"$set": envelope}
	if _, err := s.db.Collection(collContexts).UpdateOne(coldCtx, filter, update,
		options.UpdateOne().SetUpsert(true)); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}

	s.hot.Delete(envelope.SessionID)
	if err := s.warmSetEnvelope(ctx, envelope); err != nil {
		slog.Warn("store: warm envelope refresh failed", "session_id", envelope.SessionID, "error", err)
	}
	return nil
}

// AppendContext records one addendum: cold insert plus a bounded warm list.
func (s *Store) AppendContext(ctx context.Context, sessionID string, result *AppendedResult) error {
	if sessionID == "" || result == nil {
		return errors.New("session_id and append are required")
	}
	result.SessionID = sessionID
	if result.AppendID == "" {
		result.AppendID = shortuuid.New()
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()
	if _, err := s.db.Collection(collAppends).InsertOne(coldCtx, result); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}

	s.hot.Delete(sessionID)
	if err := s.warmPushAppend(ctx, result); err != nil {
		slog.Warn("store: warm append push failed", "session_id", sessionID, "error", err)
	}
	return nil
}

// ReadContext answers from the fastest tier holding the session: hot, warm,
// then cold. A cold hit repopulates the warm tier best-effort.
func (s *Store) ReadContext(ctx context.Context, sessionID string) (*ContextSnapshot, error) {
	if sessionID == "" {
		return nil, errors.New("session_id is required")
	}
	if snapshot, ok := s.hot.Get(sessionID); ok {
		s.recordHit("hot")
		return snapshot, nil
	}
	s.recordMiss("hot")

	if snapshot, err := s.readWarm(ctx, sessionID); err == nil {
		s.recordHit("warm")
		s.hot.Set(sessionID, snapshot)
		return snapshot, nil
	} else if !errors.Is(err, ErrNotFound) {
		slog.Warn("store: warm read failed, falling back to cold", "session_id", sessionID, "error", err)
	}
	s.recordMiss("warm")

	snapshot, err := s.readCold(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.recordHit("cold")
	s.hot.Set(sessionID, snapshot)
	s.repopulateWarm(ctx, snapshot)
	return snapshot, nil
}

// DeleteContext removes the session from every tier.
func (s *Store) DeleteContext(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return errors.New("session_id is required")
	}
	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	s.hot.Delete(sessionID)

	warmCtx, cancel := context.WithTimeout(ctx, warmOpTimeout)
	defer cancel()
	if err := s.rdb.Del(warmCtx, warmContextKey(sessionID), warmAppendKey(sessionID)).Err(); err != nil {
		slog.Warn("store: warm delete failed", "session_id", sessionID, "error", err)
	}

	coldCtx, cancel2 := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel2()
	filter := bson.M{"session_id": sessionID}
	if _, err := s.db.Collection(collContexts).DeleteOne(coldCtx, filter); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}
	if _, err := s.db.Collection(collAppends).DeleteMany(coldCtx, filter); err != nil {
		return errors.Wrap(ErrColdUnavailable, err.Error())
	}
	return nil
}

// GetContextForPrompt renders a compact Markdown summary of the session for
// prepending to an LLM prompt. Returns "" for unknown sessions.
func (s *Store) GetContextForPrompt(ctx context.Context, sessionID string) string {
	snapshot, err := s.ReadContext(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			slog.Warn("store: prompt context read failed", "session_id", sessionID, "error", err)
		}
		return ""
	}
	return renderPromptContext(snapshot)
}

func (s *Store) warmSetEnvelope(ctx context.Context, envelope *ContextEnvelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	warmCtx, cancel := context.WithTimeout(ctx, warmOpTimeout)
	defer cancel()
	return s.rdb.Set(warmCtx, warmContextKey(envelope.SessionID), data, warmTTL).Err()
}

func (s *Store) warmPushAppend(ctx context.Context, result *AppendedResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	warmCtx, cancel := context.WithTimeout(ctx, warmOpTimeout)
	defer cancel()

	key := warmAppendKey(result.SessionID)
	pipe := s.rdb.TxPipeline()
	pipe.RPush(warmCtx, key, data)
	pipe.LTrim(warmCtx, key, -appendWarmLimit, -1)
	pipe.Expire(warmCtx, key, warmTTL)
	_, err = pipe.Exec(warmCtx)
	return err
}

func (s *Store) readWarm(ctx context.Context, sessionID string) (*ContextSnapshot, error) {
	warmCtx, cancel := context.WithTimeout(ctx, warmOpTimeout)
	defer cancel()

	raw, err := s.rdb.Get(warmCtx, warmContextKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var envelope ContextEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}

	items, err := s.rdb.LRange(warmCtx, warmAppendKey(sessionID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	appends := make([]*AppendedResult, 0, len(items))
	for _, item := range items {
		var a AppendedResult
		if err := json.Unmarshal([]byte(item), &a); err != nil {
			continue
		}
		appends = append(appends, &a)
	}

	return &ContextSnapshot{
		Envelope:    &envelope,
		Appends:     appends,
		Total:       int64(len(appends)),
		LastUpdated: lastUpdated(&envelope, appends),
		ExpiresAt:   envelope.ExpiresAt,
	}, nil
}

func (s *Store) readCold(ctx context.Context, sessionID string) (*ContextSnapshot, error) {
	coldCtx, cancel := context.WithTimeout(ctx, coldOpTimeout)
	defer cancel()

	filter := bson.M{"session_id": sessionID}
	var envelope ContextEnvelope
	err := s.db.Collection(collContexts).FindOne(coldCtx, filter).Decode(&envelope)
	hasEnvelope := err == nil
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.Wrap(err, "read cold envelope")
	}

	total, err := s.db.Collection(collAppends).CountDocuments(coldCtx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "count cold appends")
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetLimit(appendWarmLimit)
	if total > appendWarmLimit {
		findOpts.SetSkip(total - appendWarmLimit)
	}
	cur, err := s.db.Collection(collAppends).Find(coldCtx, filter, findOpts)
	if err != nil {
		return nil, errors.Wrap(err, "read cold appends")
	}
	var appends []*AppendedResult
	if err := cur.All(coldCtx, &appends); err != nil {
		return nil, errors.Wrap(err, "decode cold appends")
	}

	if !hasEnvelope && len(appends) == 0 {
		return nil, ErrNotFound
	}

	snapshot := &ContextSnapshot{
		Appends: appends,
		Total:   total,
	}
	if hasEnvelope {
		snapshot.Envelope = &envelope
		snapshot.ExpiresAt = envelope.ExpiresAt
	}
	snapshot.LastUpdated = lastUpdated(snapshot.Envelope, appends)
	return snapshot, nil
}

// repopulateWarm pushes a cold hit back into the warm tier so the next read
// stays fast. Failures are logged, never surfaced.
func (s *Store) repopulateWarm(ctx context.Context, snapshot *ContextSnapshot) {
	if snapshot.Envelope != nil {
		if err := s.warmSetEnvelope(ctx, snapshot.Envelope); err != nil {
			slog.Warn("store: warm repopulate failed", "session_id", snapshot.Envelope.SessionID, "error", err)
			return
		}
	}
	for _, a := range snapshot.Appends {
		if err := s.warmPushAppend(ctx, a); err != nil {
			slog.Warn("store: warm append repopulate failed", "session_id", a.SessionID, "error", err)
			return
		}
	}
}

func lastUpdated(envelope *ContextEnvelope, appends []*AppendedResult) time.Time {
	var latest time.Time
	if envelope != nil {
		latest = envelope.CreatedAt
	}
	if n := len(appends); n > 0 && appends[n-1].CreatedAt.After(latest) {
		latest = appends[n-1].CreatedAt
	}
	return latest
}

// trimEnvelope drops chat-history entries oldest-first until the serialised
// envelope fits within maxBytes.
func trimEnvelope(envelope *ContextEnvelope, maxBytes int) {
	for {
		data, err := json.Marshal(envelope)
		if err != nil || len(data) <= maxBytes {
			return
		}
		history, ok := envelope.Payload["chat_history"].([]any)
		if !ok || len(history) == 0 {
			return
		}
		envelope.Payload["chat_history"] = history[1:]
	}
}

// renderPromptContext produces the Markdown block the engine prepends to LLM
// prompts: the most recent chat turns, the current intent, and the latest
// append outputs.
func renderPromptContext(snapshot *ContextSnapshot) string {
	if snapshot == nil {
		return ""
	}
	var b strings.Builder

	if env := snapshot.Envelope; env != nil {
		if history, ok := env.Payload["chat_history"].([]any); ok && len(history) > 0 {
			if len(history) > promptTurns {
				history = history[len(history)-promptTurns:]
			}
			b.WriteString("## Recent Conversation\n")
			for _, item := range history {
				turn, ok := item.(map[string]any)
				if !ok {
					continue
				}
				if user, _ := turn["user"].(string); user != "" {
					fmt.Fprintf(&b, "User: %s\n", user)
				}
				if ai, _ := turn["ai"].(string); ai != "" {
					fmt.Fprintf(&b, "Assistant: %s\n", ai)
				}
			}
		}
		if env.IntentTag != "" {
			fmt.Fprintf(&b, "\nCurrent intent: %s\n", env.IntentTag)
		}
	}

	if appends := snapshot.Appends; len(appends) > 0 {
		if len(appends) > promptAppends {
			appends = appends[len(appends)-promptAppends:]
		}
		b.WriteString("\n## Recent Results\n")
		for _, a := range appends {
			summary := summarizeOutput(a.Output)
			if summary == "" {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s\n", a.Source, summary)
		}
	}
	return strings.TrimSpace(b.String())
}

// summarizeOutput flattens an append output into one short line.
func summarizeOutput(output map[string]any) string {
	if len(output) == 0 {
		return ""
	}
	for _, key := range []string{"summary", "text", "message", "result"} {
		if v, ok := output[key].(string); ok && v != "" {
			return truncate(v, 200)
		}
	}
	data, err := json.Marshal(output)
	if err != nil {
		return ""
	}
	return truncate(string(data), 200)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
