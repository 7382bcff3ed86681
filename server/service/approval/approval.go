// Package approval owns the pending-action lifecycle: staging side-effectful
// intents behind a user confirmation and dispatching approved payloads to the
// outbound webhook.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/porterhq/porter/ai/metrics"
	"github.com/porterhq/porter/plugin/webhook"
	"github.com/porterhq/porter/store"
)

// ErrNotFound is returned when a message id matches no staged action.
var ErrNotFound = errors.New("approval: pending action not found")

// pendingTTL is how long a staged action stays confirmable.
const pendingTTL = 30 * time.Minute

// PendingAction is the single not-yet-confirmed action for a session.
type PendingAction struct {
	MessageID   string
	SessionID   string
	UserID      string
	IntentTag   string
	Fields      map[string]any
	PreviewText string
	CreatedAt   time.Time
}

func (p *PendingAction) expired(now time.Time) bool {
	return now.Sub(p.CreatedAt) > pendingTTL
}

// Outcome reports how a resolution went.
type Outcome struct {
	Status     string // DISPATCHED, CANCELLED
	Intent     string
	SessionID  string
	WebhookOK  bool
	WebhookErr string
}

// resolvedMark remembers a terminal status so a repeated approve of the same
// id stays idempotent. Marks are reaped after pendingTTL; the idempotency
// window matches the confirmation window.
type resolvedMark struct {
	status string
	at     time.Time
}

// Service is the per-process pending-action state machine. Live state is in
// memory; every transition is mirrored to the cold store as an audit row.
type Service struct {
	mu        sync.Mutex
	bySession map[string]*PendingAction
	byMessage map[string]*PendingAction
	resolved  map[string]resolvedMark

	sender  *webhook.Sender
	store   *store.Store
	metrics *metrics.Exporter
}

// NewService wires the state machine to the webhook sender and audit store.
// Both may be nil in tests.
func NewService(sender *webhook.Sender, st *store.Store, exporter *metrics.Exporter) *Service {
	return &Service{
		bySession: make(map[string]*PendingAction),
		byMessage: make(map[string]*PendingAction),
		resolved:  make(map[string]resolvedMark),
		sender:    sender,
		store:     st,
		metrics:   exporter,
	}
}

// Stage replaces the session's pending action with a new candidate and
// returns it. A previous pending action for the session is overwritten.
func (s *Service) Stage(ctx context.Context, sessionID, userID, intentTag string, fields map[string]any, previewText string) *PendingAction {
	action := &PendingAction{
		MessageID:   shortuuid.New(),
		SessionID:   sessionID,
		UserID:      userID,
		IntentTag:   intentTag,
		Fields:      fields,
		PreviewText: previewText,
		CreatedAt:   time.Now().UTC(),
	}

	s.mu.Lock()
	s.reapResolvedLocked(time.Now())
	if prev, ok := s.bySession[sessionID]; ok {
		delete(s.byMessage, prev.MessageID)
	}
	s.bySession[sessionID] = action
	s.byMessage[action.MessageID] = action
	count := len(s.bySession)
	s.mu.Unlock()

	s.setGauge(count)
	s.audit(ctx, func(st *store.Store) error {
		return st.SaveApproval(ctx, &store.ApprovalRecord{
			MessageID:   action.MessageID,
			SessionID:   sessionID,
			UserID:      userID,
			Intent:      intentTag,
			Fields:      fields,
			PreviewText: previewText,
			Status:      store.ApprovalPending,
			CreatedAt:   action.CreatedAt,
		})
	})
	return action
}

// PendingFor returns the session's live pending action. An action that sat
// past the TTL is reaped here and handed back once with expired=true, so the
// caller can still tell the user what lapsed.
func (s *Service) PendingFor(ctx context.Context, sessionID string) (*PendingAction, bool) {
	s.mu.Lock()
	action, ok := s.bySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, false
	}
	if action.expired(time.Now()) {
		s.removeLocked(action)
		s.mu.Unlock()
		s.expireAudit(ctx, action)
		return action, true
	}
	s.mu.Unlock()
	return action, false
}

// Resolve consumes the pending action named by messageID. Approval posts the
// payload to the webhook exactly once; a repeated approve of an already
// resolved id succeeds without a second dispatch. editedFields, when present,
// replace the staged fields.
func (s *Service) Resolve(ctx context.Context, messageID string, approved bool, editedFields map[string]any) (*Outcome, error) {
	s.mu.Lock()
	s.reapResolvedLocked(time.Now())
	if mark, ok := s.resolved[messageID]; ok {
		s.mu.Unlock()
		return &Outcome{Status: mark.status}, nil
	}
	action, ok := s.byMessage[messageID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	if action.expired(time.Now()) {
		s.removeLocked(action)
		s.markResolvedLocked(messageID, store.ApprovalExpired)
		s.mu.Unlock()
		s.expireAudit(ctx, action)
		return nil, ErrNotFound
	}
	s.removeLocked(action)
	if !approved {
		s.markResolvedLocked(messageID, store.ApprovalCancelled)
	} else {
		s.markResolvedLocked(messageID, store.ApprovalDispatched)
	}
	count := len(s.bySession)
	s.mu.Unlock()
	s.setGauge(count)

	if !approved {
		s.audit(ctx, func(st *store.Store) error {
			return st.ResolveApproval(ctx, messageID, store.ApprovalCancelled, nil)
		})
		return &Outcome{
			Status:    store.ApprovalCancelled,
			Intent:    action.IntentTag,
			SessionID: action.SessionID,
		}, nil
	}

	fields := action.Fields
	if len(editedFields) > 0 {
		fields = editedFields
	}
	outcome := &Outcome{
		Status:    store.ApprovalDispatched,
		Intent:    action.IntentTag,
		SessionID: action.SessionID,
		WebhookOK: true,
	}
	err := s.sender.Post(ctx, &webhook.Payload{
		UserID:    action.UserID,
		SessionID: action.SessionID,
		Intent:    action.IntentTag,
		Data:      fields,
		RoutingInfo: map[string]any{
			"message_id": action.MessageID,
			"lane":       "approval_gated",
		},
	})
	if err != nil {
		// At-most-once: the action stays consumed, the failure is
		// reported, never retried.
		outcome.WebhookOK = false
		outcome.WebhookErr = err.Error()
		slog.Warn("approval: webhook dispatch failed",
			"message_id", messageID, "intent", action.IntentTag, "error", err)
	}
	if s.metrics != nil {
		s.metrics.RecordWebhook(action.IntentTag, outcome.WebhookOK)
	}

	ok2 := outcome.WebhookOK
	s.audit(ctx, func(st *store.Store) error {
		return st.ResolveApproval(ctx, messageID, store.ApprovalDispatched, &ok2)
	})
	s.audit(ctx, func(st *store.Store) error {
		return st.AppendContext(ctx, action.SessionID, &store.AppendedResult{
			Source: store.SourceApproval,
			Output: map[string]any{
				"intent":     action.IntentTag,
				"message_id": action.MessageID,
				"webhook_ok": outcome.WebhookOK,
			},
		})
	})
	return outcome, nil
}

// Cancel clears the session's pending action, if any.
func (s *Service) Cancel(ctx context.Context, sessionID string) *PendingAction {
	s.mu.Lock()
	action, ok := s.bySession[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(action)
	s.markResolvedLocked(action.MessageID, store.ApprovalCancelled)
	count := len(s.bySession)
	s.mu.Unlock()

	s.setGauge(count)
	s.audit(ctx, func(st *store.Store) error {
		return st.ResolveApproval(ctx, action.MessageID, store.ApprovalCancelled, nil)
	})
	return action
}

func (s *Service) removeLocked(action *PendingAction) {
	delete(s.bySession, action.SessionID)
	delete(s.byMessage, action.MessageID)
}

func (s *Service) markResolvedLocked(messageID, status string) {
	s.resolved[messageID] = resolvedMark{status: status, at: time.Now().UTC()}
}

// reapResolvedLocked drops idempotency marks older than the confirmation
// window so the map stays bounded over the process lifetime.
func (s *Service) reapResolvedLocked(now time.Time) {
	for id, mark := range s.resolved {
		if now.Sub(mark.at) > pendingTTL {
			delete(s.resolved, id)
		}
	}
}

func (s *Service) expireAudit(ctx context.Context, action *PendingAction) {
	s.setGaugeFromState()
	s.audit(ctx, func(st *store.Store) error {
		return st.ResolveApproval(ctx, action.MessageID, store.ApprovalExpired, nil)
	})
}

func (s *Service) setGaugeFromState() {
	s.mu.Lock()
	count := len(s.bySession)
	s.mu.Unlock()
	s.setGauge(count)
}

func (s *Service) setGauge(count int) {
	if s.metrics != nil {
		s.metrics.SetPendingActions(count)
	}
}

func (s *Service) audit(ctx context.Context, fn func(*store.Store) error) {
	if s.store == nil {
		return
	}
	if err := fn(s.store); err != nil {
		slog.Warn("approval: audit write failed", "error", err)
	}
}

// confirmWords and cancelWords drive the conservative confirmation rule.
var confirmWords = []string{
	"yes", "send", "submit", "confirm", "approve", "ok", "okay", "sure",
	"go ahead", "do it", "yep", "yeah",
}

var cancelWords = []string{
	"no", "cancel", "stop", "reject", "don't", "dont", "abort", "nevermind", "never mind",
}

// IsConfirmation reports whether text is a direct confirmation of the
// pending action: at most five words, no email-like tokens, and at least one
// confirmation word. Anything else re-enters classification.
func IsConfirmation(text string) bool {
	return shortCommand(text, confirmWords)
}

// IsCancellation mirrors IsConfirmation for rejections.
func IsCancellation(text string) bool {
	return shortCommand(text, cancelWords)
}

func shortCommand(text string, lexicon []string) bool {
	trimmed := strings.ToLower(strings.TrimSpace(text))
	trimmed = strings.Trim(trimmed, ".,!?")
	if trimmed == "" {
		return false
	}
	words := strings.Fields(trimmed)
	if len(words) > 5 {
		return false
	}
	for _, w := range words {
		if strings.Contains(w, "@") {
			return false
		}
	}
	for _, lex := range lexicon {
		if strings.Contains(lex, " ") {
			if strings.Contains(trimmed, lex) {
				return true
			}
			continue
		}
		for _, w := range words {
			if strings.Trim(w, ".,!?") == lex {
				return true
			}
		}
	}
	return false
}

// Preview renders the confirmation message shown when an action is staged.
func Preview(action *PendingAction) string {
	var b strings.Builder
	switch action.IntentTag {
	case "send_email":
		b.WriteString("Here's the email I'm about to send:\n\n")
		if v, _ := action.Fields["recipient"].(string); v != "" {
			fmt.Fprintf(&b, "**To:** %s\n", v)
		}
		if v, _ := action.Fields["subject"].(string); v != "" {
			fmt.Fprintf(&b, "**Subject:** %s\n", v)
		}
		if v, _ := action.Fields["body"].(string); v != "" {
			fmt.Fprintf(&b, "\n%s\n", v)
		}
		b.WriteString("\nReply \"send\" or \"yes, go ahead\" to send it, or tell me what to change.")
	case "generate_post_prompt_package":
		b.WriteString("Here's the post package:\n\n")
		if v, _ := action.Fields["description"].(string); v != "" {
			fmt.Fprintf(&b, "📝 **Post description:**\n%s\n\n", v)
		}
		if v, _ := action.Fields["ai_instructions"].(string); v != "" {
			fmt.Fprintf(&b, "🤖 **AI instructions:**\n%s\n\n", v)
		}
		b.WriteString("Reply \"submit\" or \"ok\" to send it onward, or tell me what to change.")
	default:
		b.WriteString(action.PreviewText)
		if action.PreviewText != "" {
			b.WriteString("\n\n")
		}
		b.WriteString("Reply \"yes\" to confirm or \"cancel\" to drop it.")
	}
	return b.String()
}
