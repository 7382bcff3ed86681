package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porterhq/porter/plugin/webhook"
	"github.com/porterhq/porter/store"
)

func newWebhookServer(t *testing.T, calls *atomic.Int32, lastBody *webhook.Payload) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if lastBody != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(lastBody))
		}
		w.WriteHeader(http.StatusOK)
	}))
}

func TestStage_OverwritesPriorPending(t *testing.T) {
	svc := NewService(nil, nil, nil)
	ctx := context.Background()

	first := svc.Stage(ctx, "s1", "u1", "send_email", map[string]any{"recipient": "a@b.c"}, "")
	second := svc.Stage(ctx, "s1", "u1", "generate_post_prompt_package", nil, "")

	pending, expired := svc.PendingFor(ctx, "s1")
	require.NotNil(t, pending)
	assert.False(t, expired)
	assert.Equal(t, second.MessageID, pending.MessageID)

	// The overwritten action is no longer resolvable.
	_, err := svc.Resolve(ctx, first.MessageID, true, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_ApproveDispatchesOnce(t *testing.T) {
	var calls atomic.Int32
	var got webhook.Payload
	srv := newWebhookServer(t, &calls, &got)
	defer srv.Close()

	svc := NewService(webhook.NewSender(srv.URL), nil, nil)
	ctx := context.Background()

	action := svc.Stage(ctx, "s1", "u1", "send_email",
		map[string]any{"recipient": "ops@example.com", "subject": "hi"}, "")

	outcome, err := svc.Resolve(ctx, action.MessageID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalDispatched, outcome.Status)
	assert.True(t, outcome.WebhookOK)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "send_email", got.Intent)
	assert.Equal(t, "s1", got.SessionID)

	// Second approve of the same id: success, no second webhook.
	again, err := svc.Resolve(ctx, action.MessageID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalDispatched, again.Status)
	assert.Equal(t, int32(1), calls.Load())

	live, _ := svc.PendingFor(ctx, "s1")
	assert.Nil(t, live, "pending action is consumed")
}

func TestResolve_EditedFieldsReplaceStaged(t *testing.T) {
	var calls atomic.Int32
	var got webhook.Payload
	srv := newWebhookServer(t, &calls, &got)
	defer srv.Close()

	svc := NewService(webhook.NewSender(srv.URL), nil, nil)
	ctx := context.Background()

	action := svc.Stage(ctx, "s1", "u1", "send_email", map[string]any{"subject": "old"}, "")
	_, err := svc.Resolve(ctx, action.MessageID, true, map[string]any{"subject": "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", got.Data["subject"])
}

func TestResolve_RejectClearsWithoutWebhook(t *testing.T) {
	var calls atomic.Int32
	srv := newWebhookServer(t, &calls, nil)
	defer srv.Close()

	svc := NewService(webhook.NewSender(srv.URL), nil, nil)
	ctx := context.Background()

	action := svc.Stage(ctx, "s1", "u1", "send_email", nil, "")
	outcome, err := svc.Resolve(ctx, action.MessageID, false, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalCancelled, outcome.Status)
	assert.Equal(t, int32(0), calls.Load())
	live, _ := svc.PendingFor(ctx, "s1")
	assert.Nil(t, live)
}

func TestResolve_WebhookFailureStillConsumes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	svc := NewService(webhook.NewSender(srv.URL), nil, nil)
	ctx := context.Background()

	action := svc.Stage(ctx, "s1", "u1", "send_email", nil, "")
	outcome, err := svc.Resolve(ctx, action.MessageID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalDispatched, outcome.Status)
	assert.False(t, outcome.WebhookOK)
	live, _ := svc.PendingFor(ctx, "s1")
	assert.Nil(t, live, "no retry, action stays consumed")
}

func TestResolve_UnknownID(t *testing.T) {
	svc := NewService(nil, nil, nil)
	_, err := svc.Resolve(context.Background(), "missing", true, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPendingFor_ExpiresAfterTTL(t *testing.T) {
	svc := NewService(nil, nil, nil)
	ctx := context.Background()

	action := svc.Stage(ctx, "s1", "u1", "send_email", nil, "")
	action.CreatedAt = time.Now().Add(-pendingTTL - time.Minute)

	// The lapse is reported exactly once, with the reaped action attached.
	reaped, expired := svc.PendingFor(ctx, "s1")
	require.NotNil(t, reaped)
	assert.True(t, expired)
	assert.Equal(t, action.MessageID, reaped.MessageID)

	live, expired := svc.PendingFor(ctx, "s1")
	assert.Nil(t, live)
	assert.False(t, expired)

	_, err := svc.Resolve(ctx, action.MessageID, true, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolvedMarksReapedAfterTTL(t *testing.T) {
	svc := NewService(nil, nil, nil)
	ctx := context.Background()

	action := svc.Stage(ctx, "s1", "u1", "send_email", nil, "")
	_, err := svc.Resolve(ctx, action.MessageID, false, nil)
	require.NoError(t, err)

	// Inside the window a repeat resolve replays the terminal status.
	again, err := svc.Resolve(ctx, action.MessageID, true, nil)
	require.NoError(t, err)
	assert.Equal(t, store.ApprovalCancelled, again.Status)

	svc.mu.Lock()
	svc.resolved[action.MessageID] = resolvedMark{
		status: store.ApprovalCancelled,
		at:     time.Now().Add(-pendingTTL - time.Minute),
	}
	svc.mu.Unlock()

	// The next transition reaps the stale mark; the id is gone afterwards.
	svc.Stage(ctx, "s2", "u1", "send_email", nil, "")
	_, err = svc.Resolve(ctx, action.MessageID, true, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIsConfirmation(t *testing.T) {
	testCases := []struct {
		text string
		want bool
	}{
		{"yes", true},
		{"Yes, go ahead", true},
		{"send", true},
		{"ok!", true},
		{"submit it", true},
		{"sure, do it", true},
		{"yes but first change the subject line to something else", false}, // too long
		{"send it to bob@example.com", false},                              // email-like token
		{"what's the weather", false},
		{"", false},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, IsConfirmation(tc.text), "text %q", tc.text)
	}
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, IsCancellation("no"))
	assert.True(t, IsCancellation("cancel that"))
	assert.True(t, IsCancellation("never mind"))
	assert.False(t, IsCancellation("no idea what the weather is like in a place I have never been"))
}

func TestPreview_Email(t *testing.T) {
	text := Preview(&PendingAction{
		IntentTag: "send_email",
		Fields: map[string]any{
			"recipient": "ops@example.com",
			"subject":   "Standup notes",
			"body":      "Here are the notes.",
		},
	})
	assert.Contains(t, text, "**To:** ops@example.com")
	assert.Contains(t, text, "**Subject:** Standup notes")
	assert.Contains(t, text, "Here are the notes.")
	assert.Contains(t, text, "send")
}

func TestPreview_PostPackage(t *testing.T) {
	text := Preview(&PendingAction{
		IntentTag: "generate_post_prompt_package",
		Fields: map[string]any{
			"description":     "I shipped a thing today.",
			"ai_instructions": "Write an upbeat LinkedIn post.",
		},
	})
	assert.Contains(t, text, "Post description")
	assert.Contains(t, text, "AI instructions")
	assert.Contains(t, text, "I shipped a thing today.")
}
