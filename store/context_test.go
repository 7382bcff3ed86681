package store

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func historyTurn(user, ai string) any {
	return map[string]any{"user": user, "ai": ai}
}

func TestTrimEnvelope_DropsOldestTurnsFirst(t *testing.T) {
	envelope := &ContextEnvelope{
		SessionID: "s1",
		Payload: map[string]any{
			"chat_history": []any{
				historyTurn("first "+strings.Repeat("x", 600), "reply"),
				historyTurn("second "+strings.Repeat("y", 600), "reply"),
				historyTurn("third", "reply"),
			},
		},
	}

	trimEnvelope(envelope, 900)

	history, ok := envelope.Payload["chat_history"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, history)

	// Oldest entries go first; the newest survives.
	last := history[len(history)-1].(map[string]any)
	assert.Equal(t, "third", last["user"])

	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(data), 900)
}

func TestTrimEnvelope_NoHistoryLeavesEnvelopeAlone(t *testing.T) {
	envelope := &ContextEnvelope{
		SessionID: "s1",
		Payload:   map[string]any{"note": strings.Repeat("z", 2000)},
	}
	trimEnvelope(envelope, 100)
	assert.Equal(t, strings.Repeat("z", 2000), envelope.Payload["note"])
}

func TestTrimEnvelope_SmallEnvelopeUntouched(t *testing.T) {
	envelope := &ContextEnvelope{
		SessionID: "s1",
		Payload: map[string]any{
			"chat_history": []any{historyTurn("hi", "hello")},
		},
	}
	trimEnvelope(envelope, maxEnvelopeBytes)
	history := envelope.Payload["chat_history"].([]any)
	assert.Len(t, history, 1)
}

func TestRenderPromptContext_LimitsTurnsAndAppends(t *testing.T) {
	history := make([]any, 0, 8)
	for _, u := range []string{"one", "two", "three", "four", "five", "six", "seven"} {
		history = append(history, historyTurn(u, "re "+u))
	}
	appends := make([]*AppendedResult, 0, 5)
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		appends = append(appends, &AppendedResult{
			SessionID: "s1",
			AppendID:  n,
			Source:    SourceTool,
			Output:    map[string]any{"summary": "result " + n},
		})
	}

	prompt := renderPromptContext(&ContextSnapshot{
		Envelope: &ContextEnvelope{
			SessionID: "s1",
			IntentTag: "get_weather_current",
			Payload:   map[string]any{"chat_history": history},
		},
		Appends: appends,
	})

	assert.Contains(t, prompt, "## Recent Conversation")
	assert.NotContains(t, prompt, "User: one", "turns beyond the last 5 are dropped")
	assert.NotContains(t, prompt, "User: two")
	assert.Contains(t, prompt, "User: three")
	assert.Contains(t, prompt, "User: seven")

	assert.Contains(t, prompt, "Current intent: get_weather_current")

	assert.Contains(t, prompt, "## Recent Results")
	assert.NotContains(t, prompt, "result a", "appends beyond the last 3 are dropped")
	assert.NotContains(t, prompt, "result b")
	assert.Contains(t, prompt, "[tool] result c")
	assert.Contains(t, prompt, "[tool] result e")
}

func TestRenderPromptContext_EmptySnapshot(t *testing.T) {
	assert.Empty(t, renderPromptContext(nil))
	assert.Empty(t, renderPromptContext(&ContextSnapshot{}))
}

func TestSummarizeOutput(t *testing.T) {
	assert.Equal(t, "hello", summarizeOutput(map[string]any{"summary": "hello"}))
	assert.Equal(t, "hi", summarizeOutput(map[string]any{"text": "hi"}))
	assert.Empty(t, summarizeOutput(nil))

	long := summarizeOutput(map[string]any{"message": strings.Repeat("w", 400)})
	assert.True(t, strings.HasSuffix(long, "..."))
	assert.LessOrEqual(t, len(long), 203)

	// Falls back to compact JSON when no known text key is present.
	got := summarizeOutput(map[string]any{"count": float64(3)})
	assert.Contains(t, got, `"count":3`)
}

func TestLastUpdated(t *testing.T) {
	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	envelope := &ContextEnvelope{CreatedAt: base}
	later := &AppendedResult{CreatedAt: base.Add(time.Hour)}

	assert.Equal(t, base, lastUpdated(envelope, nil))
	assert.Equal(t, base.Add(time.Hour), lastUpdated(envelope, []*AppendedResult{later}))
	assert.Equal(t, base.Add(time.Hour), lastUpdated(nil, []*AppendedResult{later}))
}

func TestWarmKeys(t *testing.T) {
	assert.Equal(t, "ctx:whatsapp_42", warmContextKey("whatsapp_42"))
	assert.Equal(t, "app:whatsapp_42", warmAppendKey("whatsapp_42"))
}

func TestSessionLock_SameSessionSameStripe(t *testing.T) {
	s := &Store{}
	assert.Same(t, s.sessionLock("abc"), s.sessionLock("abc"))
}
