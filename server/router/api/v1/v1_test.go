package v1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/porterhq/porter/ai/memory"
	"github.com/porterhq/porter/ai/pipeline"
	"github.com/porterhq/porter/internal/profile"
	"github.com/porterhq/porter/server/service/approval"
	"github.com/porterhq/porter/store"
)

type fakePipeline struct {
	lastTurn pipeline.Turn
	reply    *pipeline.Reply
	err      error
}

func (f *fakePipeline) HandleTurn(_ context.Context, turn pipeline.Turn) (*pipeline.Reply, error) {
	f.lastTurn = turn
	if f.err != nil {
		return nil, f.err
	}
	reply := *f.reply
	reply.SessionID = turn.SessionID
	reply.UserID = turn.UserID
	reply.Timestamp = time.Now().UTC()
	return &reply, nil
}

// fakeStore keeps turns and envelopes in memory; failAll simulates the cold
// tier being down.
type fakeStore struct {
	turns     map[string][]*store.Turn
	envelopes map[string]*store.ContextEnvelope
	appends   map[string][]*store.AppendedResult
	failAll   bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		turns:     map[string][]*store.Turn{},
		envelopes: map[string]*store.ContextEnvelope{},
		appends:   map[string][]*store.AppendedResult{},
	}
}

var errStoreDown = errors.New("store down")

func (f *fakeStore) ListTurns(_ context.Context, sessionID string) ([]*store.Turn, error) {
	if f.failAll {
		return nil, errStoreDown
	}
	return f.turns[sessionID], nil
}

func (f *fakeStore) DeleteTurns(_ context.Context, sessionID string) (int64, error) {
	if f.failAll {
		return 0, errStoreDown
	}
	n := int64(len(f.turns[sessionID]))
	delete(f.turns, sessionID)
	return n, nil
}

func (f *fakeStore) ReadContext(_ context.Context, sessionID string) (*store.ContextSnapshot, error) {
	if f.failAll {
		return nil, errStoreDown
	}
	env, ok := f.envelopes[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &store.ContextSnapshot{Envelope: env, Appends: f.appends[sessionID]}, nil
}

func (f *fakeStore) WriteContext(_ context.Context, envelope *store.ContextEnvelope) error {
	if f.failAll {
		return errStoreDown
	}
	f.envelopes[envelope.SessionID] = envelope
	return nil
}

func (f *fakeStore) AppendContext(_ context.Context, sessionID string, result *store.AppendedResult) error {
	if f.failAll {
		return errStoreDown
	}
	result.SessionID = sessionID
	result.AppendID = "ap_test"
	f.appends[sessionID] = append(f.appends[sessionID], result)
	return nil
}

func (f *fakeStore) DeleteContext(_ context.Context, sessionID string) error {
	if f.failAll {
		return errStoreDown
	}
	delete(f.envelopes, sessionID)
	return nil
}

func (f *fakeStore) Ping(context.Context) map[string]string {
	if f.failAll {
		return map[string]string{"warm": "connection refused", "cold": "connection refused"}
	}
	return map[string]string{"warm": "ok", "cold": "ok"}
}

func newTestService(t *testing.T, fp *fakePipeline, fs *fakeStore) (*APIV1Service, *echo.Echo) {
	t.Helper()
	mem, err := memory.NewService(memory.Config{Path: filepath.Join(t.TempDir(), "semantic_memory.json")})
	require.NoError(t, err)

	svc := NewAPIV1Service(
		&profile.Profile{Mode: "demo", Version: "0.1.0-test", MCPToken: "mcp-secret"},
		fp,
		approval.NewService(nil, nil, nil),
		mem,
		fs,
		nil,
	)
	e := echo.New()
	svc.Register(e)
	return svc, e
}

func doJSON(e *echo.Echo, method, target, body string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestChat_EmptyMessage(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	rec := doJSON(e, http.MethodPost, "/chat", `{"message":"","session_id":"S1"}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message is required", decode(t, rec)["error"])
}

func TestChat_MissingSession(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())
	rec := doJSON(e, http.MethodPost, "/chat", `{"message":"hello"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChat_ReturnsPipelineReply(t *testing.T) {
	fp := &fakePipeline{reply: &pipeline.Reply{
		ID:       "t1",
		Response: "Hi! How can I help?",
		IntentData: map[string]any{
			"intent": "general_chat",
		},
	}}
	_, e := newTestService(t, fp, newFakeStore())

	rec := doJSON(e, http.MethodPost, "/chat",
		`{"message":"Hello, how are you?","session_id":"S1","user_id":"u1"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "t1", body["id"])
	assert.Equal(t, "Hello, how are you?", body["message"])
	assert.Equal(t, "Hi! How can I help?", body["response"])
	assert.Equal(t, false, body["needs_approval"])
	assert.Equal(t, "S1", body["session_id"])
	assert.NotEmpty(t, body["timestamp"])

	assert.Equal(t, "web", fp.lastTurn.Channel)
	assert.Equal(t, "u1", fp.lastTurn.UserID)
}

func TestChat_VersionedAlias(t *testing.T) {
	fp := &fakePipeline{reply: &pipeline.Reply{Response: "ok", IntentData: map[string]any{}}}
	_, e := newTestService(t, fp, newFakeStore())

	rec := doJSON(e, http.MethodPost, "/api/v1/chat", `{"message":"hi","session_id":"S1"}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApprove_UnknownMessageID(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	rec := doJSON(e, http.MethodPost, "/approve", `{"message_id":"nope","approved":true}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApprove_MissingFields(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	rec := doJSON(e, http.MethodPost, "/approve", `{"approved":true}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(e, http.MethodPost, "/approve", `{"message_id":"m1"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestApprove_RejectStagedAction(t *testing.T) {
	svc, e := newTestService(t, &fakePipeline{}, newFakeStore())

	action := svc.Approvals.Stage(context.Background(), "S2", "u1", "send_email",
		map[string]any{"recipient": "sarah@example.com"}, "")

	rec := doJSON(e, http.MethodPost, "/approve",
		`{"message_id":"`+action.MessageID+`","approved":false}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, store.ApprovalCancelled, body["status"])
	live, _ := svc.Approvals.PendingFor(context.Background(), "S2")
	assert.Nil(t, live)
}

func TestHistory_RoundTrip(t *testing.T) {
	fs := newFakeStore()
	fs.turns["S1"] = []*store.Turn{
		{ID: "t1", SessionID: "S1", UserText: "hi", AIText: "hello!", Intent: "general_chat", CreatedAt: time.Now().UTC()},
		{ID: "t2", SessionID: "S1", UserText: "weather?", AIText: "sunny", Intent: "get_current_weather", CreatedAt: time.Now().UTC()},
	}
	_, e := newTestService(t, &fakePipeline{}, fs)

	rec := doJSON(e, http.MethodGet, "/history/S1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 4)

	first := messages[0].(map[string]any)
	assert.Equal(t, true, first["isUser"])
	assert.Equal(t, "hi", first["text"])
	second := messages[1].(map[string]any)
	assert.Equal(t, false, second["isUser"])
	assert.Equal(t, "hello!", second["text"])
	assert.Equal(t, "general_chat", second["intent"])
}

func TestHistory_DeleteClearsTurnsAndContext(t *testing.T) {
	fs := newFakeStore()
	fs.turns["S1"] = []*store.Turn{{ID: "t1", SessionID: "S1"}}
	fs.envelopes["S1"] = &store.ContextEnvelope{SessionID: "S1"}
	_, e := newTestService(t, &fakePipeline{}, fs)

	rec := doJSON(e, http.MethodDelete, "/history/S1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode(t, rec)["deleted"])
	assert.Empty(t, fs.turns["S1"])
	assert.NotContains(t, fs.envelopes, "S1")
}

func TestHistory_StoreDown(t *testing.T) {
	fs := newFakeStore()
	fs.failAll = true
	_, e := newTestService(t, &fakePipeline{}, fs)

	rec := doJSON(e, http.MethodGet, "/history/S1", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMemory_StoreThenRecall(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	rec := doJSON(e, http.MethodPost, "/memory/process",
		`{"message":"remember I like samosas and murmura","session_id":"S5"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "store", decode(t, rec)["action"])

	rec = doJSON(e, http.MethodPost, "/memory/process",
		`{"message":"what do you know about me?","session_id":"S5"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "recall", body["action"])
	response, _ := body["response"].(string)
	assert.Contains(t, strings.ToLower(response), "samosa")
	assert.Contains(t, strings.ToLower(response), "murmura")
}

func TestMemory_StatsAndContext(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	doJSON(e, http.MethodPost, "/memory/process",
		`{"message":"remember I am a software engineer","session_id":"S5"}`, nil)

	rec := doJSON(e, http.MethodGet, "/memory/stats", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(1), stats["total_facts"])

	rec = doJSON(e, http.MethodGet, "/memory/context/S5", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec)["context"], "software engineer")
}

func TestMCP_RequiresBearerToken(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	rec := doJSON(e, http.MethodGet, "/mcp/read-context/S1", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_token", decode(t, rec)["error"])

	header := http.Header{echo.HeaderAuthorization: []string{"Bearer wrong"}}
	rec = doJSON(e, http.MethodGet, "/mcp/read-context/S1", "", header)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMCP_WriteReadAppend(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())
	header := http.Header{echo.HeaderAuthorization: []string{"Bearer mcp-secret"}}

	rec := doJSON(e, http.MethodPost, "/mcp/write-context",
		`{"session_id":"S1","user_id":"u1","intent_tag":"general_chat","payload":{"note":"x"}}`, header)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(e, http.MethodPost, "/mcp/append-context",
		`{"session_id":"S1","source":"external_agent","output":{"summary":"done"}}`, header)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["append_id"])

	rec = doJSON(e, http.MethodGet, "/mcp/read-context/S1", "", header)
	require.Equal(t, http.StatusOK, rec.Code)
	var snapshot store.ContextSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	require.NotNil(t, snapshot.Envelope)
	assert.Equal(t, "S1", snapshot.Envelope.SessionID)
	require.Len(t, snapshot.Appends, 1)
}

func TestMCP_ReadUnknownSession(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())
	header := http.Header{echo.HeaderAuthorization: []string{"Bearer mcp-secret"}}

	rec := doJSON(e, http.MethodGet, "/mcp/read-context/none", "", header)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth_ReportsDependencies(t *testing.T) {
	_, e := newTestService(t, &fakePipeline{}, newFakeStore())

	rec := doJSON(e, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	deps := body["dependencies"].(map[string]any)
	assert.Equal(t, "ok", deps["warm"])
	assert.Equal(t, "ok", deps["cold"])
}

func TestHealth_DegradedWhenStoreDown(t *testing.T) {
	fs := newFakeStore()
	fs.failAll = true
	_, e := newTestService(t, &fakePipeline{}, fs)

	rec := doJSON(e, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode(t, rec)["status"])
}
