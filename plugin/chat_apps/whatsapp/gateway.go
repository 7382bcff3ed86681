// Package whatsapp adapts the WhatsApp bridge protocol into the canonical
// pipeline: its token scheme, its loose message envelope, and its expected
// reply shape.
package whatsapp

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/porterhq/porter/ai/pipeline"
	"github.com/porterhq/porter/store"
)

// sessionPrefix namespaces bridge sessions away from web sessions.
const sessionPrefix = "whatsapp_"

const platform = "whatsapp"

const failureReply = "I hit a problem with that message — please try again."

// probePhrases are connection tests from the bridge; they never reach the
// pipeline.
var probePhrases = map[string]bool{
	"":      true,
	"ping":  true,
	"test":  true,
	"hello": true,
}

// ChannelLogger is the slice of the store the gateway logs through.
// *store.Store satisfies it; tests pass a fake or nil.
type ChannelLogger interface {
	LogChannelConversation(ctx context.Context, conv *store.ChannelConversation) error
	LogChannelError(ctx context.Context, cerr *store.ChannelError) error
}

// TurnPipeline is the slice of the pipeline the gateway drives.
type TurnPipeline interface {
	HandleTurn(ctx context.Context, turn pipeline.Turn) (*pipeline.Reply, error)
}

// Gateway terminates the bridge's HTTP protocol.
type Gateway struct {
	token        string
	validationID string
	pipeline     TurnPipeline
	logger       ChannelLogger
}

// NewGateway builds the bridge adapter. validationID is the fixed identifier
// answered by /validate.
func NewGateway(token, validationID string, p TurnPipeline, logger ChannelLogger) *Gateway {
	return &Gateway{
		token:        token,
		validationID: validationID,
		pipeline:     p,
		logger:       logger,
	}
}

// Register mounts the bridge endpoints on the given group.
func (g *Gateway) Register(grp *echo.Group) {
	grp.GET("", g.handleProbe)
	grp.POST("", g.handleMessage)
	grp.GET("/validate", g.handleValidate)
	grp.POST("/validate", g.handleValidate)
}

// inbound is the tolerated message shape. The bridge is inconsistent about
// which key carries the text, so all four are accepted.
type inbound struct {
	Message   string `json:"message"`
	Text      string `json:"text"`
	Query     string `json:"query"`
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

func (in *inbound) text() string {
	for _, v := range []string{in.Message, in.Text, in.Query, in.Content} {
		if v != "" {
			return v
		}
	}
	return ""
}

type replyEnvelope struct {
	Success        bool           `json:"success"`
	SessionID      string         `json:"session_id"`
	Message        string         `json:"message"`
	Intent         string         `json:"intent"`
	NeedsApproval  bool           `json:"needs_approval"`
	Platform       string         `json:"platform"`
	Timestamp      time.Time      `json:"timestamp"`
	ConversationID string         `json:"conversation_id"`
	IntentData     map[string]any `json:"intent_data,omitempty"`
	ApprovalInfo   map[string]any `json:"approval_info,omitempty"`
}

func (g *Gateway) authorize(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token = strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(g.token)) != 1 {
		return c.JSON(http.StatusUnauthorized, map[string]any{
			"error":           "invalid_token",
			"message":         "the bridge token is missing or wrong",
			"expected_format": "?token=<token> or Authorization: Bearer <token>",
		})
	}
	return nil
}

func (g *Gateway) handleProbe(c echo.Context) error {
	if err := g.authorize(c); err != nil || c.Response().Committed {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (g *Gateway) handleValidate(c echo.Context) error {
	if err := g.authorize(c); err != nil || c.Response().Committed {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"id": g.validationID, "status": "ok"})
}

func (g *Gateway) handleMessage(c echo.Context) error {
	if err := g.authorize(c); err != nil || c.Response().Committed {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	in := parseInbound(body)
	text := strings.TrimSpace(in.text())
	if probePhrases[strings.ToLower(text)] {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}

	sessionID := in.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("test_session_%d", time.Now().Unix())
	}
	userID := in.UserID
	if userID == "" {
		userID = "whatsapp_user"
	}

	ctx := c.Request().Context()
	reply, err := g.pipeline.HandleTurn(ctx, pipeline.Turn{
		SessionID: sessionPrefix + sessionID,
		UserID:    userID,
		Text:      text,
		Channel:   platform,
	})
	if err != nil {
		g.logError(sessionPrefix+sessionID, err)
		// Every inbound message leaves a conversation record, failures
		// included.
		g.logConversation(&store.ChannelConversation{
			Platform:  platform,
			SessionID: sessionPrefix + sessionID,
			UserID:    userID,
			Inbound:   text,
			Outbound:  failureReply,
		})
		return c.JSON(http.StatusOK, replyEnvelope{
			Success:   false,
			SessionID: sessionID,
			Message:   failureReply,
			Platform:  platform,
			Timestamp: time.Now().UTC(),
		})
	}

	intent, _ := reply.IntentData["intent"].(string)
	envelope := replyEnvelope{
		Success:        true,
		SessionID:      sessionID,
		Message:        reply.Response,
		Intent:         intent,
		NeedsApproval:  reply.NeedsApproval,
		Platform:       platform,
		Timestamp:      reply.Timestamp,
		ConversationID: reply.ID,
		IntentData:     reply.IntentData,
	}
	if reply.NeedsApproval {
		envelope.ApprovalInfo = map[string]any{
			"approval_endpoint": "/api/v1/approve",
			"message_id":        reply.MessageID,
		}
	}

	g.logConversation(&store.ChannelConversation{
		Platform:      platform,
		SessionID:     reply.SessionID,
		UserID:        userID,
		Inbound:       text,
		Outbound:      reply.Response,
		Intent:        intent,
		NeedsApproval: reply.NeedsApproval,
	})
	return c.JSON(http.StatusOK, envelope)
}

// parseInbound tolerates a raw string body by wrapping it into a synthetic
// message object.
func parseInbound(body []byte) *inbound {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return &inbound{}
	}

	var in inbound
	if err := json.Unmarshal(body, &in); err == nil {
		return &in
	}

	var raw string
	if err := json.Unmarshal(body, &raw); err == nil {
		return &inbound{Message: raw}
	}
	return &inbound{Message: trimmed}
}

func (g *Gateway) logConversation(conv *store.ChannelConversation) {
	if g.logger == nil {
		return
	}
	logCtx, cancel := logContext()
	defer cancel()
	if err := g.logger.LogChannelConversation(logCtx, conv); err != nil {
		slog.Warn("whatsapp: conversation log failed", "session_id", conv.SessionID, "error", err)
	}
}

func (g *Gateway) logError(sessionID string, cause error) {
	slog.Error("whatsapp: message handling failed", "session_id", sessionID, "error", cause)
	if g.logger == nil {
		return
	}
	logCtx, cancel := logContext()
	defer cancel()
	if err := g.logger.LogChannelError(logCtx, &store.ChannelError{
		Platform:  platform,
		SessionID: sessionID,
		Stage:     "pipeline",
		Message:   cause.Error(),
	}); err != nil {
		slog.Warn("whatsapp: error log failed", "session_id", sessionID, "error", err)
	}
}

// logContext detaches channel logging from the request lifetime; the record
// should land even when the bridge hangs up early.
func logContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
