package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/porterhq/porter/ai/pipeline"
	"github.com/porterhq/porter/server/service/approval"
)

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
}

type chatResponse struct {
	ID            string         `json:"id"`
	Message       string         `json:"message"`
	Response      string         `json:"response"`
	IntentData    map[string]any `json:"intent_data"`
	NeedsApproval bool           `json:"needs_approval"`
	MessageID     string         `json:"message_id,omitempty"`
	Ephemeral     bool           `json:"ephemeral,omitempty"`
	SessionID     string         `json:"session_id"`
	UserID        string         `json:"user_id"`
	Timestamp     string         `json:"timestamp"`
}

func (s *APIV1Service) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Message == "" {
		return badRequest(c, "message is required")
	}
	if req.SessionID == "" {
		return badRequest(c, "session_id is required")
	}

	reply, err := s.Pipeline.HandleTurn(c.Request().Context(), pipeline.Turn{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Text:      req.Message,
		Channel:   "web",
	})
	if err != nil {
		return badRequest(c, err.Error())
	}

	return c.JSON(http.StatusOK, chatResponse{
		ID:            reply.ID,
		Message:       req.Message,
		Response:      reply.Response,
		IntentData:    reply.IntentData,
		NeedsApproval: reply.NeedsApproval,
		MessageID:     reply.MessageID,
		Ephemeral:     reply.Ephemeral,
		SessionID:     reply.SessionID,
		UserID:        reply.UserID,
		Timestamp:     reply.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

type approveRequest struct {
	MessageID  string         `json:"message_id"`
	Approved   *bool          `json:"approved"`
	EditedData map[string]any `json:"edited_data"`
}

func (s *APIV1Service) handleApprove(c echo.Context) error {
	var req approveRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.MessageID == "" {
		return badRequest(c, "message_id is required")
	}
	if req.Approved == nil {
		return badRequest(c, "approved is required")
	}

	outcome, err := s.Approvals.Resolve(c.Request().Context(), req.MessageID, *req.Approved, req.EditedData)
	if err != nil {
		if errors.Is(err, approval.ErrNotFound) {
			return notFound(c, "no pending action for that message_id")
		}
		return badRequest(c, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success":           true,
		"status":            outcome.Status,
		"intent":            outcome.Intent,
		"session_id":        outcome.SessionID,
		"webhook_delivered": outcome.WebhookOK,
	})
}
