package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/porterhq/porter/store"
)

// historyMessage is one side of an exchange. Each persisted Turn expands into
// a user row and an assistant row so clients can render a transcript directly.
type historyMessage struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	IsUser    bool      `json:"isUser"`
	Intent    string    `json:"intent,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *APIV1Service) handleGetHistory(c echo.Context) error {
	if s.Store == nil {
		return storeUnavailable(c)
	}
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return badRequest(c, "session_id is required")
	}

	turns, err := s.Store.ListTurns(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "unknown session")
		}
		return storeUnavailable(c)
	}

	messages := make([]historyMessage, 0, len(turns)*2)
	for _, t := range turns {
		messages = append(messages, historyMessage{
			ID:        t.ID + "_user",
			Text:      t.UserText,
			IsUser:    true,
			Timestamp: t.CreatedAt,
		})
		messages = append(messages, historyMessage{
			ID:        t.ID,
			Text:      t.AIText,
			IsUser:    false,
			Intent:    t.Intent,
			Timestamp: t.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session_id": sessionID,
		"messages":   messages,
		"count":      len(messages),
	})
}

func (s *APIV1Service) handleDeleteHistory(c echo.Context) error {
	if s.Store == nil {
		return storeUnavailable(c)
	}
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return badRequest(c, "session_id is required")
	}

	ctx := c.Request().Context()
	deleted, err := s.Store.DeleteTurns(ctx, sessionID)
	if err != nil {
		return storeUnavailable(c)
	}
	// The envelope goes with the transcript; a follow-up turn starts fresh.
	if err := s.Store.DeleteContext(ctx, sessionID); err != nil {
		return storeUnavailable(c)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"success": true,
		"deleted": deleted,
	})
}
