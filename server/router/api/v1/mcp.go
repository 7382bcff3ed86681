package v1

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/porterhq/porter/store"
)

// requireMCPToken gates the machine-to-machine context API behind the shared
// bearer token.
func (s *APIV1Service) requireMCPToken(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			token = ""
		}
		expected := s.Profile.MCPToken
		if expected == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":   "invalid_token",
				"message": "a valid MCP bearer token is required",
			})
		}
		return next(c)
	}
}

func (s *APIV1Service) handleReadContext(c echo.Context) error {
	if s.Store == nil {
		return storeUnavailable(c)
	}
	sessionID := c.Param("session_id")
	if sessionID == "" {
		return badRequest(c, "session_id is required")
	}

	snapshot, err := s.Store.ReadContext(c.Request().Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return notFound(c, "no context for that session")
		}
		return storeUnavailable(c)
	}
	return c.JSON(http.StatusOK, snapshot)
}

func (s *APIV1Service) handleWriteContext(c echo.Context) error {
	if s.Store == nil {
		return storeUnavailable(c)
	}
	var envelope store.ContextEnvelope
	if err := c.Bind(&envelope); err != nil {
		return badRequest(c, "invalid request body")
	}
	if envelope.SessionID == "" {
		return badRequest(c, "session_id is required")
	}

	if err := s.Store.WriteContext(c.Request().Context(), &envelope); err != nil {
		return storeUnavailable(c)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"session_id": envelope.SessionID,
	})
}

type appendContextRequest struct {
	SessionID string         `json:"session_id"`
	Source    string         `json:"source"`
	Output    map[string]any `json:"output"`
}

func (s *APIV1Service) handleAppendContext(c echo.Context) error {
	if s.Store == nil {
		return storeUnavailable(c)
	}
	var req appendContextRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.SessionID == "" {
		return badRequest(c, "session_id is required")
	}
	if req.Source == "" {
		req.Source = store.SourceExternalAgent
	}

	result := &store.AppendedResult{
		Source: req.Source,
		Output: req.Output,
	}
	if err := s.Store.AppendContext(c.Request().Context(), req.SessionID, result); err != nil {
		return storeUnavailable(c)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"success":    true,
		"append_id":  result.AppendID,
		"session_id": req.SessionID,
	})
}
