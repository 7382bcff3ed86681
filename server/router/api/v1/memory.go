package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *APIV1Service) handleMemoryStats(c echo.Context) error {
	if s.Memory == nil {
		return memoryDisabled(c)
	}
	return c.JSON(http.StatusOK, s.Memory.Stats())
}

type memoryProcessRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

func (s *APIV1Service) handleMemoryProcess(c echo.Context) error {
	if s.Memory == nil {
		return memoryDisabled(c)
	}
	var req memoryProcessRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.Message == "" {
		return badRequest(c, "message is required")
	}

	res, err := s.Memory.Process(c.Request().Context(), req.Message, req.SessionID)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "memory processing failed"})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"action":   res.Action,
		"response": res.Reply,
		"facts":    res.Facts,
	})
}

func (s *APIV1Service) handleMemoryContext(c echo.Context) error {
	if s.Memory == nil {
		return memoryDisabled(c)
	}
	sessionID := c.Param("session_id")
	return c.JSON(http.StatusOK, map[string]string{
		"session_id": sessionID,
		"context":    s.Memory.ContextForAI(sessionID),
	})
}

func memoryDisabled(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "semantic memory is disabled"})
}
