// Package v1 exposes the assistant over HTTP: the chat and approval
// endpoints, session history, memory operations, the MCP context API, and
// liveness.
package v1

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/porterhq/porter/ai/memory"
	"github.com/porterhq/porter/ai/metrics"
	"github.com/porterhq/porter/ai/pipeline"
	"github.com/porterhq/porter/internal/profile"
	"github.com/porterhq/porter/server/service/approval"
	"github.com/porterhq/porter/store"
)

// TurnPipeline is the slice of the pipeline the API calls.
type TurnPipeline interface {
	HandleTurn(ctx context.Context, turn pipeline.Turn) (*pipeline.Reply, error)
}

// SessionStore is the slice of the store the API calls. nil disables the
// endpoints that need persistence.
type SessionStore interface {
	ListTurns(ctx context.Context, sessionID string) ([]*store.Turn, error)
	DeleteTurns(ctx context.Context, sessionID string) (int64, error)
	ReadContext(ctx context.Context, sessionID string) (*store.ContextSnapshot, error)
	WriteContext(ctx context.Context, envelope *store.ContextEnvelope) error
	AppendContext(ctx context.Context, sessionID string, result *store.AppendedResult) error
	DeleteContext(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) map[string]string
}

// APIV1Service bundles the handlers and their collaborators.
type APIV1Service struct {
	Profile   *profile.Profile
	Pipeline  TurnPipeline
	Approvals *approval.Service
	Memory    *memory.Service
	Store     SessionStore
	Metrics   *metrics.Exporter
}

func NewAPIV1Service(p *profile.Profile, pl TurnPipeline, approvals *approval.Service, mem *memory.Service, st SessionStore, exporter *metrics.Exporter) *APIV1Service {
	return &APIV1Service{
		Profile:   p,
		Pipeline:  pl,
		Approvals: approvals,
		Memory:    mem,
		Store:     st,
		Metrics:   exporter,
	}
}

// Register mounts the API. The same handlers answer on the bare paths and
// under /api/v1; the bridge advertises the versioned prefix.
func (s *APIV1Service) Register(e *echo.Echo) {
	s.registerRoutes(e.Group(""))
	s.registerRoutes(e.Group("/api/v1"))

	e.GET("/health", s.handleHealth)
	if s.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))
	}

	mcp := e.Group("/mcp", s.requireMCPToken)
	mcp.GET("/read-context/:session_id", s.handleReadContext)
	mcp.POST("/write-context", s.handleWriteContext)
	mcp.POST("/append-context", s.handleAppendContext)
}

func (s *APIV1Service) registerRoutes(g *echo.Group) {
	g.POST("/chat", s.handleChat)
	g.POST("/approve", s.handleApprove)
	g.GET("/history/:session_id", s.handleGetHistory)
	g.DELETE("/history/:session_id", s.handleDeleteHistory)
	g.GET("/memory/stats", s.handleMemoryStats)
	g.POST("/memory/process", s.handleMemoryProcess)
	g.GET("/memory/context/:session_id", s.handleMemoryContext)
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": message})
}

func notFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": message})
}

func storeUnavailable(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "persistent store unavailable"})
}
