// Package server owns the HTTP process: middleware, route mounting, and
// lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/porterhq/porter/internal/profile"
	"github.com/porterhq/porter/plugin/chat_apps/whatsapp"
	apiv1 "github.com/porterhq/porter/server/router/api/v1"
)

const shutdownTimeout = 10 * time.Second

// requestsPerSecond bounds each client ip. Bursts cover a short flurry of
// bridge retries.
const requestsPerSecond = 20

type Server struct {
	profile *profile.Profile
	echo    *echo.Echo
}

// NewServer assembles the echo instance and mounts the API and bridge routes.
func NewServer(_ context.Context, p *profile.Profile, api *apiv1.APIV1Service, bridge *whatsapp.Gateway) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit("2M"))
	e.Use(middleware.RateLimiter(middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(requestsPerSecond),
			Burst:     requestsPerSecond * 3,
			ExpiresIn: 3 * time.Minute,
		},
	)))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
			)
			return nil
		},
	}))

	api.Register(e)
	if bridge != nil {
		bridge.Register(e.Group("/api/mcp"))
	}

	return &Server{profile: p, echo: e}, nil
}

// Start begins serving in the background; startup errors other than a clean
// close are reported through the returned channel.
func (s *Server) Start(_ context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
		if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(context.Context) {
	// Detached so the drain window survives the caller's cancellation.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	slog.Info("server stopped")
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }
