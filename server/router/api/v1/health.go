package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *APIV1Service) handleHealth(c echo.Context) error {
	deps := map[string]string{}
	if s.Store != nil {
		deps = s.Store.Ping(c.Request().Context())
	} else {
		deps["warm"] = "disabled"
		deps["cold"] = "disabled"
	}
	deps["fast_llm"] = providerStatus(s.Profile.FastLLM.APIKey != "" || s.Profile.FastLLM.Provider == "ollama")
	deps["fluent_llm"] = providerStatus(s.Profile.FluentLLM.APIKey != "" || s.Profile.FluentLLM.Provider == "ollama")
	deps["memory"] = providerStatus(s.Memory != nil)

	// Only the storage tiers gate liveness; unconfigured optional features
	// are reported but not degrading.
	status := "ok"
	for _, tier := range []string{"warm", "cold"} {
		if v := deps[tier]; v != "ok" && v != "disabled" {
			status = "degraded"
		}
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status":       status,
		"mode":         s.Profile.Mode,
		"version":      s.Profile.Version,
		"dependencies": deps,
	})
}

func providerStatus(configured bool) string {
	if configured {
		return "configured"
	}
	return "not_configured"
}
