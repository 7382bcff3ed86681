package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter_RecordsAndServes(t *testing.T) {
	e := NewExporter(Config{Registry: prometheus.NewRegistry()})

	e.RecordTurn("get_weather_current", "direct_auto", "web", 120*time.Millisecond, true)
	e.RecordToolCall("weather", 80*time.Millisecond, false, "timeout")
	e.RecordCacheHit("warm")
	e.RecordCacheMiss("hot")
	e.RecordLLMUsage("deepseek-chat", "fast", 100, 40, 300*time.Millisecond)
	e.RecordWebhook("send_email", true)
	e.SetPendingActions(1)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "porter_gateway_turns_total")
	assert.Contains(t, body, `intent="get_weather_current"`)
	assert.Contains(t, body, "porter_tools_errors_total")
	assert.Contains(t, body, `error_type="timeout"`)
	assert.Contains(t, body, "porter_store_cache_hits_total")
	assert.Contains(t, body, "porter_llm_tokens_total")
	assert.Contains(t, body, "porter_approval_pending_actions 1")
}

func TestDefaultConfig_Buckets(t *testing.T) {
	cfg := DefaultConfig()
	require.NotEmpty(t, cfg.LatencyBuckets)
	for i := 1; i < len(cfg.LatencyBuckets); i++ {
		assert.Greater(t, cfg.LatencyBuckets[i], cfg.LatencyBuckets[i-1])
	}
}
