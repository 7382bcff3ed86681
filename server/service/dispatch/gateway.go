package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// Gateway invokes one named tool with string parameters and returns its
// structured result. The dispatcher owns deadlines; implementations just
// honour the context.
type Gateway interface {
	Call(ctx context.Context, tool string, params map[string]string, token *oauth2.Token) (map[string]any, error)
}

// HTTPGateway talks to the external tool facade: POST <base>/tools/<name>
// with the parameters as a JSON object, response is a JSON object.
type HTTPGateway struct {
	baseURL string
	client  *http.Client
}

func NewHTTPGateway(baseURL string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 35 * time.Second},
	}
}

func (g *HTTPGateway) Call(ctx context.Context, tool string, params map[string]string, token *oauth2.Token) (map[string]any, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, errors.Wrap(err, "marshal tool params")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/tools/"+tool, bytes.NewBuffer(body))
	if err != nil {
		return nil, errors.Wrap(err, "build tool request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != nil {
		token.SetAuthHeader(req)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "call tool %s", tool)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(err, "read tool %s response", tool)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("tool %s returned status %d: %s", tool, resp.StatusCode, raw)
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.Wrapf(err, "decode tool %s response", tool)
	}
	return out, nil
}

// DemoGateway serves canned results so demo mode answers without any
// external tool facade.
type DemoGateway struct{}

func (DemoGateway) Call(_ context.Context, tool string, params map[string]string, _ *oauth2.Token) (map[string]any, error) {
	switch tool {
	case "weather":
		return map[string]any{
			"location":    orDefault(params["location"], "your area"),
			"condition":   "light rain",
			"temperature": float64(24),
			"rain_chance": float64(70),
			"humidity":    float64(82),
		}, nil
	case "weather_forecast":
		return map[string]any{
			"location":    orDefault(params["location"], "your area"),
			"days":        orDefault(params["days"], "1"),
			"condition":   "scattered showers",
			"rain_chance": float64(65),
			"high":        float64(27),
			"low":         float64(21),
		}, nil
	case "air_quality":
		return map[string]any{
			"location": orDefault(params["location"], "your area"),
			"aqi":      float64(112),
			"category": "unhealthy for sensitive groups",
		}, nil
	case "weather_alerts":
		return map[string]any{
			"location": orDefault(params["location"], "your area"),
			"alerts":   []any{},
		}, nil
	case "sun_times":
		return map[string]any{
			"location": orDefault(params["location"], "your area"),
			"sunrise":  "06:12",
			"sunset":   "18:47",
		}, nil
	case "web_search":
		return map[string]any{
			"query": params["query"],
			"results": []any{
				map[string]any{"title": "Demo result", "url": "https://example.com", "snippet": "Sample search result."},
			},
		}, nil
	case "gmail":
		return map[string]any{
			"emails": []any{
				map[string]any{"from": "team@example.com", "subject": "Weekly sync notes", "snippet": "Here are this week's notes."},
				map[string]any{"from": "billing@example.com", "subject": "Invoice #1042", "snippet": "Your invoice is attached."},
			},
			"unread": float64(2),
		}, nil
	case "linkedin":
		return map[string]any{
			"notifications": []any{
				map[string]any{"type": "job_alert", "title": "Go Engineer, Pune", "company": "Example Corp"},
			},
		}, nil
	case "scraper":
		return map[string]any{
			"items": []any{
				map[string]any{"title": "Sample product", "price": "₹1,299", "url": "https://example.com/p/1"},
			},
		}, nil
	default:
		return map[string]any{"result": "ok"}, nil
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
