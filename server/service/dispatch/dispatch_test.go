package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/porterhq/porter/ai/routing"
	"github.com/porterhq/porter/internal/profile"
)

func weatherDecision(intent routing.Intent, location string) routing.Decision {
	return routing.Decision{
		Intent:     intent,
		Parameters: map[string]string{"location": location, "days": "1"},
		Lane:       routing.LaneDirectAuto,
	}
}

func TestDispatch_ForecastMentionsLocationAndVerdict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tools/weather_forecast", r.URL.Path)
		var params map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		require.Equal(t, "Delhi", params["location"])
		json.NewEncoder(w).Encode(map[string]any{
			"location":    "Delhi",
			"condition":   "scattered showers",
			"rain_chance": 65,
			"high":        27,
			"low":         21,
		})
	}))
	defer srv.Close()

	d := NewDispatcher(NewHTTPGateway(srv.URL), nil, nil)
	res := d.Dispatch(context.Background(), weatherDecision(routing.IntentGetWeatherForecast, "Delhi"), "S3", "u1")

	require.True(t, res.OK)
	assert.Contains(t, res.ReplyText, "Delhi")
	assert.Contains(t, strings.ToLower(res.ReplyText), "yes")
	assert.Contains(t, res.ReplyText, "%")
	assert.Equal(t, float64(65), res.Payload["rain_chance"])
	assert.GreaterOrEqual(t, res.ExecutionMS, int64(0))
}

func TestDispatch_DryForecastSaysNo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"location": "Pune", "rain_chance": 10, "condition": "clear skies"})
	}))
	defer srv.Close()

	d := NewDispatcher(NewHTTPGateway(srv.URL), nil, nil)
	res := d.Dispatch(context.Background(), weatherDecision(routing.IntentGetWeatherForecast, "Pune"), "s", "u")
	require.True(t, res.OK)
	assert.Contains(t, strings.ToLower(res.ReplyText), "no")
	assert.Contains(t, res.ReplyText, "10%")
}

func TestDispatch_MailWithoutCredentialsShortCircuits(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := NewDispatcher(NewHTTPGateway(srv.URL), nil, nil)
	res := d.Dispatch(context.Background(),
		routing.Decision{Intent: routing.IntentCheckGmailInbox, Lane: routing.LaneDirectAuto}, "S4", "u1")

	assert.False(t, res.OK)
	assert.True(t, res.RequiresAuth)
	assert.Contains(t, strings.ToLower(res.ReplyText), "connect")
	assert.False(t, called, "no outbound tool call without credentials")
}

func TestDispatch_MailWithCredentialsCallsGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"emails": []any{
				map[string]any{"from": "a@example.com", "subject": "Hello", "snippet": "Hi there"},
			},
			"unread": 1,
		})
	}))
	defer srv.Close()

	creds := NewCredentialStore()
	creds.Put("S4", &oauth2.Token{AccessToken: "tok-123", Expiry: time.Now().Add(time.Hour)})

	d := NewDispatcher(NewHTTPGateway(srv.URL), creds, nil)
	res := d.Dispatch(context.Background(),
		routing.Decision{Intent: routing.IntentCheckGmailInbox, Lane: routing.LaneDirectAuto}, "S4", "u1")

	require.True(t, res.OK)
	assert.Contains(t, res.ReplyText, "**Hello**")
	assert.Contains(t, res.ReplyText, "1 unread")
}

func TestDispatch_UpstreamFailureRendersErrorTemplate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDispatcher(NewHTTPGateway(srv.URL), nil, nil)
	res := d.Dispatch(context.Background(), weatherDecision(routing.IntentGetCurrentWeather, "Delhi"), "s", "u")

	assert.False(t, res.OK)
	assert.Contains(t, res.ReplyText, "try again")
	assert.NotContains(t, res.ReplyText, "boom", "upstream detail never leaks to the user")
}

func TestDispatch_DisabledFamilySkipsGateway(t *testing.T) {
	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	p := &profile.Profile{DirectTools: []string{"scrape", "search"}}
	d := NewDispatcher(NewHTTPGateway(srv.URL), nil, nil)
	d.RestrictFamilies(p.DirectToolEnabled)

	res := d.Dispatch(context.Background(), weatherDecision(routing.IntentGetWeatherForecast, "Delhi"), "s", "u")
	assert.False(t, res.OK)
	assert.Contains(t, res.ReplyText, "switched off")
	assert.False(t, called, "no outbound call for a disabled family")
}

func TestDispatch_EnabledFamilyPassesGate(t *testing.T) {
	p := &profile.Profile{DirectTools: []string{"weather"}}
	d := NewDispatcher(DemoGateway{}, nil, nil)
	d.RestrictFamilies(p.DirectToolEnabled)

	res := d.Dispatch(context.Background(), weatherDecision(routing.IntentGetWeatherForecast, "Delhi"), "s", "u")
	require.True(t, res.OK)

	// An empty allow list enables everything.
	open := NewDispatcher(DemoGateway{}, nil, nil)
	open.RestrictFamilies((&profile.Profile{}).DirectToolEnabled)
	res = open.Dispatch(context.Background(), weatherDecision(routing.IntentGetCurrentWeather, "Pune"), "s", "u")
	require.True(t, res.OK)
}

func TestDispatch_UnknownIntent(t *testing.T) {
	d := NewDispatcher(DemoGateway{}, nil, nil)
	res := d.Dispatch(context.Background(), routing.Decision{Intent: routing.IntentGeneralChat}, "s", "u")
	assert.False(t, res.OK)
}

func TestDispatch_DemoGatewayAnswersWeather(t *testing.T) {
	d := NewDispatcher(DemoGateway{}, nil, nil)
	res := d.Dispatch(context.Background(), weatherDecision(routing.IntentGetWeatherForecast, "Delhi"), "s", "u")
	require.True(t, res.OK)
	assert.Contains(t, res.ReplyText, "Delhi")
	assert.Contains(t, res.ReplyText, "%")
}

func TestSupportedCoversDirectAutomationSet(t *testing.T) {
	for _, intent := range routing.Catalogue() {
		if intent.DirectAutomation() {
			assert.True(t, Supported(intent), "missing registry entry for %s", intent)
			assert.NotEmpty(t, Pending(intent))
		} else {
			assert.False(t, Supported(intent), "unexpected registry entry for %s", intent)
		}
	}
}

func TestRenderScrapeAndSearch(t *testing.T) {
	scrape := renderScrape(map[string]any{
		"items": []any{map[string]any{"title": "Widget", "price": "₹99", "url": "https://x.test/w"}},
	}, nil)
	assert.Contains(t, scrape, "**Widget** — ₹99")
	assert.Contains(t, scrape, "https://x.test/w")

	search := renderSearch(map[string]any{"results": []any{}}, map[string]string{"query": "go generics"})
	assert.Contains(t, search, "go generics")
}

func TestCredentialStore(t *testing.T) {
	creds := NewCredentialStore()
	assert.False(t, creds.Valid("s1"))

	creds.Put("s1", &oauth2.Token{AccessToken: "t", Expiry: time.Now().Add(time.Hour)})
	assert.True(t, creds.Valid("s1"))

	creds.Put("s2", &oauth2.Token{AccessToken: "t", Expiry: time.Now().Add(-time.Hour)})
	assert.False(t, creds.Valid("s2"), "expired token is not valid")

	creds.Revoke("s1")
	assert.False(t, creds.Valid("s1"))
}
