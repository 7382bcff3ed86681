// Package dispatch executes direct-automation tools: it enforces deadlines,
// checks delegated credentials, renders structured results, and never lets a
// tool failure fail the turn.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/porterhq/porter/ai/metrics"
	"github.com/porterhq/porter/ai/routing"
)

// ErrToolUnavailable marks a rejected or timed-out tool call. The dispatcher
// converts it into an error-template reply; callers only see Result.OK=false.
var ErrToolUnavailable = errors.New("dispatch: tool unavailable")

const (
	defaultDeadline = 15 * time.Second
	// Mail summarisation reads many messages through the facade.
	summariseDeadline = 30 * time.Second
)

// Result is the dispatcher's reply contract. The structured payload rides
// along so channels that render rich cards can use it instead of the text.
type Result struct {
	ReplyText    string         `json:"reply_text"`
	Payload      map[string]any `json:"result_payload,omitempty"`
	ExecutionMS  int64          `json:"execution_ms"`
	OK           bool           `json:"ok"`
	RequiresAuth bool           `json:"requires_auth,omitempty"`
}

type renderer func(payload map[string]any, params map[string]string) string

// toolEntry is one registry row: which facade tool to call, how to render
// success and failure, and the call's deadline.
type toolEntry struct {
	tool          string
	render        renderer
	pending       string
	errorText     string
	deadline      time.Duration
	requiresAuth  bool
	connectPrompt string
}

// registry maps every direct-automation tag to its adapter wiring. Static:
// the dispatcher never interprets tool semantics.
var registry = map[routing.Intent]toolEntry{
	routing.IntentGetCurrentWeather: {
		tool: "weather", render: renderCurrentWeather,
		pending:   "Checking the weather...",
		errorText: "I couldn't reach the weather service just now — please try again.",
	},
	routing.IntentGetWeatherForecast: {
		tool: "weather_forecast", render: renderForecast,
		pending:   "Checking the forecast...",
		errorText: "I couldn't reach the weather service just now — please try again.",
	},
	routing.IntentGetAirQualityIndex: {
		tool: "air_quality", render: renderAirQuality,
		pending:   "Checking air quality...",
		errorText: "I couldn't get air quality data just now — please try again.",
	},
	routing.IntentGetWeatherAlerts: {
		tool: "weather_alerts", render: renderWeatherAlerts,
		pending:   "Checking for weather alerts...",
		errorText: "I couldn't check weather alerts just now — please try again.",
	},
	routing.IntentGetSunTimes: {
		tool: "sun_times", render: renderSunTimes,
		pending:   "Looking up sun times...",
		errorText: "I couldn't look up sun times just now — please try again.",
	},
	routing.IntentWebSearch: {
		tool: "web_search", render: renderSearch,
		pending:   "Searching...",
		errorText: "Search isn't responding right now — please try again.",
	},
	routing.IntentCheckGmailInbox: {
		tool: "gmail", render: renderEmailList,
		pending: "Checking your inbox...", requiresAuth: true,
		errorText:     "I couldn't check your inbox just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentCheckGmailUnread: {
		tool: "gmail", render: renderEmailList,
		pending: "Checking unread mail...", requiresAuth: true,
		errorText:     "I couldn't check your inbox just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentEmailInboxCheck: {
		tool: "gmail", render: renderEmailList,
		pending: "Checking your inbox...", requiresAuth: true,
		errorText:     "I couldn't check your inbox just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentSummarizeGmailEmails: {
		tool: "gmail", render: renderEmailSummary,
		pending: "Summarising your emails...", requiresAuth: true,
		deadline:      summariseDeadline,
		errorText:     "I couldn't summarise your emails just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentSearchGmailEmails: {
		tool: "gmail", render: renderEmailList,
		pending: "Searching your mail...", requiresAuth: true,
		errorText:     "I couldn't search your mail just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentCategorizeGmailEmails: {
		tool: "gmail", render: renderEmailList,
		pending: "Sorting your inbox...", requiresAuth: true,
		errorText:     "I couldn't sort your inbox just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentGmailSmartActions: {
		tool: "gmail", render: renderEmailSummary,
		pending: "Looking at your mail...", requiresAuth: true,
		errorText:     "I couldn't act on your mail just now — please try again.",
		connectPrompt: "I need access to your Gmail first — please connect your Google account, then ask me again.",
	},
	routing.IntentCheckLinkedInNotifs: {
		tool: "linkedin", render: renderLinkedIn,
		pending:   "Checking LinkedIn...",
		errorText: "I couldn't reach LinkedIn just now — please try again.",
	},
	routing.IntentLinkedInJobAlerts: {
		tool: "linkedin", render: renderLinkedIn,
		pending:   "Checking job alerts...",
		errorText: "I couldn't check job alerts just now — please try again.",
	},
	routing.IntentScrapePrice: {
		tool: "scraper", render: renderScrape,
		pending:   "Checking that price...",
		errorText: "I couldn't read that page just now — please try again.",
	},
	routing.IntentScrapeProductListings: {
		tool: "scraper", render: renderScrape,
		pending:   "Fetching listings...",
		errorText: "I couldn't read those listings just now — please try again.",
	},
	routing.IntentScrapeNewsArticles: {
		tool: "scraper", render: renderScrape,
		pending:   "Fetching articles...",
		errorText: "I couldn't fetch those articles just now — please try again.",
	},
	routing.IntentCheckWebsiteUpdates: {
		tool: "scraper", render: renderScrape,
		pending:   "Checking that site...",
		errorText: "I couldn't check that site just now — please try again.",
	},
	routing.IntentMonitorCompetitors: {
		tool: "scraper", render: renderScrape,
		pending:   "Checking competitor pages...",
		errorText: "I couldn't check those pages just now — please try again.",
	},
}

// Dispatcher runs registry adapters through the configured gateway.
type Dispatcher struct {
	gateway Gateway
	creds   *CredentialStore
	metrics *metrics.Exporter
	enabled func(family string) bool
}

// NewDispatcher wires a gateway, the credential store, and metrics. creds
// and exporter may be nil.
func NewDispatcher(gateway Gateway, creds *CredentialStore, exporter *metrics.Exporter) *Dispatcher {
	if creds == nil {
		creds = NewCredentialStore()
	}
	return &Dispatcher{gateway: gateway, creds: creds, metrics: exporter}
}

// RestrictFamilies installs the tool-family gate, typically
// profile.DirectToolEnabled. A nil gate leaves every family enabled.
func (d *Dispatcher) RestrictFamilies(enabled func(family string) bool) {
	d.enabled = enabled
}

// Credentials exposes the store for the connect flow.
func (d *Dispatcher) Credentials() *CredentialStore { return d.creds }

// Supported reports whether the tag has a registry entry.
func Supported(intent routing.Intent) bool {
	_, ok := registry[intent]
	return ok
}

// Pending returns the preamble shown while the tool runs, for channels that
// support interim messages.
func Pending(intent routing.Intent) string {
	return registry[intent].pending
}

// Dispatch executes the decision's tool. It always returns a Result: tool
// failures become error-template replies with OK=false, never an error the
// caller must branch on.
func (d *Dispatcher) Dispatch(ctx context.Context, decision routing.Decision, sessionID, userID string) *Result {
	entry, ok := registry[decision.Intent]
	if !ok {
		return &Result{
			ReplyText: "I don't have an automation for that yet.",
			OK:        false,
		}
	}

	if d.enabled != nil && !d.enabled(string(decision.Intent.Family())) {
		return &Result{
			ReplyText: "That automation is switched off on this server.",
			OK:        false,
		}
	}

	if entry.requiresAuth && !d.creds.Valid(sessionID) {
		return &Result{
			ReplyText:    entry.connectPrompt,
			OK:           false,
			RequiresAuth: true,
		}
	}

	deadline := entry.deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var token *oauth2.Token
	if entry.requiresAuth {
		token = d.creds.Token(sessionID)
	}

	start := time.Now()
	payload, err := d.gateway.Call(callCtx, entry.tool, decision.Parameters, token)
	elapsed := time.Since(start)

	if d.metrics != nil {
		d.metrics.RecordToolCall(entry.tool, elapsed, err == nil, errorType(err))
	}
	if err != nil {
		slog.Warn("dispatch: tool call failed",
			"tool", entry.tool, "intent", decision.Intent, "session_id", sessionID, "error", err)
		return &Result{
			ReplyText:   entry.errorText,
			ExecutionMS: elapsed.Milliseconds(),
			OK:          false,
		}
	}

	return &Result{
		ReplyText:   entry.render(payload, decision.Parameters),
		Payload:     payload,
		ExecutionMS: elapsed.Milliseconds(),
		OK:          true,
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "upstream"
	}
}
