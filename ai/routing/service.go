package routing

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/porterhq/porter/ai/core/llm"
)

// ErrClassifierUnavailable means every LLM attempt failed. The caller must
// substitute DefaultDecision and continue; this error never reaches the user.
var ErrClassifierUnavailable = errors.New("routing: classifier unavailable")

// Request carries one turn into the classifier.
type Request struct {
	SessionID     string
	Text          string
	RecentContext string // compact prompt-form context from the store
	MemorySummary string // personal context from the memory layer
}

// Engine is the two-stage intent classifier.
type Engine struct {
	rules   *RuleMatcher
	fast    llm.Service
	history *HistoryTracker
}

// NewEngine creates a classifier over the fast structured provider.
func NewEngine(fast llm.Service) *Engine {
	return &Engine{
		rules:   NewRuleMatcher(),
		fast:    fast,
		history: NewHistoryTracker(),
	}
}

// History exposes the rolling per-session decision window.
func (e *Engine) History() *HistoryTracker {
	return e.history
}

// Classify produces the turn's IntentDecision.
//
// Stage one consults the phrase table; a hit fixes the tag and the LLM is
// used only to enrich dimensions. On a miss the fast provider classifies the
// text against the taxonomy; malformed output gets one stricter retry before
// falling back to general_chat. Only total provider failure surfaces as
// ErrClassifierUnavailable.
func (e *Engine) Classify(ctx context.Context, req Request) (Decision, error) {
	if req.SessionID == "" || strings.TrimSpace(req.Text) == "" {
		return Decision{}, errors.New("routing: session_id and text are required")
	}

	start := time.Now()
	var decision Decision

	if hit := e.rules.Match(req.Text); hit.Matched {
		decision = Decision{
			Intent:      hit.Intent,
			Parameters:  hit.Parameters,
			Confidence:  hit.Confidence,
			Explanation: "phrase table match",
		}
	} else {
		var err error
		decision, err = e.classifyLLM(ctx, req)
		if err != nil {
			return Decision{}, err
		}
	}

	decision.Dimensions = e.assessDimensions(ctx, decision.Intent, req)
	if e.history.SharesTopic(req.SessionID, decision.Intent) {
		decision.Dimensions.ContextDependency = escalateDependency(decision.Dimensions.ContextDependency)
	}
	decision.Lane = decision.Intent.Lane()

	e.history.Record(req.SessionID, decision.Intent)

	slog.Debug("turn classified",
		"session_id", req.SessionID,
		"intent", decision.Intent,
		"lane", decision.Lane,
		"confidence", decision.Confidence,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return decision, nil
}

const classifySystemPrompt = `You are an intent classifier for a personal assistant.
Classify the user's message into exactly one of these intent tags:

%TAGS%

Reply with a single JSON object:
{"intent_tag": "<tag>", "parameters": {"<slot>": "<value>"}, "confidence": <0..1>, "explanation": "<one sentence>"}

Slot fields by family: weather -> location, days; email -> recipient_name, subject, topic;
search/scrape -> query, url; post package -> topic. Omit slots you cannot fill.`

const classifyStrictPrompt = `Return ONLY a JSON object with keys intent_tag, parameters, confidence, explanation. No prose, no markdown fences.`

// llmDecision is the wire shape expected back from the classifier prompt.
type llmDecision struct {
	IntentTag   string            `json:"intent_tag"`
	Parameters  map[string]string `json:"parameters"`
	Confidence  float64           `json:"confidence"`
	Explanation string            `json:"explanation"`
}

func (e *Engine) classifyLLM(ctx context.Context, req Request) (Decision, error) {
	if e.fast == nil {
		return Decision{}, ErrClassifierUnavailable
	}
	system := strings.Replace(classifySystemPrompt, "%TAGS%", tagListing(), 1)
	user := req.Text
	if req.RecentContext != "" || req.MemorySummary != "" {
		var b strings.Builder
		if req.MemorySummary != "" {
			b.WriteString("Personal context:\n")
			b.WriteString(req.MemorySummary)
			b.WriteString("\n\n")
		}
		if req.RecentContext != "" {
			b.WriteString("Recent conversation:\n")
			b.WriteString(req.RecentContext)
			b.WriteString("\n\n")
		}
		b.WriteString("Message: ")
		b.WriteString(req.Text)
		user = b.String()
	}

	opts := llm.Options{JSONMode: true, Temperature: 0.1, MaxTokens: 512}

	raw, err := e.fast.Complete(ctx, system, user, opts)
	if err != nil {
		// One retry with a shortened prompt before giving up.
		raw, err = e.fast.Complete(ctx, classifyStrictPrompt, req.Text, opts)
		if err != nil {
			slog.Warn("classifier providers failed", "session_id", req.SessionID, "error", err)
			return Decision{}, ErrClassifierUnavailable
		}
	}

	parsed, ok := parseDecision(raw)
	if !ok {
		// Malformed output: one stricter retry, then fall back to general_chat.
		raw, err = e.fast.Complete(ctx, classifyStrictPrompt, req.Text, opts)
		if err != nil {
			return Decision{}, ErrClassifierUnavailable
		}
		parsed, ok = parseDecision(raw)
		if !ok {
			slog.Warn("classifier returned malformed JSON twice, falling back",
				"session_id", req.SessionID)
			d := DefaultDecision()
			d.Explanation = "malformed classifier output"
			return d, nil
		}
	}

	return Decision{
		Intent:      ParseIntent(parsed.IntentTag),
		Parameters:  parsed.Parameters,
		Confidence:  clampConfidence(parsed.Confidence),
		Explanation: parsed.Explanation,
	}, nil
}

// assessDimensions runs stage two. Failures of any kind fall back to the
// per-family defaults; dimensions never block a turn.
func (e *Engine) assessDimensions(ctx context.Context, intent Intent, req Request) Dimensions {
	system := `Assess the message on these dimensions and reply with one JSON object:
{"emotional_complexity":"low|med|high","professional_tone_required":true|false,
"creative_requirement":"none|low|med|high","technical_complexity":"simple|moderate|complex",
"response_length":"short|med|long","engagement_level":"informational|conversational|interactive",
"context_dependency":"none|session|historical","reasoning_type":"logical|emotional|creative|analytical"}`

	if e.fast == nil {
		return defaultDimensions(intent)
	}
	user := "Intent: " + string(intent) + "\nMessage: " + req.Text
	raw, err := e.fast.Complete(ctx, system, user, llm.Options{JSONMode: true, Temperature: 0.1, MaxTokens: 256})
	if err != nil {
		return defaultDimensions(intent)
	}

	var dims Dimensions
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &dims); err != nil {
		return defaultDimensions(intent)
	}
	return normalizeDimensions(dims, intent)
}

// normalizeDimensions replaces out-of-vocabulary values with the family default.
func normalizeDimensions(d Dimensions, intent Intent) Dimensions {
	def := defaultDimensions(intent)
	if !oneOf(d.EmotionalComplexity, "low", "med", "high") {
		d.EmotionalComplexity = def.EmotionalComplexity
	}
	if !oneOf(d.CreativeRequirement, "none", "low", "med", "high") {
		d.CreativeRequirement = def.CreativeRequirement
	}
	if !oneOf(d.TechnicalComplexity, "simple", "moderate", "complex") {
		d.TechnicalComplexity = def.TechnicalComplexity
	}
	if !oneOf(d.ResponseLength, "short", "med", "long") {
		d.ResponseLength = def.ResponseLength
	}
	if !oneOf(d.EngagementLevel, "informational", "conversational", "interactive") {
		d.EngagementLevel = def.EngagementLevel
	}
	if !oneOf(d.ContextDependency, "none", "session", "historical") {
		d.ContextDependency = def.ContextDependency
	}
	if !oneOf(d.ReasoningType, "logical", "emotional", "creative", "analytical") {
		d.ReasoningType = def.ReasoningType
	}
	return d
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func escalateDependency(dep string) string {
	switch dep {
	case "none":
		return "session"
	case "session":
		return "historical"
	default:
		return dep
	}
}

func parseDecision(raw string) (llmDecision, bool) {
	var d llmDecision
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &d); err != nil {
		return llmDecision{}, false
	}
	if d.IntentTag == "" {
		return llmDecision{}, false
	}
	return d, true
}

// extractJSONObject strips markdown fences and surrounding prose from a
// provider reply, returning the outermost {...} span.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func tagListing() string {
	tags := Catalogue()
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}
