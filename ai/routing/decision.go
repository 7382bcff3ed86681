package routing

// Dimensions are the nine per-turn decision dimensions assessed in stage two.
type Dimensions struct {
	EmotionalComplexity string `json:"emotional_complexity"`       // low | med | high
	ProfessionalTone    bool   `json:"professional_tone_required"`
	CreativeRequirement string `json:"creative_requirement"`       // none | low | med | high
	TechnicalComplexity string `json:"technical_complexity"`       // simple | moderate | complex
	ResponseLength      string `json:"response_length"`            // short | med | long
	EngagementLevel     string `json:"engagement_level"`           // informational | conversational | interactive
	ContextDependency   string `json:"context_dependency"`         // none | session | historical
	ReasoningType       string `json:"reasoning_type"`             // logical | emotional | creative | analytical
}

// SequentialRewrite reports whether the two-model sequential path applies:
// a structured draft from the fast provider rewritten by the fluent provider.
func (d Dimensions) SequentialRewrite() bool {
	return d.ProfessionalTone && (d.CreativeRequirement == "med" || d.CreativeRequirement == "high")
}

// Decision is the classifier output for one turn.
type Decision struct {
	Intent      Intent            `json:"intent_tag"`
	Parameters  map[string]string `json:"parameters,omitempty"`
	Confidence  float64           `json:"confidence"`
	Lane        Lane              `json:"routing_lane"`
	Dimensions  Dimensions        `json:"dimensions"`
	Explanation string            `json:"explanation,omitempty"`
}

// DefaultDecision is the substitute used when every classification attempt
// failed. The turn still gets a reply through the LLM lane.
func DefaultDecision() Decision {
	return Decision{
		Intent:      IntentGeneralChat,
		Confidence:  0.5,
		Lane:        LaneLLMReply,
		Dimensions:  defaultDimensions(IntentGeneralChat),
		Explanation: "classifier unavailable, default decision",
	}
}

// defaultDimensions returns sensible stage-two defaults per tag family,
// used when the dimension classifier fails.
func defaultDimensions(intent Intent) Dimensions {
	d := Dimensions{
		EmotionalComplexity: "low",
		CreativeRequirement: "none",
		TechnicalComplexity: "simple",
		ResponseLength:      "med",
		EngagementLevel:     "conversational",
		ContextDependency:   "session",
		ReasoningType:       "logical",
	}

	switch intent.Family() {
	case FamilyMail, FamilyLinkedIn:
		d.EngagementLevel = "informational"
		d.ResponseLength = "short"
		d.ReasoningType = "analytical"
	case FamilyWeather, FamilySearch, FamilyScrape:
		d.EngagementLevel = "informational"
		d.ResponseLength = "short"
		d.ContextDependency = "none"
	case FamilyCreative:
		d.CreativeRequirement = "high"
		d.ResponseLength = "long"
		d.ReasoningType = "creative"
	case FamilyAction:
		d.ProfessionalTone = intent == IntentSendEmail
		d.CreativeRequirement = "low"
		d.ReasoningType = "analytical"
	case FamilyMemory:
		d.ResponseLength = "short"
		d.ContextDependency = "historical"
	case FamilyChat:
		d.EmotionalComplexity = "med"
		d.ReasoningType = "emotional"
	}
	return d
}
