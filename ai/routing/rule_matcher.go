package routing

import (
	"regexp"
	"strings"
)

// Pre-compiled parameter extraction patterns.
var (
	locationRegex   = regexp.MustCompile(`\b(?:in|at|for)\s+([A-Z][A-Za-z]*(?:\s+[A-Z][A-Za-z]*)*)`)
	tomorrowRegex   = regexp.MustCompile(`(?i)\btomorrow\b`)
	daysAheadRegex  = regexp.MustCompile(`(?i)\b(?:next|in)\s+(\d{1,2})\s+days?\b`)
	urlRegex        = regexp.MustCompile(`https?://\S+`)
	quotedTermRegex = regexp.MustCompile(`"([^"]+)"|'([^']+)'`)
)

// phraseRule maps verbatim and near-verbatim phrases to an intent tag.
type phraseRule struct {
	intent     Intent
	confidence float64
	phrases    []string // matched as lowercase substrings
}

// phraseTable is the stage-one fast path. Ordering matters: the first rule
// whose phrase matches wins, so the more specific rules come first.
var phraseTable = []phraseRule{
	{IntentCheckGmailUnread, 0.95, []string{
		"unread email", "unread emails", "unread mail", "any unread",
	}},
	{IntentSummarizeGmailEmails, 0.95, []string{
		"summarize my email", "summarize my inbox", "summarise my email",
		"summarize emails", "email summary",
	}},
	{IntentSearchGmailEmails, 0.92, []string{
		"search my email", "search my inbox", "find email from", "find emails from",
		"search gmail for",
	}},
	{IntentCategorizeGmailEmails, 0.92, []string{
		"categorize my email", "categorise my email", "sort my inbox", "organize my inbox",
	}},
	{IntentCheckGmailInbox, 0.95, []string{
		"check my gmail", "check gmail", "check my inbox", "check my email",
		"check my mail", "gmail inbox", "what's in my inbox", "whats in my inbox",
		"any new email", "any new mail",
	}},
	{IntentGetWeatherForecast, 0.95, []string{
		"weather tomorrow", "tomorrow's weather", "weather forecast", "forecast for",
		"will it rain", "is it going to rain", "chance of rain",
	}},
	{IntentGetCurrentWeather, 0.92, []string{
		"current weather", "weather right now", "weather now", "how hot is it",
		"how cold is it", "temperature in", "temperature outside", "what's the weather",
		"whats the weather",
	}},
	{IntentGetAirQualityIndex, 0.95, []string{
		"air quality", "aqi", "pollution level",
	}},
	{IntentGetWeatherAlerts, 0.95, []string{
		"weather alert", "weather alerts", "weather warning", "storm warning",
	}},
	{IntentGetSunTimes, 0.95, []string{
		"sunrise", "sunset", "sun times",
	}},
	{IntentCheckLinkedInNotifs, 0.95, []string{
		"linkedin notification", "linkedin notifications", "check linkedin",
	}},
	{IntentLinkedInJobAlerts, 0.95, []string{
		"job alert", "job alerts", "linkedin job", "new jobs on linkedin",
	}},
	{IntentScrapePrice, 0.9, []string{
		"price of", "check the price", "track the price", "how much does it cost on",
	}},
	{IntentScrapeNewsArticles, 0.9, []string{
		"scrape news", "latest news from", "pull the news", "news articles from",
	}},
	{IntentCheckWebsiteUpdates, 0.9, []string{
		"website update", "website changed", "check the site for changes",
		"monitor the website",
	}},
	{IntentMonitorCompetitors, 0.9, []string{
		"monitor competitor", "competitor update", "track competitors",
	}},
	{IntentWebSearch, 0.9, []string{
		"search the web", "web search", "google for", "look up online",
		"search online for",
	}},
	{IntentSendEmail, 0.92, []string{
		"send an email", "send email", "email to", "write an email", "compose an email",
		"mail to", "send a mail",
	}},
	{IntentGeneratePostPromptPackage, 0.92, []string{
		"post prompt package", "prompt package", "generate a post about",
		"linkedin post about", "create a post about",
	}},
	{IntentSetReminder, 0.9, []string{
		"remind me", "set a reminder",
	}},
	{IntentAddTodo, 0.9, []string{
		"add a todo", "add to my todo", "to-do list", "todo list",
	}},
	{IntentCreateEvent, 0.9, []string{
		"create an event", "schedule a meeting", "put on my calendar", "calendar event",
	}},
	{IntentMemoryOperation, 0.95, []string{
		"remember that", "remember i", "remember my", "don't forget that",
		"forget that", "forget what i", "what do you know about me",
		"what do you remember",
	}},
}

// RuleMatcher is the stage-one classifier: a curated phrase table matched
// against the lowercased utterance. Target latency ~0ms.
type RuleMatcher struct {
	table []phraseRule
}

// NewRuleMatcher creates a matcher over the built-in phrase table.
func NewRuleMatcher() *RuleMatcher {
	return &RuleMatcher{table: phraseTable}
}

// MatchResult is a stage-one hit.
type MatchResult struct {
	Intent     Intent
	Parameters map[string]string
	Confidence float64
	Matched    bool
}

// Match runs the phrase table against the input. On a hit the decision tag is
// final; stage two is consulted only for dimensions.
func (m *RuleMatcher) Match(input string) MatchResult {
	lower := strings.ToLower(strings.TrimSpace(input))
	if lower == "" {
		return MatchResult{}
	}

	for _, rule := range m.table {
		for _, phrase := range rule.phrases {
			if strings.Contains(lower, phrase) {
				intent := rule.intent
				// "What's the weather tomorrow" phrases like current
				// weather but asks for a forecast; a temporal qualifier
				// promotes the tag.
				if intent == IntentGetCurrentWeather && hasForecastHorizon(input) {
					intent = IntentGetWeatherForecast
				}
				return MatchResult{
					Intent:     intent,
					Parameters: extractParameters(intent, input),
					Confidence: rule.confidence,
					Matched:    true,
				}
			}
		}
	}
	return MatchResult{}
}

func hasForecastHorizon(input string) bool {
	return tomorrowRegex.MatchString(input) || daysAheadRegex.MatchString(input)
}

// extractParameters pulls slot values the phrase table can recover without an
// LLM round trip. The stage-two classifier may enrich these later.
func extractParameters(intent Intent, input string) map[string]string {
	params := map[string]string{}

	switch intent.Family() {
	case FamilyWeather:
		if loc := extractLocation(input); loc != "" {
			params["location"] = loc
		}
		if intent == IntentGetWeatherForecast {
			params["days"] = extractDays(input)
		}
	case FamilyScrape:
		if url := urlRegex.FindString(input); url != "" {
			params["url"] = url
		}
	case FamilySearch:
		if q := extractQuotedTerm(input); q != "" {
			params["query"] = q
		}
	case FamilyMail:
		if intent == IntentSearchGmailEmails {
			if q := extractQuotedTerm(input); q != "" {
				params["query"] = q
			}
		}
	}

	if len(params) == 0 {
		return nil
	}
	return params
}

// extractLocation finds a capitalised place name after in/at/for.
func extractLocation(input string) string {
	m := locationRegex.FindStringSubmatch(input)
	if len(m) < 2 {
		return ""
	}
	// Trailing temporal words are not part of the place name.
	loc := strings.TrimSpace(m[1])
	for _, cut := range []string{" Tomorrow", " Today", " Tonight", " Next"} {
		if idx := strings.Index(loc, cut); idx > 0 {
			loc = loc[:idx]
		}
	}
	return loc
}

// extractDays returns the forecast horizon in days, defaulting to "1".
func extractDays(input string) string {
	if m := daysAheadRegex.FindStringSubmatch(input); len(m) == 2 {
		return m[1]
	}
	if tomorrowRegex.MatchString(input) {
		return "1"
	}
	return "1"
}

func extractQuotedTerm(input string) string {
	m := quotedTermRegex.FindStringSubmatch(input)
	if len(m) == 3 {
		if m[1] != "" {
			return m[1]
		}
		return m[2]
	}
	return ""
}
