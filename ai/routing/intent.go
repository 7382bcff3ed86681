// Package routing implements the two-stage intent classifier and lane router.
package routing

// Intent is a tag from the closed intent catalogue.
type Intent string

const (
	IntentGeneralChat               Intent = "general_chat"
	IntentSendEmail                 Intent = "send_email"
	IntentCreateEvent               Intent = "create_event"
	IntentAddTodo                   Intent = "add_todo"
	IntentSetReminder               Intent = "set_reminder"
	IntentGeneratePostPromptPackage Intent = "generate_post_prompt_package"
	IntentWebSearch                 Intent = "web_search"
	IntentCheckGmailInbox           Intent = "check_gmail_inbox"
	IntentCheckGmailUnread          Intent = "check_gmail_unread"
	IntentEmailInboxCheck           Intent = "email_inbox_check"
	IntentSummarizeGmailEmails      Intent = "summarize_gmail_emails"
	IntentSearchGmailEmails         Intent = "search_gmail_emails"
	IntentCategorizeGmailEmails     Intent = "categorize_gmail_emails"
	IntentGmailSmartActions         Intent = "gmail_smart_actions"
	IntentCheckLinkedInNotifs       Intent = "check_linkedin_notifications"
	IntentLinkedInJobAlerts         Intent = "linkedin_job_alerts"
	IntentScrapePrice               Intent = "scrape_price"
	IntentScrapeProductListings     Intent = "scrape_product_listings"
	IntentScrapeNewsArticles        Intent = "scrape_news_articles"
	IntentCheckWebsiteUpdates       Intent = "check_website_updates"
	IntentMonitorCompetitors        Intent = "monitor_competitors"
	IntentGetCurrentWeather         Intent = "get_current_weather"
	IntentGetWeatherForecast        Intent = "get_weather_forecast"
	IntentGetAirQualityIndex        Intent = "get_air_quality_index"
	IntentGetWeatherAlerts          Intent = "get_weather_alerts"
	IntentGetSunTimes               Intent = "get_sun_times"
	IntentCreativeWriting           Intent = "creative_writing"
	IntentMemoryOperation           Intent = "memory_operation"
)

// Lane identifies the downstream execution path for a classified turn.
type Lane string

const (
	LaneDirectAuto    Lane = "direct_auto"
	LaneLLMReply      Lane = "llm_reply"
	LaneApprovalGated Lane = "approval_gated"
)

// Family groups intents for dimension defaults and tool registration.
type Family string

const (
	FamilyChat     Family = "chat"
	FamilyMail     Family = "gmail"
	FamilyWeather  Family = "weather"
	FamilySearch   Family = "search"
	FamilyLinkedIn Family = "linkedin"
	FamilyScrape   Family = "scrape"
	FamilyAction   Family = "action"
	FamilyCreative Family = "creative"
	FamilyMemory   Family = "memory"
)

// catalogue holds every known intent and its family.
var catalogue = map[Intent]Family{
	IntentGeneralChat:               FamilyChat,
	IntentSendEmail:                 FamilyAction,
	IntentCreateEvent:               FamilyAction,
	IntentAddTodo:                   FamilyAction,
	IntentSetReminder:               FamilyAction,
	IntentGeneratePostPromptPackage: FamilyAction,
	IntentWebSearch:                 FamilySearch,
	IntentCheckGmailInbox:           FamilyMail,
	IntentCheckGmailUnread:          FamilyMail,
	IntentEmailInboxCheck:           FamilyMail,
	IntentSummarizeGmailEmails:      FamilyMail,
	IntentSearchGmailEmails:         FamilyMail,
	IntentCategorizeGmailEmails:     FamilyMail,
	IntentGmailSmartActions:         FamilyMail,
	IntentCheckLinkedInNotifs:       FamilyLinkedIn,
	IntentLinkedInJobAlerts:         FamilyLinkedIn,
	IntentScrapePrice:               FamilyScrape,
	IntentScrapeProductListings:     FamilyScrape,
	IntentScrapeNewsArticles:        FamilyScrape,
	IntentCheckWebsiteUpdates:       FamilyScrape,
	IntentMonitorCompetitors:        FamilyScrape,
	IntentGetCurrentWeather:         FamilyWeather,
	IntentGetWeatherForecast:        FamilyWeather,
	IntentGetAirQualityIndex:        FamilyWeather,
	IntentGetWeatherAlerts:          FamilyWeather,
	IntentGetSunTimes:               FamilyWeather,
	IntentCreativeWriting:           FamilyCreative,
	IntentMemoryOperation:           FamilyMemory,
}

// directAutomation is the set of tags executed as bounded tool calls without
// user approval. Built as the union of the operator tables; see DESIGN.md.
var directAutomation = map[Intent]bool{
	IntentWebSearch:             true,
	IntentCheckGmailInbox:       true,
	IntentCheckGmailUnread:      true,
	IntentEmailInboxCheck:       true,
	IntentSummarizeGmailEmails:  true,
	IntentSearchGmailEmails:     true,
	IntentCategorizeGmailEmails: true,
	IntentGmailSmartActions:     true,
	IntentCheckLinkedInNotifs:   true,
	IntentLinkedInJobAlerts:     true,
	IntentScrapePrice:           true,
	IntentScrapeProductListings: true,
	IntentScrapeNewsArticles:    true,
	IntentCheckWebsiteUpdates:   true,
	IntentMonitorCompetitors:    true,
	IntentGetCurrentWeather:     true,
	IntentGetWeatherForecast:    true,
	IntentGetAirQualityIndex:    true,
	IntentGetWeatherAlerts:      true,
	IntentGetSunTimes:           true,
}

// approvalGated is the set of side-effectful tags that require confirmation.
var approvalGated = map[Intent]bool{
	IntentSendEmail:                 true,
	IntentGeneratePostPromptPackage: true,
}

// Known reports whether tag is in the catalogue.
func Known(tag string) bool {
	_, ok := catalogue[Intent(tag)]
	return ok
}

// ParseIntent maps a raw tag to a catalogue intent, falling back to
// general_chat for anything unknown.
func ParseIntent(tag string) Intent {
	if Known(tag) {
		return Intent(tag)
	}
	return IntentGeneralChat
}

// Family returns the intent's family grouping.
func (i Intent) Family() Family {
	if f, ok := catalogue[i]; ok {
		return f
	}
	return FamilyChat
}

// DirectAutomation reports whether the intent runs a bounded tool call.
func (i Intent) DirectAutomation() bool {
	return directAutomation[i]
}

// ApprovalGated reports whether the intent requires user confirmation.
func (i Intent) ApprovalGated() bool {
	return approvalGated[i]
}

// Lane derives the execution lane. Pure function of the tag.
func (i Intent) Lane() Lane {
	switch {
	case approvalGated[i]:
		return LaneApprovalGated
	case directAutomation[i]:
		return LaneDirectAuto
	default:
		return LaneLLMReply
	}
}

// Catalogue returns every known intent tag. Order is not significant.
func Catalogue() []Intent {
	out := make([]Intent, 0, len(catalogue))
	for i := range catalogue {
		out = append(out, i)
	}
	return out
}
