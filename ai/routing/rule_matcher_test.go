package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleMatcher_MailboxVariants(t *testing.T) {
	matcher := NewRuleMatcher()

	testCases := []struct {
		input    string
		expected Intent
	}{
		{"Check my Gmail inbox", IntentCheckGmailInbox},
		{"check gmail please", IntentCheckGmailInbox},
		{"any new email for me?", IntentCheckGmailInbox},
		{"do I have unread emails", IntentCheckGmailUnread},
		{"summarize my inbox", IntentSummarizeGmailEmails},
		{`search my email for "invoices"`, IntentSearchGmailEmails},
	}

	for _, tc := range testCases {
		result := matcher.Match(tc.input)
		require.True(t, result.Matched, "expected match for %q", tc.input)
		assert.Equal(t, tc.expected, result.Intent, "input %q", tc.input)
		assert.GreaterOrEqual(t, result.Confidence, 0.9, "input %q", tc.input)
	}
}

func TestRuleMatcher_WeatherParameters(t *testing.T) {
	matcher := NewRuleMatcher()

	result := matcher.Match("Will it rain tomorrow in Delhi")
	require.True(t, result.Matched)
	assert.Equal(t, IntentGetWeatherForecast, result.Intent)
	assert.Equal(t, "Delhi", result.Parameters["location"])
	assert.Equal(t, "1", result.Parameters["days"])

	result = matcher.Match("what's the weather in San Francisco")
	require.True(t, result.Matched)
	assert.Equal(t, IntentGetCurrentWeather, result.Intent)
	assert.Equal(t, "San Francisco", result.Parameters["location"])

	// Current-weather phrasing with a temporal qualifier is a forecast ask.
	result = matcher.Match("What's the weather in Delhi tomorrow?")
	require.True(t, result.Matched)
	assert.Equal(t, IntentGetWeatherForecast, result.Intent)
	assert.Equal(t, "Delhi", result.Parameters["location"])
	assert.Equal(t, "1", result.Parameters["days"])

	result = matcher.Match("what's the weather in Pune in 3 days")
	require.True(t, result.Matched)
	assert.Equal(t, IntentGetWeatherForecast, result.Intent)
	assert.Equal(t, "3", result.Parameters["days"])
}

func TestRuleMatcher_ForecastHorizon(t *testing.T) {
	matcher := NewRuleMatcher()

	result := matcher.Match("weather forecast for Mumbai in 3 days")
	require.True(t, result.Matched)
	assert.Equal(t, IntentGetWeatherForecast, result.Intent)
	assert.Equal(t, "3", result.Parameters["days"])
}

func TestRuleMatcher_ScrapeURL(t *testing.T) {
	matcher := NewRuleMatcher()

	result := matcher.Match("check the price of this https://shop.example/item/42")
	require.True(t, result.Matched)
	assert.Equal(t, IntentScrapePrice, result.Intent)
	assert.Equal(t, "https://shop.example/item/42", result.Parameters["url"])
}

func TestRuleMatcher_MemoryCommands(t *testing.T) {
	matcher := NewRuleMatcher()

	for _, input := range []string{
		"remember I like samosas and murmura",
		"what do you know about me?",
		"forget that I live in Pune",
	} {
		result := matcher.Match(input)
		require.True(t, result.Matched, "input %q", input)
		assert.Equal(t, IntentMemoryOperation, result.Intent, "input %q", input)
	}
}

func TestRuleMatcher_NoMatch(t *testing.T) {
	matcher := NewRuleMatcher()

	for _, input := range []string{
		"Hello, how are you?",
		"tell me a story about dragons",
		"",
		"   ",
	} {
		result := matcher.Match(input)
		assert.False(t, result.Matched, "input %q", input)
	}
}

func TestLaneDerivation(t *testing.T) {
	assert.Equal(t, LaneApprovalGated, IntentSendEmail.Lane())
	assert.Equal(t, LaneApprovalGated, IntentGeneratePostPromptPackage.Lane())
	assert.Equal(t, LaneDirectAuto, IntentGetWeatherForecast.Lane())
	assert.Equal(t, LaneDirectAuto, IntentWebSearch.Lane())
	assert.Equal(t, LaneLLMReply, IntentGeneralChat.Lane())
	assert.Equal(t, LaneLLMReply, IntentCreativeWriting.Lane())
	assert.Equal(t, LaneLLMReply, IntentSetReminder.Lane())
}

func TestParseIntentFallback(t *testing.T) {
	assert.Equal(t, IntentGeneralChat, ParseIntent("totally_unknown_tag"))
	assert.Equal(t, IntentSendEmail, ParseIntent("send_email"))
}
