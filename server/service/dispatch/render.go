package dispatch

import (
	"fmt"
	"strings"
)

// Renderers turn structured tool payloads into the user-visible reply.
// List-shaped payloads become Markdown; numeric facts are stated verbatim.

func renderCurrentWeather(payload map[string]any, params map[string]string) string {
	location := stringField(payload, "location", orDefault(params["location"], "your area"))
	condition := stringField(payload, "condition", "unknown conditions")
	temp, hasTemp := numField(payload, "temperature")
	chance, hasChance := numField(payload, "rain_chance")

	var b strings.Builder
	fmt.Fprintf(&b, "Right now in %s: %s", location, condition)
	if hasTemp {
		fmt.Fprintf(&b, ", %.0f°C", temp)
	}
	if hasChance {
		fmt.Fprintf(&b, ". %s — %.0f%% chance of rain.", rainVerdict(chance), chance)
	} else {
		b.WriteString(".")
	}
	return b.String()
}

func renderForecast(payload map[string]any, params map[string]string) string {
	location := stringField(payload, "location", orDefault(params["location"], "your area"))
	condition := stringField(payload, "condition", "mixed conditions")
	chance, hasChance := numField(payload, "rain_chance")
	high, hasHigh := numField(payload, "high")
	low, hasLow := numField(payload, "low")

	var b strings.Builder
	if hasChance {
		fmt.Fprintf(&b, "%s, %.0f%% chance of rain in %s", rainVerdict(chance), chance, location)
	} else {
		fmt.Fprintf(&b, "Forecast for %s", location)
	}
	fmt.Fprintf(&b, " — expect %s", condition)
	if hasHigh && hasLow {
		fmt.Fprintf(&b, ", high %.0f°C / low %.0f°C", high, low)
	}
	b.WriteString(".")
	return b.String()
}

// rainVerdict gives the yes/no lead-in the user actually asked for.
func rainVerdict(chance float64) string {
	if chance >= 40 {
		return "Yes, rain is likely"
	}
	return "No, rain looks unlikely"
}

func renderAirQuality(payload map[string]any, params map[string]string) string {
	location := stringField(payload, "location", orDefault(params["location"], "your area"))
	category := stringField(payload, "category", "unknown")
	if aqi, ok := numField(payload, "aqi"); ok {
		return fmt.Sprintf("Air quality in %s: AQI %.0f (%s).", location, aqi, category)
	}
	return fmt.Sprintf("Air quality in %s: %s.", location, category)
}

func renderWeatherAlerts(payload map[string]any, params map[string]string) string {
	location := stringField(payload, "location", orDefault(params["location"], "your area"))
	alerts, _ := payload["alerts"].([]any)
	if len(alerts) == 0 {
		return fmt.Sprintf("No active weather alerts for %s.", location)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active weather alerts for %s:\n", location)
	for _, item := range alerts {
		alert, _ := item.(map[string]any)
		fmt.Fprintf(&b, "- **%s**: %s\n",
			stringField(alert, "title", "Alert"),
			stringField(alert, "description", ""))
	}
	return strings.TrimSpace(b.String())
}

func renderSunTimes(payload map[string]any, params map[string]string) string {
	location := stringField(payload, "location", orDefault(params["location"], "your area"))
	return fmt.Sprintf("In %s the sun rises at %s and sets at %s.",
		location,
		stringField(payload, "sunrise", "?"),
		stringField(payload, "sunset", "?"))
}

func renderEmailList(payload map[string]any, _ map[string]string) string {
	emails, _ := payload["emails"].([]any)
	if len(emails) == 0 {
		return "Your inbox is clear — no new emails."
	}
	var b strings.Builder
	if unread, ok := numField(payload, "unread"); ok {
		fmt.Fprintf(&b, "You have %.0f unread email(s):\n\n", unread)
	} else {
		fmt.Fprintf(&b, "Here's what's in your inbox:\n\n")
	}
	for _, item := range emails {
		email, _ := item.(map[string]any)
		fmt.Fprintf(&b, "- **%s** — %s\n",
			stringField(email, "subject", "(no subject)"),
			stringField(email, "from", "unknown sender"))
		if snippet := stringField(email, "snippet", ""); snippet != "" {
			fmt.Fprintf(&b, "  %s\n", snippet)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderEmailSummary(payload map[string]any, params map[string]string) string {
	if summary := stringField(payload, "summary", ""); summary != "" {
		return summary
	}
	return renderEmailList(payload, params)
}

func renderLinkedIn(payload map[string]any, _ map[string]string) string {
	notifications, _ := payload["notifications"].([]any)
	if len(notifications) == 0 {
		return "Nothing new on LinkedIn right now."
	}
	var b strings.Builder
	b.WriteString("LinkedIn updates:\n\n")
	for _, item := range notifications {
		n, _ := item.(map[string]any)
		title := stringField(n, "title", "Update")
		if company := stringField(n, "company", ""); company != "" {
			fmt.Fprintf(&b, "- **%s** at %s\n", title, company)
		} else {
			fmt.Fprintf(&b, "- %s\n", title)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderScrape(payload map[string]any, _ map[string]string) string {
	items, _ := payload["items"].([]any)
	if len(items) == 0 {
		return "I didn't find anything at that source."
	}
	var b strings.Builder
	b.WriteString("Here's what I found:\n\n")
	for _, item := range items {
		entry, _ := item.(map[string]any)
		title := stringField(entry, "title", "Item")
		if price := stringField(entry, "price", ""); price != "" {
			fmt.Fprintf(&b, "- **%s** — %s\n", title, price)
		} else {
			fmt.Fprintf(&b, "- %s\n", title)
		}
		if url := stringField(entry, "url", ""); url != "" {
			fmt.Fprintf(&b, "  %s\n", url)
		}
	}
	return strings.TrimSpace(b.String())
}

func renderSearch(payload map[string]any, params map[string]string) string {
	results, _ := payload["results"].([]any)
	if len(results) == 0 {
		query := orDefault(params["query"], "that")
		return fmt.Sprintf("I couldn't find anything for %q.", query)
	}
	var b strings.Builder
	b.WriteString("Here's what I found:\n\n")
	for _, item := range results {
		r, _ := item.(map[string]any)
		fmt.Fprintf(&b, "- **%s**\n", stringField(r, "title", "Result"))
		if snippet := stringField(r, "snippet", ""); snippet != "" {
			fmt.Fprintf(&b, "  %s\n", snippet)
		}
		if url := stringField(r, "url", ""); url != "" {
			fmt.Fprintf(&b, "  %s\n", url)
		}
	}
	return strings.TrimSpace(b.String())
}

func stringField(m map[string]any, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func numField(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
