// Package extract pulls structured fields out of marked-up LLM replies.
//
// Providers are prompted to label their output ("Subject:", "Body:",
// "📝 Post Description", ...). All parsing of those labels lives here so the
// rest of the engine never touches reply text with regexes. Extraction
// failure is reported to the caller, which falls back to the raw reply.
package extract

import (
	"regexp"
	"strings"
)

var (
	recipientRegex = regexp.MustCompile(`(?mi)^\s*(?:\*\*to:?\*\*:?|to:)\s*(.+)$`)
	subjectRegex   = regexp.MustCompile(`(?mi)^\s*(?:\*\*subject:?\*\*:?|subject:)\s*(.+)$`)
	bodyRegex      = regexp.MustCompile(`(?msi)^\s*(?:\*\*body:?\*\*:?|body:)\s*\n?(.+)\z`)

	postDescRegex = regexp.MustCompile(`(?msi)(?:📝\s*)?post\s+description(?:\s*\*{0,2})?\s*:?\s*\n?(.*?)(?:\n\s*(?:🤖|#{1,3}\s|\*{2})?\s*ai\s+instructions|\z)`)
	aiInstrRegex  = regexp.MustCompile(`(?msi)(?:🤖\s*)?ai\s+instructions(?:\s*\*{0,2})?\s*:?\s*\n?(.*)\z`)

	headingMarkup = regexp.MustCompile(`(?m)^[#*\s]+|[#*\s]+$`)
)

// EmailFields are the textual artefacts of a drafted email.
type EmailFields struct {
	Recipient string
	Subject   string
	Body      string
}

// Email extracts drafted email fields from a marked-up reply.
// ok is false when neither subject nor body could be located.
func Email(raw string) (fields EmailFields, ok bool) {
	if m := recipientRegex.FindStringSubmatch(raw); len(m) == 2 {
		fields.Recipient = cleanLine(m[1])
	}
	if m := subjectRegex.FindStringSubmatch(raw); len(m) == 2 {
		fields.Subject = cleanLine(m[1])
	}
	if m := bodyRegex.FindStringSubmatch(raw); len(m) == 2 {
		fields.Body = strings.TrimSpace(m[1])
	}
	return fields, fields.Subject != "" || fields.Body != ""
}

// PostPackage is the two-artefact output of the post prompt package flow:
// a first-person post description and a directive for a downstream generator.
type PostPackage struct {
	Description  string
	Instructions string
}

// Post extracts the post prompt package artefacts.
// ok is false when the description section is missing.
func Post(raw string) (pkg PostPackage, ok bool) {
	if m := postDescRegex.FindStringSubmatch(raw); len(m) == 2 {
		pkg.Description = cleanBlock(m[1])
	}
	if m := aiInstrRegex.FindStringSubmatch(raw); len(m) == 2 {
		pkg.Instructions = cleanBlock(m[1])
	}
	return pkg, pkg.Description != ""
}

// cleanLine strips markdown emphasis and surrounding whitespace from a
// single-line field.
func cleanLine(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "*_")
	return strings.TrimSpace(s)
}

// cleanBlock trims a multi-line section, dropping a leading heading remnant.
func cleanBlock(s string) string {
	s = strings.TrimSpace(s)
	lines := strings.Split(s, "\n")
	for len(lines) > 0 {
		head := headingMarkup.ReplaceAllString(lines[0], "")
		if head == "" {
			lines = lines[1:]
			continue
		}
		break
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
