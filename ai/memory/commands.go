package memory

import "strings"

// Command detection is deliberately conservative: only unmistakable phrasings
// trigger a memory action, everything else is ActionNone.

var storePrefixes = []string{
	"remember that ",
	"remember ",
	"don't forget that ",
	"don't forget ",
	"dont forget ",
	"note that ",
	"keep in mind that ",
	"keep in mind ",
}

var forgetPrefixes = []string{
	"forget that ",
	"forget about ",
	"forget ",
	"stop remembering ",
}

var recallPhrases = []string{
	"what do you know about me",
	"what do you remember",
	"what have i told you",
	"tell me what you know about me",
	"do you remember anything about me",
}

func isStoreCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range storePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func isForgetCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range forgetPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func isRecallCommand(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range recallPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func stripStorePrefix(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range storePrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(lower[len(p):])
		}
	}
	return strings.TrimSpace(lower)
}

func stripForgetPrefix(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, p := range forgetPrefixes {
		if strings.HasPrefix(lower, p) {
			return strings.TrimSpace(lower[len(p):])
		}
	}
	return strings.TrimSpace(lower)
}

// isBroadRecall reports whether the query asks for everything rather than a
// specific topic.
func isBroadRecall(normalized string) bool {
	for _, p := range recallPhrases {
		if strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}
