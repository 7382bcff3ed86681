package routing

import (
	"sync"
	"time"
)

const historyDepth = 10

// historyEntry is one remembered classification.
type historyEntry struct {
	intent Intent
	family Family
	at     time.Time
}

// HistoryTracker keeps a rolling window of recent decisions per session.
// Advisory only: it biases context_dependency upward when recent turns share
// a topic. Not persisted across restarts; lost updates under concurrent
// writes for the same session are accepted.
type HistoryTracker struct {
	mu       sync.Mutex
	sessions map[string][]historyEntry
}

// NewHistoryTracker creates an empty tracker.
func NewHistoryTracker() *HistoryTracker {
	return &HistoryTracker{sessions: make(map[string][]historyEntry)}
}

// Record appends a decision to the session's window, evicting the oldest
// entry past the depth bound.
func (h *HistoryTracker) Record(sessionID string, intent Intent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := append(h.sessions[sessionID], historyEntry{
		intent: intent,
		family: intent.Family(),
		at:     time.Now(),
	})
	if len(entries) > historyDepth {
		entries = entries[len(entries)-historyDepth:]
	}
	h.sessions[sessionID] = entries
}

// Recent returns the session's remembered intents, oldest first.
func (h *HistoryTracker) Recent(sessionID string) []Intent {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	out := make([]Intent, len(entries))
	for i, e := range entries {
		out[i] = e.intent
	}
	return out
}

// SharesTopic reports whether at least two of the last three decisions belong
// to the same family as the candidate intent.
func (h *HistoryTracker) SharesTopic(sessionID string, intent Intent) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.sessions[sessionID]
	if len(entries) < 2 {
		return false
	}
	start := len(entries) - 3
	if start < 0 {
		start = 0
	}
	matches := 0
	for _, e := range entries[start:] {
		if e.family == intent.Family() {
			matches++
		}
	}
	return matches >= 2
}

// Forget drops a session's window.
func (h *HistoryTracker) Forget(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
}
