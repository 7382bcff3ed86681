package dispatch

import (
	"sync"

	"golang.org/x/oauth2"
)

// CredentialStore holds delegated OAuth tokens per session for tools that
// act on a user's account (the mail family). Tokens arrive out of band via
// the connect flow; the dispatcher only asks whether a valid one exists.
type CredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token // session_id -> token
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{tokens: make(map[string]*oauth2.Token)}
}

// Put stores the session's delegated token.
func (c *CredentialStore) Put(sessionID string, token *oauth2.Token) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[sessionID] = token
}

// Token returns the session's token, nil when absent.
func (c *CredentialStore) Token(sessionID string) *oauth2.Token {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tokens[sessionID]
}

// Valid reports whether the session holds a usable token.
func (c *CredentialStore) Valid(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	token, ok := c.tokens[sessionID]
	return ok && token.Valid()
}

// Revoke drops the session's token.
func (c *CredentialStore) Revoke(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, sessionID)
}
