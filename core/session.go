package core

import (
	"sync"
	"time"
)

// Conversation roles. Only user and assistant turns are stored in sessions.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn. Immutable once appended; ordering within a
// session is append order and must never change, since it determines replay
// order when handlers rebuild model context.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a message stamped with the current UTC time.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now().UTC()}
}

// Session is the per-conversation container: an opaque id plus an ordered
// message history. It is safe for concurrent access; mutations update the
// Updated timestamp.
type Session struct {
	ID       string    `json:"id"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	mu       sync.RWMutex
}

// NewSession creates an empty session with the given id.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{ID: id, Messages: []Message{}, Created: now, Updated: now}
}

// Append adds a message to the history.
func (s *Session) Append(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Messages = append(s.Messages, m)
	s.Updated = time.Now().UTC()
}

// History returns a defensive copy of the full message slice so callers
// cannot mutate internal state.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := make([]Message, len(s.Messages))
	copy(msgs, s.Messages)
	return msgs
}

// Len returns the number of stored messages.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Messages)
}

// Truncate drops the oldest messages so at most max remain. No-op when the
// history already fits.
func (s *Session) Truncate(max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if max <= 0 || len(s.Messages) <= max {
		return
	}
	s.Messages = append([]Message(nil), s.Messages[len(s.Messages)-max:]...)
	s.Updated = time.Now().UTC()
}

// Clone returns a deep copy safe for independent mutation.
func (s *Session) Clone() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clone := &Session{ID: s.ID, Messages: make([]Message, len(s.Messages)), Created: s.Created, Updated: s.Updated}
	copy(clone.Messages, s.Messages)
	return clone
}

// SessionStore persists sessions and their message histories. Implementations
// must be safe for concurrent use across distinct session ids. Concurrent
// appends to the same session id are not serialized relative to each other:
// last write order equals call completion order. Callers that need strict
// per-session ordering must serialize externally.
type SessionStore interface {
	// Get returns the session for id, or nil when it does not exist.
	Get(id string) (*Session, error)
	// CreateOrGet returns the existing session or lazily creates an empty one.
	CreateOrGet(id string) (*Session, error)
	// AppendMessage adds a message to the session, creating it if needed.
	AppendMessage(id string, m Message) error
	// List returns all stored sessions, newest update first.
	List() ([]*Session, error)
	// ClearAll empties the entire store. Administrative operation.
	ClearAll() error
	// Count returns the number of sessions currently stored.
	Count() (int, error)
}

// DocumentContent is opaque structured context supplied by the caller, e.g.
// the text the user is editing alongside the conversation.
type DocumentContent struct {
	Text       string   `json:"text"`
	Paragraphs []string `json:"paragraphs,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
}
