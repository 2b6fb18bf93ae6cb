// Package session provides SessionStore implementations: a volatile in-memory
// store and a persistent SQLite backed store.
package session

import (
	"sort"
	"sync"

	"github.com/draftforge/draftforge/core"
)

// DefaultMaxMessages caps the per-session history; the oldest turns are
// dropped once the cap is exceeded.
const DefaultMaxMessages = 100

// InMemoryStore is a volatile SessionStore storing sessions in a process
// local map. It is safe for concurrent access and best suited for tests or
// ephemeral demo servers. Each returned session is cloned to prevent external
// mutation of internal state.
type InMemoryStore struct {
	mu          sync.Mutex
	sessions    map[string]*core.Session
	maxMessages int
}

// InMemoryOptions configure an InMemoryStore.
type InMemoryOptions struct {
	// MaxMessages bounds each session history. Zero or negative disables the cap.
	MaxMessages int
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore(optFns ...func(o *InMemoryOptions)) *InMemoryStore {
	opts := InMemoryOptions{MaxMessages: DefaultMaxMessages}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		sessions:    make(map[string]*core.Session),
		maxMessages: opts.MaxMessages,
	}
}

// Get returns a clone of the session, or nil when it does not exist.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	return sess.Clone(), nil
}

// CreateOrGet returns a clone of the existing session or lazily creates an
// empty one.
func (s *InMemoryStore) CreateOrGet(id string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = core.NewSession(id)
		s.sessions[id] = sess
	}
	return sess.Clone(), nil
}

// AppendMessage adds a message to the session, creating it if needed. When a
// message cap is configured the oldest turns are discarded.
func (s *InMemoryStore) AppendMessage(id string, m core.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = core.NewSession(id)
		s.sessions[id] = sess
	}
	sess.Append(m)
	if s.maxMessages > 0 {
		sess.Truncate(s.maxMessages)
	}
	return nil
}

// List returns clones of all sessions, newest update first.
func (s *InMemoryStore) List() ([]*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*core.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	return out, nil
}

// ClearAll empties the store.
func (s *InMemoryStore) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]*core.Session)
	return nil
}

// Count returns the number of stored sessions.
func (s *InMemoryStore) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions), nil
}
