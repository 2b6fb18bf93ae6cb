package session

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/draftforge/draftforge/core"
)

// SQLiteStore implements core.SessionStore with SQLite-backed persistence.
// It delegates lookups and history capping to an embedded InMemoryStore and
// persists sessions with write-through semantics, so a restart resumes every
// conversation where it left off.
type SQLiteStore struct {
	inner *InMemoryStore
	db    *sqlx.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id TEXT PRIMARY KEY,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL,
	position   INTEGER NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (session_id, position)
);
`

// NewSQLiteStore opens (or creates) the database at dbPath and loads all
// persisted sessions into memory.
func NewSQLiteStore(dbPath string, optFns ...func(o *InMemoryOptions)) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &SQLiteStore{inner: NewInMemoryStore(optFns...), db: db}
	if err := s.loadAll(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load sessions: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) loadAll() error {
	rows, err := s.db.Query(`SELECT s.session_id, s.created_at, s.updated_at, m.role, m.content, m.created_at
		FROM sessions s LEFT JOIN messages m ON m.session_id = s.session_id
		ORDER BY s.session_id, m.position`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var id, created, updated string
		var role, content, msgCreated *string
		if err := rows.Scan(&id, &created, &updated, &role, &content, &msgCreated); err != nil {
			return err
		}
		sess, ok := s.inner.sessions[id]
		if !ok {
			sess = core.NewSession(id)
			sess.Created, _ = time.Parse(time.RFC3339Nano, created)
			sess.Updated, _ = time.Parse(time.RFC3339Nano, updated)
			s.inner.sessions[id] = sess
		}
		if role == nil {
			continue
		}
		m := core.Message{Role: *role, Content: *content}
		if msgCreated != nil {
			m.Timestamp, _ = time.Parse(time.RFC3339Nano, *msgCreated)
		}
		sess.Messages = append(sess.Messages, m)
	}
	return rows.Err()
}

// Get returns a clone of the session, or nil when it does not exist.
func (s *SQLiteStore) Get(id string) (*core.Session, error) {
	return s.inner.Get(id)
}

// CreateOrGet returns the existing session or lazily creates and persists an
// empty one.
func (s *SQLiteStore) CreateOrGet(id string) (*core.Session, error) {
	if sess, err := s.inner.Get(id); err != nil || sess != nil {
		return sess, err
	}
	sess, err := s.inner.CreateOrGet(id)
	if err != nil {
		return nil, err
	}
	if err := s.upsertSession(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// AppendMessage adds a message to the session, creating it if needed, and
// writes the updated history through to SQLite.
func (s *SQLiteStore) AppendMessage(id string, m core.Message) error {
	if err := s.inner.AppendMessage(id, m); err != nil {
		return err
	}
	sess, err := s.inner.Get(id)
	if err != nil {
		return err
	}
	if err := s.upsertSession(sess); err != nil {
		return err
	}
	return s.rewriteMessages(sess)
}

// List returns all sessions, newest update first.
func (s *SQLiteStore) List() ([]*core.Session, error) {
	return s.inner.List()
}

// ClearAll empties both the in-memory state and the database.
func (s *SQLiteStore) ClearAll() error {
	if err := s.inner.ClearAll(); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM messages"); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM sessions")
	return err
}

// Count returns the number of stored sessions.
func (s *SQLiteStore) Count() (int, error) {
	return s.inner.Count()
}

func (s *SQLiteStore) upsertSession(sess *core.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (session_id, created_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET updated_at = excluded.updated_at`,
		sess.ID,
		sess.Created.Format(time.RFC3339Nano),
		sess.Updated.Format(time.RFC3339Nano))
	return err
}

// rewriteMessages replaces the persisted history for a session. Histories are
// small (capped) so a full rewrite keeps truncation and append in one path.
func (s *SQLiteStore) rewriteMessages(sess *core.Session) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM messages WHERE session_id = ?", sess.ID); err != nil {
		tx.Rollback()
		return err
	}
	for i, m := range sess.History() {
		if _, err := tx.Exec(
			"INSERT INTO messages (session_id, position, role, content, created_at) VALUES (?, ?, ?, ?, ?)",
			sess.ID, i, m.Role, m.Content, m.Timestamp.Format(time.RFC3339Nano),
		); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
