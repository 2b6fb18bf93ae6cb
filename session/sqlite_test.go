package session

import (
	"path/filepath"
	"testing"

	"github.com/draftforge/draftforge/core"
)

func openTestStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store := openTestStore(t, path)
	if err := store.AppendMessage("s1", core.NewMessage(core.RoleUser, "draft a claim")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendMessage("s1", core.NewMessage(core.RoleAssistant, "1. A widget...")); err != nil {
		t.Fatalf("append: %v", err)
	}
	store.Close()

	reopened := openTestStore(t, path)
	sess, err := reopened.Get("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess == nil {
		t.Fatal("session lost after reopen")
	}
	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 messages after reopen, got %d", len(history))
	}
	if history[0].Role != core.RoleUser || history[1].Role != core.RoleAssistant {
		t.Fatalf("message order lost: %+v", history)
	}
}

func TestSQLiteStore_ClearAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store := openTestStore(t, path)
	_ = store.AppendMessage("s1", core.NewMessage(core.RoleUser, "hello"))
	_ = store.AppendMessage("s2", core.NewMessage(core.RoleUser, "world"))
	if err := store.ClearAll(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	store.Close()

	reopened := openTestStore(t, path)
	if n, _ := reopened.Count(); n != 0 {
		t.Fatalf("expected empty store after clear and reopen, got %d", n)
	}
}

func TestSQLiteStore_CapPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	store, err := NewSQLiteStore(path, func(o *InMemoryOptions) { o.MaxMessages = 2 })
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	for _, content := range []string{"a", "b", "c"} {
		_ = store.AppendMessage("s1", core.NewMessage(core.RoleUser, content))
	}
	store.Close()

	reopened := openTestStore(t, path)
	sess, _ := reopened.Get("s1")
	history := sess.History()
	if len(history) != 2 || history[0].Content != "b" {
		t.Fatalf("expected capped history [b c] persisted, got %+v", history)
	}
}
