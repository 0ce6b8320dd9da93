package rollout

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/relay/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	calls := 0
	store.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	return store
}

func TestCreateAppendLoad(t *testing.T) {
	store := newTestStore(t)

	r, err := store.Create("sess-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	msgs := []models.ChatMessage{
		{Role: models.RoleUser, Text: "hi", Images: []models.ChatImageAttachment{{MimeType: "image/png"}}},
		{Role: models.RoleAssistant, Text: "hello"},
	}
	if err := r.AppendAll(msgs); err != nil {
		t.Fatalf("AppendAll() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	loaded, err := store.LoadPath(r.Path())
	if err != nil {
		t.Fatalf("LoadPath() error = %v", err)
	}
	if loaded.Meta.SessionID != "sess-1" || loaded.Meta.Version != Version {
		t.Errorf("meta = %+v", loaded.Meta)
	}
	if len(loaded.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(loaded.Messages))
	}
	if loaded.Messages[0].Role != models.RoleUser || loaded.Messages[0].Text != "hi" {
		t.Errorf("message[0] = %+v", loaded.Messages[0])
	}
	if loaded.Messages[1].Text != "hello" {
		t.Errorf("message[1] = %+v", loaded.Messages[1])
	}
}

func TestAppendAfterClose(t *testing.T) {
	store := newTestStore(t)
	r, err := store.Create("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if err := r.Append(models.ChatMessage{Role: models.RoleUser, Text: "late"}); err == nil {
		t.Error("Append() after Close should fail")
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		r, err := store.Create(id)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Close(); err != nil {
			t.Fatal(err)
		}
	}

	metas, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(metas) != 3 {
		t.Fatalf("List() = %d entries, want 3", len(metas))
	}
	want := []string{"c", "b", "a"}
	for i, meta := range metas {
		if meta.SessionID != want[i] {
			t.Errorf("metas[%d].SessionID = %q, want %q", i, meta.SessionID, want[i])
		}
	}
}

func TestLoadByID(t *testing.T) {
	store := newTestStore(t)
	r, err := store.Create("sess-9")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Append(models.ChatMessage{Role: models.RoleUser, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}

	byRollout, err := store.LoadByID(r.ID())
	if err != nil {
		t.Fatalf("LoadByID(rollout id) error = %v", err)
	}
	bySession, err := store.LoadByID("sess-9")
	if err != nil {
		t.Fatalf("LoadByID(session id) error = %v", err)
	}
	if byRollout.Meta.ID != bySession.Meta.ID {
		t.Error("id and session lookups disagree")
	}

	if _, err := store.LoadByID("nope"); err == nil {
		t.Error("LoadByID(unknown) should fail")
	}
}

func TestLatest(t *testing.T) {
	store := newTestStore(t)

	latest, err := store.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest != nil {
		t.Errorf("Latest() on empty store = %+v", latest)
	}

	for _, id := range []string{"first", "second"} {
		r, err := store.Create(id)
		if err != nil {
			t.Fatal(err)
		}
		if err := r.Close(); err != nil {
			t.Fatal(err)
		}
	}

	latest, err = store.Latest()
	if err != nil {
		t.Fatalf("Latest() error = %v", err)
	}
	if latest == nil || latest.Meta.SessionID != "second" {
		t.Errorf("Latest() = %+v, want session second", latest)
	}
}

func TestLoadPathRejectsGarbage(t *testing.T) {
	store := newTestStore(t)
	path := filepath.Join(store.dir, "garbage.jsonl")
	if err := os.WriteFile(path, []byte(`{"type":"message","role":"user"}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadPath(path); err == nil || !strings.Contains(err.Error(), "session_meta") {
		t.Errorf("LoadPath() error = %v, want header error", err)
	}
}
