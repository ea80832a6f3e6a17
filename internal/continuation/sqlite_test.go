package continuation

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"clink/internal/result"
)

func newTestSQLiteStore(t *testing.T, cfg SQLiteConfig) *SQLiteStore {
	t.Helper()
	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "continuations.db")
	}
	store, err := NewSQLiteStore(cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.CloseStore() })
	return store
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t, SQLiteConfig{})

	id, err := store.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	turn := testTurn("gemini", "summarize the design")
	turn.Role = "planner"
	turn.Prompt = "full composed prompt"
	turn.Result.SetMeta("model_used", "gemini-2.5-pro")

	conv, err := store.Append(id, turn)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(conv.Turns) != 1 {
		t.Fatalf("turns: got %d, want 1", len(conv.Turns))
	}

	got := conv.Turns[0]
	if got.Index != 0 {
		t.Errorf("index: got %d", got.Index)
	}
	if got.Agent != "gemini" || got.Role != "planner" {
		t.Errorf("identity: got %s/%s", got.Agent, got.Role)
	}
	if got.Prompt != "full composed prompt" {
		t.Errorf("prompt: got %q", got.Prompt)
	}
	if got.Result.Status != result.StatusOK {
		t.Errorf("status: got %s", got.Result.Status)
	}
	if model := got.Result.Meta("model_used"); model != "gemini-2.5-pro" {
		t.Errorf("metadata lost: %v", got.Result.Metadata)
	}
}

func TestSQLiteStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "continuations.db")

	first := newTestSQLiteStore(t, SQLiteConfig{Path: path})
	id, err := first.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := first.Append(id, testTurn("codex", "persisted question")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := first.CloseStore(); err != nil {
		t.Fatalf("close store: %v", err)
	}

	second := newTestSQLiteStore(t, SQLiteConfig{Path: path})
	conv, err := second.Get(id)
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if len(conv.Turns) != 1 || conv.Turns[0].Task != "persisted question" {
		t.Errorf("conversation did not survive reopen: %+v", conv.Turns)
	}
}

func TestSQLiteStore_UnknownID(t *testing.T) {
	store := newTestSQLiteStore(t, SQLiteConfig{})

	if _, err := store.Get("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Append("no-such-id", testTurn("codex", "x")); !errors.Is(err, ErrNotFound) {
		t.Errorf("append: expected ErrNotFound, got %v", err)
	}
	if err := store.Close("no-such-id"); !errors.Is(err, ErrNotFound) {
		t.Errorf("close: expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ConcurrentAppendsContiguous(t *testing.T) {
	store := newTestSQLiteStore(t, SQLiteConfig{})
	id, err := store.Create()
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := store.Append(id, testTurn("codex", fmt.Sprintf("task %d", i))); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	conv, err := store.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(conv.Turns) != n {
		t.Fatalf("turns: got %d, want %d", len(conv.Turns), n)
	}
	for i, turn := range conv.Turns {
		if turn.Index != i {
			t.Fatalf("index gap at position %d: got %d", i, turn.Index)
		}
	}
}

func TestSQLiteStore_SweepEvictsIdle(t *testing.T) {
	clock := time.Now()
	store := newTestSQLiteStore(t, SQLiteConfig{
		InactivityWindow: time.Hour,
		Now:              func() time.Time { return clock },
	})

	idle, _ := store.Create()
	fresh, _ := store.Create()

	clock = clock.Add(2 * time.Hour)
	if _, err := store.Append(fresh, testTurn("codex", "keepalive")); err != nil {
		t.Fatalf("append: %v", err)
	}

	evicted, err := store.Sweep()
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if evicted != 1 {
		t.Fatalf("evicted: got %d, want 1", evicted)
	}
	if _, err := store.Get(idle); !errors.Is(err, ErrNotFound) {
		t.Errorf("idle conversation survived sweep: %v", err)
	}
	if _, err := store.Get(fresh); err != nil {
		t.Errorf("fresh conversation evicted: %v", err)
	}
}

func TestSQLiteStore_Close(t *testing.T) {
	store := newTestSQLiteStore(t, SQLiteConfig{})
	id, _ := store.Create()
	if _, err := store.Append(id, testTurn("codex", "doomed")); err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := store.Close(id); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := store.Get(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after close: expected ErrNotFound, got %v", err)
	}
}
