package sqlite

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newIncident(id string) *model.Incident {
	now := time.Now().UTC()
	return &model.Incident{
		ID:         id,
		ErrorType:  "RangeError",
		Traceback:  "at cart.ts:42",
		Logs:       []string{"GET /cart 500"},
		SourceFile: "src/cart.ts",
		RepoURL:    "https://github.com/acme/shop",
		Branch:     "main",
		Status:     model.StatusDetected,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestIncidentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	inc := newIncident("abc123")
	inc.FileEdits = []model.FileEdit{{Path: "src/cart.ts", UnifiedDiff: "--- a/src/cart.ts\n"}}

	if err := s.Create(inc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get("abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ErrorType != inc.ErrorType || got.Status != model.StatusDetected {
		t.Fatalf("unexpected incident: %+v", got)
	}
	if len(got.FileEdits) != 1 || got.FileEdits[0].Path != "src/cart.ts" {
		t.Fatalf("file edits lost in round trip: %+v", got.FileEdits)
	}
	if len(got.Logs) != 1 || got.Logs[0] != "GET /cart 500" {
		t.Fatalf("logs lost in round trip: %+v", got.Logs)
	}

	if _, err := s.Get("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdatePersists(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(newIncident("abc123")); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.Update("abc123", func(inc *model.Incident) error {
		if err := store.SetStatus(inc, model.StatusInvestigating); err != nil {
			return err
		}
		inc.RootCause = "nil dereference"
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.Get("abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusInvestigating || got.RootCause != "nil dereference" {
		t.Fatalf("update not persisted: %+v", got)
	}
}

func TestUpdateErrorRollsBack(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(newIncident("abc123")); err != nil {
		t.Fatalf("create: %v", err)
	}

	wantErr := errors.New("boom")
	err := s.Update("abc123", func(inc *model.Incident) error {
		inc.RootCause = "should not persist"
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}

	got, _ := s.Get("abc123")
	if got.RootCause != "" {
		t.Fatal("failed update must not persist changes")
	}
}

func TestEventsOrdered(t *testing.T) {
	s := newTestStore(t)
	if err := s.Create(newIncident("abc123")); err != nil {
		t.Fatalf("create: %v", err)
	}

	kinds := []string{"status_change", "tool_call", "done"}
	for _, k := range kinds {
		err := s.AppendEvent(model.AgentEvent{
			IncidentID: "abc123",
			Kind:       k,
			Payload:    map[string]any{"kind": k},
		})
		if err != nil {
			t.Fatalf("append %s: %v", k, err)
		}
	}

	events, err := s.Events("abc123")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != len(kinds) {
		t.Fatalf("expected %d events, got %d", len(kinds), len(events))
	}
	for i, ev := range events {
		if ev.Kind != kinds[i] {
			t.Fatalf("event %d: expected %s, got %s", i, kinds[i], ev.Kind)
		}
		if ev.Payload["kind"] != kinds[i] {
			t.Fatalf("payload lost in round trip: %+v", ev.Payload)
		}
	}

	if err := s.AppendEvent(model.AgentEvent{IncidentID: "nope", Kind: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UTC()
	ids := []string{"old00001", "new00002"}
	for i, id := range ids {
		inc := newIncident(id)
		inc.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := s.Create(inc); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "new00002" {
		t.Fatalf("expected newest first, got %+v", list)
	}
}
