package memory

import (
	"errors"
	"testing"
	"time"

	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/store"
)

func newIncident(id string, created time.Time) *model.Incident {
	return &model.Incident{
		ID:         id,
		ErrorType:  "TypeError",
		Traceback:  "at foo.ts:10",
		SourceFile: "src/foo.ts",
		RepoURL:    "https://github.com/acme/shop",
		Branch:     "main",
		Status:     model.StatusDetected,
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestCreateGetReturnsSnapshot(t *testing.T) {
	s := New()
	inc := newIncident("abc123", time.Now().UTC())
	if err := s.Create(inc); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get("abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.RootCause = "mutated by caller"

	again, _ := s.Get("abc123")
	if again.RootCause != "" {
		t.Fatal("Get must return a snapshot, not the live incident")
	}

	if _, err := s.Get("nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateWithStatusGuard(t *testing.T) {
	s := New()
	if err := s.Create(newIncident("abc123", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	err := s.Update("abc123", func(inc *model.Incident) error {
		return store.SetStatus(inc, model.StatusInvestigating)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = s.Update("abc123", func(inc *model.Incident) error {
		return store.SetStatus(inc, model.StatusResolved) // not reachable from investigating
	})
	if err == nil {
		t.Fatal("expected invalid transition to be rejected")
	}

	got, _ := s.Get("abc123")
	if got.Status != model.StatusInvestigating {
		t.Fatalf("expected status investigating, got %s", got.Status)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := New()
	base := time.Now().UTC()
	for i, id := range []string{"old00001", "mid00002", "new00003"} {
		if err := s.Create(newIncident(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := s.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 incidents, got %d", len(list))
	}
	if list[0].ID != "new00003" || list[2].ID != "old00001" {
		t.Fatalf("expected newest first, got %s .. %s", list[0].ID, list[2].ID)
	}
}

func TestAppendAndReadEvents(t *testing.T) {
	s := New()
	if err := s.Create(newIncident("abc123", time.Now().UTC())); err != nil {
		t.Fatalf("create: %v", err)
	}

	for i := 0; i < 3; i++ {
		err := s.AppendEvent(model.AgentEvent{
			IncidentID: "abc123",
			Kind:       "status_change",
			Payload:    map[string]any{"seq": i},
		})
		if err != nil {
			t.Fatalf("append event: %v", err)
		}
	}

	events, err := s.Events("abc123")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.ID <= 0 {
			t.Fatalf("event %d missing ID", i)
		}
		if i > 0 && events[i-1].ID >= ev.ID {
			t.Fatal("event IDs must be monotonically increasing")
		}
	}

	if err := s.AppendEvent(model.AgentEvent{IncidentID: "nope", Kind: "x"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
