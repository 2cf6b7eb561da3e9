package model

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusDetected, StatusInvestigating},
		{StatusInvestigating, StatusFixProposed},
		{StatusFixProposed, StatusSimulating},
		{StatusSimulating, StatusVerified},
		{StatusSimulating, StatusInvestigating}, // retry loop
		{StatusVerified, StatusPRCreated},
		{StatusFixProposed, StatusPRCreated}, // approve without sandbox phase
		{StatusPRCreated, StatusResolved},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusDetected, StatusVerified},
		{StatusFailed, StatusInvestigating},
		{StatusResolved, StatusDetected},
		{StatusVerified, StatusSimulating},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("expected %s -> %s to be denied", tc.from, tc.to)
		}
	}
}

func TestTerminal(t *testing.T) {
	for _, s := range []Status{StatusVerified, StatusFailed, StatusPRCreated, StatusResolved} {
		if !Terminal(s) {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusDetected, StatusInvestigating, StatusFixProposed, StatusSimulating} {
		if Terminal(s) {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	reproduced := true
	inc := &Incident{
		ID:                "abc123",
		Status:            StatusSimulating,
		Logs:              []string{"line one"},
		FileEdits:         []FileEdit{{Path: "src/a.ts"}},
		TerminalLog:       []TerminalLogEntry{{Stream: "stdout", Data: "hi", Timestamp: time.Now()}},
		SandboxReproduced: &reproduced,
	}

	c := inc.Clone()
	c.Logs[0] = "mutated"
	c.FileEdits[0].Path = "src/b.ts"
	*c.SandboxReproduced = false

	if inc.Logs[0] != "line one" {
		t.Fatal("clone shares Logs slice")
	}
	if inc.FileEdits[0].Path != "src/a.ts" {
		t.Fatal("clone shares FileEdits slice")
	}
	if *inc.SandboxReproduced != true {
		t.Fatal("clone shares SandboxReproduced pointer")
	}
}

func TestSummary(t *testing.T) {
	inc := &Incident{
		ID:         "abc123",
		ErrorType:  "TypeError",
		SourceFile: "src/lib/constants.ts",
		Status:     StatusVerified,
		RootCause:  "off-by-one in pagination",
	}
	s := inc.Summary()
	if s.ID != inc.ID || s.ErrorType != inc.ErrorType || s.Status != StatusVerified {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.RootCause != inc.RootCause {
		t.Fatalf("expected root cause in summary, got %q", s.RootCause)
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("hello world", 8); got != "hello..." {
		t.Fatalf("expected %q, got %q", "hello...", got)
	}
	if got := Truncate("short", 10); got != "short" {
		t.Fatalf("expected unchanged string, got %q", got)
	}
	if got := Truncate("abc", 2); got != "ab" {
		t.Fatalf("expected %q, got %q", "ab", got)
	}
}
