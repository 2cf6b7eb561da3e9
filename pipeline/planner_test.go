package pipeline

import (
	"testing"

	"github.com/jeff4444/autoduty-backend/model"
)

func TestExecPlannerPrefersSourceFile(t *testing.T) {
	inc := &model.Incident{ID: "abc123", SourceFile: "src/b.ts"}
	edits := []model.FileEdit{
		{Path: "src/a.ts", OriginalContent: "old a", NewContent: "new a"},
		{Path: "src/b.ts", OriginalContent: "old b", NewContent: "new b"},
	}

	reproduce, verify, err := ExecPlanner{}.Plan(t.Context(), inc, edits)
	if err != nil {
		t.Fatal(err)
	}
	if reproduce != "old b" || verify != "new b" {
		t.Fatalf("expected source-file edit, got %q / %q", reproduce, verify)
	}
}

func TestExecPlannerUsesInlineOriginal(t *testing.T) {
	inc := &model.Incident{ID: "abc123", SourceFile: "src/a.ts", OriginalCode: "inline original"}
	edits := []model.FileEdit{{Path: "src/a.ts", OriginalContent: "old", NewContent: "new"}}

	reproduce, verify, err := ExecPlanner{}.Plan(t.Context(), inc, edits)
	if err != nil {
		t.Fatal(err)
	}
	if reproduce != "inline original" || verify != "new" {
		t.Fatalf("got %q / %q", reproduce, verify)
	}
}

func TestExecPlannerNoEdits(t *testing.T) {
	if _, _, err := (ExecPlanner{}).Plan(t.Context(), &model.Incident{ID: "abc123"}, nil); err == nil {
		t.Fatal("expected error for empty edit list")
	}
}
