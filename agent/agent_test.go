package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/sandbox"
	"github.com/jeff4444/autoduty-backend/workspace"
)

// scriptedClient replays canned responses in order.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Complete(_ context.Context, _, user string) (string, error) {
	if c.calls >= len(c.responses) {
		return "", errors.New("no more scripted responses")
	}
	r := c.responses[c.calls]
	c.calls++
	return r, nil
}

// stubRuntime returns a fixed result and records the scripts it ran.
type stubRuntime struct {
	result  sandbox.Result
	scripts []string
}

func (r *stubRuntime) Run(_ context.Context, opts sandbox.RunOptions) (*sandbox.Result, error) {
	r.scripts = append(r.scripts, opts.Script)
	res := r.result
	res.Label = opts.Label
	if opts.OnLine != nil && res.Stdout != "" {
		for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
			opts.OnLine("stdout", line)
		}
	}
	return &res, nil
}

func newTestWC(t *testing.T, files map[string]string) *workspace.WorkingCopy {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		abs := filepath.Join(root, path)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return workspace.Open(root)
}

func testRequest() Request {
	return Request{
		Incident: &model.Incident{
			ID:         "abc123",
			ErrorType:  "RangeError",
			Traceback:  "at computeTotal (src/cart.ts:42)",
			SourceFile: "src/cart.ts",
			RepoURL:    "https://github.com/acme/shop",
			Branch:     "main",
		},
		Attempt:     1,
		MaxAttempts: 3,
	}
}

func TestLoopToolsThenVerdict(t *testing.T) {
	wc := newTestWC(t, map[string]string{
		"src/cart.ts": "const total = items.reduce(sum);\n",
	})

	client := &scriptedClient{responses: []string{
		`{"tool": "read_file", "args": {"path": "src/cart.ts"}}`,
		`{"tool": "search_and_replace", "args": {"path": "src/cart.ts", "old": "items.reduce(sum)", "new": "items.reduce(sum, 0)"}}`,
		`{"verdict": {"root_cause": "reduce without initial value", "fix_description": "seed the accumulator", "affected_files": ["src/cart.ts"], "reproduction_confirmed": true, "fix_verified": true}}`,
	}}

	var kinds []string
	tools := &Toolset{
		WC: wc,
		Emit: func(kind string, _ map[string]any) {
			kinds = append(kinds, kind)
		},
	}

	inv := &LoopInvestigator{Client: client}
	verdict, err := inv.Investigate(t.Context(), testRequest(), tools)
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if verdict.RootCause != "reduce without initial value" || !verdict.FixVerified {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}

	got, err := wc.Read("src/cart.ts")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "items.reduce(sum, 0)") {
		t.Fatalf("edit not applied: %q", got)
	}

	// Two tool calls, each emitting a call and a result event.
	want := []string{"tool_call", "tool_result", "tool_call", "tool_result"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), kinds)
	}
	for i, k := range want {
		if kinds[i] != k {
			t.Fatalf("event %d: expected %s, got %s", i, k, kinds[i])
		}
	}
}

func TestLoopMalformedRetryThenRecover(t *testing.T) {
	wc := newTestWC(t, nil)
	client := &scriptedClient{responses: []string{
		"I think the problem is in cart.ts",
		`{"verdict": {"root_cause": "x", "fix_description": "y", "affected_files": []}}`,
	}}

	inv := &LoopInvestigator{Client: client}
	verdict, err := inv.Investigate(t.Context(), testRequest(), &Toolset{WC: wc})
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if verdict.RootCause != "x" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestLoopMalformedExhausted(t *testing.T) {
	wc := newTestWC(t, nil)
	client := &scriptedClient{responses: []string{
		"not json", "still not json", "nope",
	}}

	inv := &LoopInvestigator{Client: client, MaxMalformed: 2}
	_, err := inv.Investigate(t.Context(), testRequest(), &Toolset{WC: wc})
	if !errors.Is(err, ErrReasoning) {
		t.Fatalf("expected ErrReasoning, got %v", err)
	}
}

func TestLoopMaxStepsExceeded(t *testing.T) {
	wc := newTestWC(t, map[string]string{"a.txt": "x\n"})
	client := &scriptedClient{responses: []string{
		`{"tool": "read_file", "args": {"path": "a.txt"}}`,
		`{"tool": "read_file", "args": {"path": "a.txt"}}`,
		`{"tool": "read_file", "args": {"path": "a.txt"}}`,
	}}

	inv := &LoopInvestigator{Client: client, MaxSteps: 3}
	_, err := inv.Investigate(t.Context(), testRequest(), &Toolset{WC: wc})
	if !errors.Is(err, ErrReasoning) {
		t.Fatalf("expected ErrReasoning, got %v", err)
	}
}

func TestLoopFencedJSONAccepted(t *testing.T) {
	wc := newTestWC(t, nil)
	client := &scriptedClient{responses: []string{
		"```json\n{\"verdict\": {\"root_cause\": \"z\", \"fix_description\": \"w\", \"affected_files\": []}}\n```",
	}}

	inv := &LoopInvestigator{Client: client}
	verdict, err := inv.Investigate(t.Context(), testRequest(), &Toolset{WC: wc})
	if err != nil {
		t.Fatalf("investigate: %v", err)
	}
	if verdict.RootCause != "z" {
		t.Fatalf("unexpected verdict: %+v", verdict)
	}
}

func TestToolErrorsReturnedAsText(t *testing.T) {
	wc := newTestWC(t, nil)
	tools := &Toolset{WC: wc}

	got := tools.Execute(t.Context(), ToolReadFile, map[string]any{"path": "missing.txt"})
	if !strings.HasPrefix(got, "error:") {
		t.Fatalf("expected error text, got %q", got)
	}

	got = tools.Execute(t.Context(), "self_destruct", nil)
	if !strings.Contains(got, "unknown tool") {
		t.Fatalf("expected unknown tool text, got %q", got)
	}
}

func TestRunSandboxMetered(t *testing.T) {
	wc := newTestWC(t, nil)
	rt := &stubRuntime{result: sandbox.Result{Stdout: "ok\n", ExitCode: 0}}
	tools := &Toolset{WC: wc, Sandbox: rt, Meter: sandbox.NewMeter(1)}

	got := tools.Execute(t.Context(), ToolRunSandbox, map[string]any{"script": "console.log('ok')"})
	if !strings.Contains(got, "exit code: 0") {
		t.Fatalf("expected run result, got %q", got)
	}

	// Budget exhausted: the refusal is an observation, not an error.
	got = tools.Execute(t.Context(), ToolRunSandbox, map[string]any{"script": "console.log('again')"})
	if !strings.Contains(got, "budget of 1 exhausted") {
		t.Fatalf("expected budget message, got %q", got)
	}
	if len(rt.scripts) != 1 {
		t.Fatalf("expected 1 sandbox run, got %d", len(rt.scripts))
	}
}

func TestRunSandboxForwardsTerminalLines(t *testing.T) {
	wc := newTestWC(t, nil)
	rt := &stubRuntime{result: sandbox.Result{Stdout: "line1\nline2\n", ExitCode: 0}}

	var lines []string
	tools := &Toolset{
		WC:      wc,
		Sandbox: rt,
		OnTerminalLine: func(stream, line, label string) {
			lines = append(lines, label+"/"+stream+": "+line)
		},
	}

	tools.Execute(t.Context(), ToolRunSandbox, map[string]any{"script": "x", "label": "reproduce-bug"})
	if len(lines) != 2 || lines[0] != "reproduce-bug/stdout: line1" {
		t.Fatalf("unexpected terminal lines: %v", lines)
	}
}

func TestBuildPromptIncludesFeedback(t *testing.T) {
	req := testRequest()
	req.Attempt = 2
	req.Feedback = "Verification failed: exit code 1"

	prompt := BuildPrompt(req)
	if !strings.Contains(prompt, "attempt 2 of 3") {
		t.Fatalf("prompt missing attempt counter:\n%s", prompt)
	}
	if !strings.Contains(prompt, "Verification failed: exit code 1") {
		t.Fatalf("prompt missing feedback:\n%s", prompt)
	}

	fresh := BuildPrompt(testRequest())
	if strings.Contains(fresh, "previous fix attempt") {
		t.Fatal("first attempt must not mention prior failures")
	}
}

func TestBuildPromptCapsLogs(t *testing.T) {
	req := testRequest()
	for i := 0; i < 80; i++ {
		req.Incident.Logs = append(req.Incident.Logs, "log line")
	}
	prompt := BuildPrompt(req)
	if !strings.Contains(prompt, "last 50 lines") {
		t.Fatalf("expected log cap note:\n%s", model.Truncate(prompt, 300))
	}
}
