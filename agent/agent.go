// Package agent implements the reasoning step of the remediation pipeline:
// given an incident and a working copy, it explores the checkout, edits
// files, optionally exercises the sandbox, and produces a structured
// verdict.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/sandbox"
	"github.com/jeff4444/autoduty-backend/workspace"
)

// ErrReasoning wraps failures of the reasoning loop itself, as opposed to
// ordinary tool-level errors, which are returned to the model as text.
var ErrReasoning = errors.New("reasoning error")

// Emit publishes one progress event. Implementations must not block.
type Emit func(kind string, payload map[string]any)

// Request carries everything an investigation needs to know about the
// incident and the retry it is part of.
type Request struct {
	Incident    *model.Incident
	Feedback    string
	Attempt     int
	MaxAttempts int
}

// Investigator runs one investigation attempt against a toolset and returns
// a verdict describing the proposed fix.
type Investigator interface {
	Investigate(ctx context.Context, req Request, tools *Toolset) (*model.Verdict, error)
}

// Toolset exposes the working copy and sandbox to the reasoning loop as
// named operations. Operation-local failures (missing file, bad pattern,
// budget exhausted) come back as readable strings so the model can react;
// only the toolset's own wiring can produce a Go error.
type Toolset struct {
	WC      *workspace.WorkingCopy
	Sandbox sandbox.Runtime
	Meter   *sandbox.Meter
	Emit    Emit

	// OnTerminalLine, if set, receives each sandbox output line as produced.
	OnTerminalLine func(stream, line, label string)
}

// Names of the operations Execute dispatches on.
const (
	ToolReadFile         = "read_file"
	ToolWriteFile        = "write_file"
	ToolSearchAndReplace = "search_and_replace"
	ToolGrep             = "grep"
	ToolListDirectory    = "list_directory"
	ToolRunSandbox       = "run_sandbox"
)

func (t *Toolset) emit(kind string, payload map[string]any) {
	if t.Emit != nil {
		t.Emit(kind, payload)
	}
}

func strArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// Execute dispatches one tool call and returns the observation text handed
// back to the model.
func (t *Toolset) Execute(ctx context.Context, name string, args map[string]any) string {
	t.emit("tool_call", map[string]any{"tool": name, "args": args})
	result := t.dispatch(ctx, name, args)
	t.emit("tool_result", map[string]any{"tool": name, "result": model.Truncate(result, 500)})
	return result
}

func (t *Toolset) dispatch(ctx context.Context, name string, args map[string]any) string {
	switch name {
	case ToolReadFile:
		content, err := t.WC.Read(strArg(args, "path"))
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return content

	case ToolWriteFile:
		path := strArg(args, "path")
		if err := t.WC.Write(path, strArg(args, "content")); err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("wrote %s", path)

	case ToolSearchAndReplace:
		path := strArg(args, "path")
		n, err := t.WC.Replace(path, strArg(args, "old"), strArg(args, "new"))
		if err != nil {
			if errors.Is(err, workspace.ErrNotFoundInFile) {
				return fmt.Sprintf("error: old text not found in %s (0 occurrences)", path)
			}
			return fmt.Sprintf("error: %v", err)
		}
		return fmt.Sprintf("replaced first of %d occurrence(s) in %s", n, path)

	case ToolGrep:
		matches, err := t.WC.Search(strArg(args, "pattern"), strArg(args, "path"))
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		if len(matches) == 0 {
			return "no matches"
		}
		return strings.Join(matches, "\n")

	case ToolListDirectory:
		entries, err := t.WC.List(strArg(args, "path"))
		if err != nil {
			return fmt.Sprintf("error: %v", err)
		}
		if len(entries) == 0 {
			return "(empty directory)"
		}
		return strings.Join(entries, "\n")

	case ToolRunSandbox:
		return t.runSandbox(ctx, args)

	default:
		return fmt.Sprintf("error: unknown tool %q", name)
	}
}

func (t *Toolset) runSandbox(ctx context.Context, args map[string]any) string {
	if t.Sandbox == nil {
		return "error: no sandbox is configured"
	}
	if t.Meter != nil {
		if ok, msg := t.Meter.Allow(); !ok {
			return msg
		}
	}

	label := strArg(args, "label")
	if label == "" {
		label = "agent-run"
	}
	res, err := t.Sandbox.Run(ctx, sandbox.RunOptions{
		Script: strArg(args, "script"),
		Label:  label,
		OnLine: func(stream, line string) {
			t.emit("sandbox_output", map[string]any{"stream": stream, "data": line, "label": label})
			if t.OnTerminalLine != nil {
				t.OnTerminalLine(stream, line, label)
			}
		},
	})
	if err != nil {
		return fmt.Sprintf("error: sandbox unavailable: %v", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d", res.ExitCode)
	if res.TimedOut {
		b.WriteString(" (timed out)")
	}
	if res.Stdout != "" {
		b.WriteString("\nstdout:\n" + model.Truncate(res.Stdout, 4000))
	}
	if res.Stderr != "" {
		b.WriteString("\nstderr:\n" + model.Truncate(res.Stderr, 4000))
	}
	return b.String()
}

const systemPrompt = `You are an expert software engineer investigating a production error.

You explore a checkout of the affected repository using tools, find the root
cause, and apply a minimal fix by editing files in place.

Respond with exactly one JSON object per turn, nothing else. Either a tool
call:

  {"tool": "<name>", "args": {...}}

or, once the fix is applied, a final verdict:

  {"verdict": {"root_cause": "...", "fix_description": "...",
               "affected_files": ["..."],
               "reproduction_confirmed": true,
               "fix_verified": true}}

Available tools:
  read_file          args: {"path": "relative/path"}
  write_file         args: {"path": "...", "content": "..."}
  search_and_replace args: {"path": "...", "old": "...", "new": "..."}
                     (replaces the first occurrence only)
  grep               args: {"pattern": "regexp", "path": "subdir or empty"}
  list_directory     args: {"path": "subdir or empty"}
  run_sandbox        args: {"script": "...", "label": "reproduce-bug"}
                     (isolated runtime; no repo filesystem, no network)

Rules:
- Read a file before editing it.
- Keep the fix minimal; do not refactor unrelated code.
- Do not return a verdict before you have actually edited at least one file,
  unless the error is not fixable from this repository.`

// BuildPrompt renders the incident context into the user prompt for one
// investigation attempt.
func BuildPrompt(req Request) string {
	inc := req.Incident
	var b strings.Builder

	fmt.Fprintf(&b, "A production error occurred.\n\n")
	fmt.Fprintf(&b, "Error type: %s\n", inc.ErrorType)
	fmt.Fprintf(&b, "Source file: %s\n", inc.SourceFile)
	fmt.Fprintf(&b, "Repository: %s (branch %s)\n\n", inc.RepoURL, inc.Branch)

	if inc.Traceback != "" {
		fmt.Fprintf(&b, "Traceback:\n%s\n\n", inc.Traceback)
	}

	if len(inc.Logs) > 0 {
		logs := inc.Logs
		if len(logs) > 50 {
			logs = logs[len(logs)-50:]
		}
		fmt.Fprintf(&b, "Recent application logs (last %d lines):\n%s\n\n",
			len(logs), strings.Join(logs, "\n"))
	}

	if inc.OriginalCode != "" {
		fmt.Fprintf(&b, "Source of %s as reported by the application:\n```\n%s\n```\n\n",
			inc.SourceFile, inc.OriginalCode)
	}

	if req.Feedback != "" {
		fmt.Fprintf(&b, "This is attempt %d of %d. A previous fix attempt failed verification. All edits from that attempt have been kept; review and correct them.\n\n", req.Attempt, req.MaxAttempts)
		fmt.Fprintf(&b, "Feedback from the failed attempt:\n%s\n\n", req.Feedback)
	}

	b.WriteString("Investigate the error, apply a fix, and return your verdict.")
	return b.String()
}
