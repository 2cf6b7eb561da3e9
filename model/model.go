// Package model defines the core domain types shared across all AutoDuty
// packages. It has zero dependencies on other AutoDuty packages.
package model

import "time"

// Status represents the current state of an incident in its remediation
// lifecycle.
type Status string

const (
	// StatusDetected is the sole initial state of every incident.
	StatusDetected Status = "detected"
	// StatusInvestigating means the reasoning step is exploring the checkout.
	StatusInvestigating Status = "investigating"
	// StatusFixProposed means a structured verdict with edits exists.
	StatusFixProposed Status = "fix_proposed"
	// StatusSimulating means sandbox verification is running.
	StatusSimulating Status = "simulating"
	// StatusVerified means a passing verification result was recorded.
	StatusVerified Status = "verified"
	// StatusFailed means the incident could not be remediated.
	StatusFailed Status = "failed"
	// StatusPRCreated means a pull request with the fix was opened.
	StatusPRCreated Status = "pr_created"
	// StatusResolved means the fix was merged and the incident closed out.
	StatusResolved Status = "resolved"
)

// transitions is the declared status graph. An incident may only move along
// these edges.
var transitions = map[Status][]Status{
	StatusDetected:      {StatusInvestigating, StatusFailed},
	StatusInvestigating: {StatusFixProposed, StatusFailed},
	StatusFixProposed:   {StatusSimulating, StatusVerified, StatusFailed, StatusInvestigating, StatusPRCreated},
	StatusSimulating:    {StatusVerified, StatusFailed, StatusInvestigating},
	StatusVerified:      {StatusPRCreated, StatusFailed},
	StatusFailed:        {},
	StatusPRCreated:     {StatusResolved},
	StatusResolved:      {},
}

// CanTransition reports whether moving from one status to another is allowed
// by the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status ends the remediation pipeline.
func Terminal(s Status) bool {
	return s == StatusVerified || s == StatusFailed || s == StatusPRCreated || s == StatusResolved
}

// FileEdit records one modified file: the content before the current retry
// window, the content now, and the unified diff between the two.
type FileEdit struct {
	Path            string `json:"path"`
	OriginalContent string `json:"original_content"`
	NewContent      string `json:"new_content"`
	UnifiedDiff     string `json:"unified_diff"`
}

// TerminalLogEntry is one line of sandbox output, tagged with the run label
// that produced it.
type TerminalLogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Stream    string    `json:"stream"` // "stdout" or "stderr"
	Data      string    `json:"data"`
	Label     string    `json:"label"`
}

// AgentEvent is one durable audit record of pipeline or agent activity.
// It is independent of the ephemeral event bus stream: the audit list is
// the source of truth for post-hoc queries, the bus is disposable fan-out.
type AgentEvent struct {
	ID         int64          `json:"id,omitempty"`
	IncidentID string         `json:"incident_id"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       string         `json:"kind"` // "status_change", "tool_call", "sandbox_output", "done", ...
	Payload    map[string]any `json:"payload,omitempty"`
}

// Incident represents a single tracked production-error report and its
// remediation lifecycle. The immutable error context is set at creation;
// everything else is populated by the pipeline and its collaborators.
type Incident struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Immutable error context from the monitored application.
	ErrorType  string   `json:"error_type"`
	Traceback  string   `json:"traceback"`
	Logs       []string `json:"logs"`
	SourceFile string   `json:"source_file"`
	RepoURL    string   `json:"repo_url"`
	Branch     string   `json:"branch"`

	Status Status `json:"status"`

	// Populated by the reasoning step.
	RootCause      string     `json:"root_cause,omitempty"`
	FixDescription string     `json:"fix_description,omitempty"`
	AffectedFiles  []string   `json:"affected_files,omitempty"`
	FileEdits      []FileEdit `json:"file_edits,omitempty"`

	// Legacy single-file path: source sent inline by the monitored app and
	// a whole-file rewrite produced by a v1-style verdict.
	OriginalCode string `json:"original_code,omitempty"`
	FixedCode    string `json:"fixed_code,omitempty"`
	AffectedFile string `json:"affected_file,omitempty"`

	// Populated by sandbox verification.
	SandboxReproduced  *bool              `json:"sandbox_reproduced,omitempty"`
	SandboxFixVerified *bool              `json:"sandbox_fix_verified,omitempty"`
	SandboxOutput      string             `json:"sandbox_output,omitempty"`
	TerminalLog        []TerminalLogEntry `json:"sandbox_terminal_log,omitempty"`

	// Populated by the git hosting integration.
	PRUrl    string `json:"pr_url,omitempty"`
	PRBranch string `json:"pr_branch,omitempty"`

	// Human-readable reason for the failed state, if any.
	Error string `json:"error,omitempty"`
}

// Summary is the list-view projection of an incident.
type Summary struct {
	ID         string    `json:"id"`
	ErrorType  string    `json:"error_type"`
	SourceFile string    `json:"source_file"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	RootCause  string    `json:"root_cause,omitempty"`
}

// Summary returns the list-view projection of the incident.
func (i *Incident) Summary() Summary {
	return Summary{
		ID:         i.ID,
		ErrorType:  i.ErrorType,
		SourceFile: i.SourceFile,
		Status:     i.Status,
		CreatedAt:  i.CreatedAt,
		UpdatedAt:  i.UpdatedAt,
		RootCause:  i.RootCause,
	}
}

// Clone returns a deep copy of the incident. Stores hand out clones so
// callers never share mutable slices with the pipeline goroutine.
func (i *Incident) Clone() *Incident {
	c := *i
	c.Logs = append([]string(nil), i.Logs...)
	c.AffectedFiles = append([]string(nil), i.AffectedFiles...)
	c.FileEdits = append([]FileEdit(nil), i.FileEdits...)
	c.TerminalLog = append([]TerminalLogEntry(nil), i.TerminalLog...)
	if i.SandboxReproduced != nil {
		v := *i.SandboxReproduced
		c.SandboxReproduced = &v
	}
	if i.SandboxFixVerified != nil {
		v := *i.SandboxFixVerified
		c.SandboxFixVerified = &v
	}
	return &c
}

// Verdict is the structured result the reasoning step must produce.
type Verdict struct {
	RootCause      string   `json:"root_cause"`
	FixDescription string   `json:"fix_description"`
	AffectedFiles  []string `json:"affected_files"`

	// Self-reported verification flags. Only authoritative when the pipeline
	// has no verification phase of its own.
	ReproductionConfirmed bool `json:"reproduction_confirmed,omitempty"`
	FixVerified           bool `json:"fix_verified,omitempty"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
