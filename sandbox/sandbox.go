// Package sandbox defines the isolated execution environment used to
// reproduce bugs and verify fixes.
//
// The sandbox applies no semantic interpretation to what it runs: a non-zero
// exit is an ordinary result, and pass/fail judgment is entirely the
// script's own exit-code convention. Only failure to start or reach the
// environment is an error.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInfrastructure wraps failures to start or reach the execution
// environment. Script failures are never infrastructure errors.
var ErrInfrastructure = errors.New("sandbox infrastructure error")

// TimeoutExitCode is the synthetic exit code reported when a run exceeds its
// wall-clock timeout instead of hanging the caller.
const TimeoutExitCode = 124

// DefaultTimeout bounds a single run.
const DefaultTimeout = 60 * time.Second

// LineFunc receives one line of output in arrival order, as produced.
// stream is "stdout" or "stderr".
type LineFunc func(stream, line string)

// RunOptions configures a single sandbox execution.
type RunOptions struct {
	// Script is the full source to execute.
	Script string
	// Label is a human-readable tag for this run (e.g. "reproduce-bug",
	// "verify-fix"), attached to every output line.
	Label string
	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
	// OnLine, if set, is invoked for each output line as it is produced,
	// not buffered until exit.
	OnLine LineFunc
}

// Result is the structured outcome of one sandbox execution.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Label    string
	TimedOut bool
}

// Runtime executes caller-supplied scripts in an isolated environment with
// no access to the target repository's filesystem, no external network, and
// no credentials.
type Runtime interface {
	Run(ctx context.Context, opts RunOptions) (*Result, error)
}

// Meter enforces the per-incident sandbox run budget. Once exhausted,
// Allow keeps failing closed; the caller is expected to surface the
// explanatory message rather than an error.
type Meter struct {
	remaining int
	budget    int
}

// NewMeter creates a meter allowing budget runs. A non-positive budget means
// unlimited.
func NewMeter(budget int) *Meter {
	return &Meter{remaining: budget, budget: budget}
}

// Allow consumes one run from the budget. It reports whether the run may
// proceed and, when it may not, an explanatory message.
func (m *Meter) Allow() (bool, string) {
	if m.budget <= 0 {
		return true, ""
	}
	if m.remaining <= 0 {
		return false, fmt.Sprintf("sandbox run budget of %d exhausted for this incident; no further runs are possible", m.budget)
	}
	m.remaining--
	return true, ""
}

// Used returns the number of runs consumed so far.
func (m *Meter) Used() int {
	if m.budget <= 0 {
		return 0
	}
	return m.budget - m.remaining
}
