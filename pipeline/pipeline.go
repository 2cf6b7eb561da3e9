// Package pipeline drives one incident through the remediation state
// machine: checkout, bounded investigate/verify attempts with retry
// feedback, and terminal status reporting.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jeff4444/autoduty-backend/agent"
	"github.com/jeff4444/autoduty-backend/eventbus"
	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/sandbox"
	"github.com/jeff4444/autoduty-backend/store"
	"github.com/jeff4444/autoduty-backend/workspace"
)

// DefaultMaxAttempts bounds the investigate/verify loop per incident.
const DefaultMaxAttempts = 3

// CheckoutFunc obtains a working copy for an incident. The default is
// workspace.Checkout; tests substitute a local fixture.
type CheckoutFunc func(ctx context.Context, baseDir, repoURL, branch, id string) (*workspace.WorkingCopy, error)

// VerifyPlanner produces the two verification scripts for an attempt. The
// sandbox has no access to the checkout, so both scripts must be
// self-contained: reproduce embeds the pre-fix content and must exit
// non-zero when the bug is present; verify embeds the post-fix content and
// must exit zero when the fix holds.
type VerifyPlanner interface {
	Plan(ctx context.Context, inc *model.Incident, edits []model.FileEdit) (reproduce, verify string, err error)
}

// Pipeline remediates incidents. All fields except Store, Bus and
// Investigator are optional; zero values fall back to defaults.
type Pipeline struct {
	Store        store.IncidentStore
	Bus          eventbus.Bus
	Investigator agent.Investigator

	// Sandbox, when set, is offered to the reasoning step as a tool. With
	// Planner also set it additionally drives the verification phase.
	Sandbox sandbox.Runtime
	Planner VerifyPlanner

	Checkout     CheckoutFunc
	CloneBaseDir string
	MaxAttempts  int
	// RunBudget caps reasoning-step sandbox runs per incident. Zero means
	// unlimited.
	RunBudget int
}

// Run drives one incident to a terminal status. It owns the incident's
// working copy and closes the incident's event stream on exit.
func (p *Pipeline) Run(ctx context.Context, incidentID string) {
	defer func() {
		final := model.StatusFailed
		if cur, err := p.Store.Get(incidentID); err == nil {
			final = cur.Status
		}
		p.Bus.Close(incidentID, final)
	}()

	inc, err := p.Store.Get(incidentID)
	if err != nil {
		log.Printf("pipeline: incident %s: load: %v", incidentID, err)
		return
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	if err := p.setStatus(incidentID, model.StatusInvestigating, "Checking out "+inc.RepoURL); err != nil {
		log.Printf("pipeline: incident %s: %v", incidentID, err)
		return
	}

	checkout := p.Checkout
	if checkout == nil {
		checkout = workspace.Checkout
	}
	wc, err := checkout(ctx, p.CloneBaseDir, inc.RepoURL, inc.Branch, inc.ID)
	if err != nil {
		p.fail(incidentID, fmt.Sprintf("checkout failed: %v", err))
		return
	}
	defer wc.Dispose()

	meter := sandbox.NewMeter(p.RunBudget)
	feedback := ""

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			msg := fmt.Sprintf("Retry %d/%d: re-investigating with verification feedback", attempt, maxAttempts)
			if err := p.setStatus(incidentID, model.StatusInvestigating, msg); err != nil {
				log.Printf("pipeline: incident %s: %v", incidentID, err)
				return
			}
		}

		inc, err = p.Store.Get(incidentID)
		if err != nil {
			log.Printf("pipeline: incident %s: reload: %v", incidentID, err)
			return
		}

		tools := &agent.Toolset{
			WC:      wc,
			Sandbox: p.Sandbox,
			Meter:   meter,
			Emit: func(kind string, payload map[string]any) {
				p.emit(incidentID, kind, payload)
			},
			OnTerminalLine: func(stream, line, label string) {
				p.appendTerminalLine(incidentID, stream, line, label)
			},
		}

		verdict, err := p.Investigator.Investigate(ctx, agent.Request{
			Incident:    inc,
			Feedback:    feedback,
			Attempt:     attempt,
			MaxAttempts: maxAttempts,
		}, tools)
		if err != nil {
			p.fail(incidentID, fmt.Sprintf("reasoning step failed: %v", err))
			return
		}

		edits, err := wc.Diff()
		if err != nil {
			p.fail(incidentID, fmt.Sprintf("computing diff: %v", err))
			return
		}

		uerr := p.Store.Update(incidentID, func(i *model.Incident) error {
			if err := store.SetStatus(i, model.StatusFixProposed); err != nil {
				return err
			}
			i.RootCause = verdict.RootCause
			i.FixDescription = verdict.FixDescription
			i.AffectedFiles = verdict.AffectedFiles
			i.FileEdits = edits
			return nil
		})
		if uerr != nil {
			p.fail(incidentID, fmt.Sprintf("recording verdict: %v", uerr))
			return
		}
		p.emit(incidentID, "status_change", map[string]any{
			"status":  string(model.StatusFixProposed),
			"message": verdict.FixDescription,
		})

		final := attempt == maxAttempts
		reproduced, fixVerified, rawOutput, verr := p.verify(ctx, incidentID, verdict, edits)
		if verr != nil {
			if final {
				p.fail(incidentID, fmt.Sprintf("verification infrastructure error: %v", verr))
				return
			}
			log.Printf("pipeline: incident %s: attempt %d: infra error treated as failed verification: %v",
				incidentID, attempt, verr)
			reproduced, fixVerified = false, false
			rawOutput = fmt.Sprintf("verification could not run: %v", verr)
		}

		repro, fixed := reproduced, fixVerified
		werr := p.Store.Update(incidentID, func(i *model.Incident) error {
			i.SandboxReproduced = &repro
			i.SandboxFixVerified = &fixed
			i.SandboxOutput = rawOutput
			return nil
		})
		if werr != nil {
			log.Printf("pipeline: incident %s: recording verification: %v", incidentID, werr)
		}

		if fixVerified && len(edits) > 0 {
			if err := p.setStatus(incidentID, model.StatusVerified, "Fix verified"); err != nil {
				log.Printf("pipeline: incident %s: %v", incidentID, err)
			}
			return
		}

		if final {
			p.fail(incidentID, fmt.Sprintf("fix could not be verified after %d attempts", maxAttempts))
			return
		}

		cur, err := p.Store.Get(incidentID)
		if err != nil {
			log.Printf("pipeline: incident %s: reload for feedback: %v", incidentID, err)
			return
		}
		if len(edits) == 0 {
			rawOutput = "no file edits were produced by this attempt\n" + rawOutput
		}
		feedback = ComposeRetryFeedback(reproduced, fixVerified, cur.TerminalLog, rawOutput)

		// New retry window: diffs from here on reflect only the next
		// attempt's changes, and its terminal log starts clean.
		wc.ResetBaseline()
		cerr := p.Store.Update(incidentID, func(i *model.Incident) error {
			i.TerminalLog = nil
			i.SandboxReproduced = nil
			i.SandboxFixVerified = nil
			i.SandboxOutput = ""
			return nil
		})
		if cerr != nil {
			log.Printf("pipeline: incident %s: clearing attempt state: %v", incidentID, cerr)
		}
		p.emit(incidentID, "retry", map[string]any{"attempt": attempt + 1, "max_attempts": maxAttempts})
	}
}

// verify runs the verification phase for one attempt. With a planner and
// sandbox configured, the pipeline-driven result is authoritative; otherwise
// the verdict's self-reported flags decide. The returned error is an
// infrastructure failure, never a script outcome.
func (p *Pipeline) verify(ctx context.Context, incidentID string, verdict *model.Verdict, edits []model.FileEdit) (reproduced, fixVerified bool, rawOutput string, err error) {
	if p.Planner == nil || p.Sandbox == nil {
		return verdict.ReproductionConfirmed, verdict.FixVerified, "", nil
	}

	inc, err := p.Store.Get(incidentID)
	if err != nil {
		return false, false, "", err
	}
	if err := p.setStatus(incidentID, model.StatusSimulating, "Running sandbox verification"); err != nil {
		return false, false, "", err
	}

	if len(edits) == 0 {
		return false, false, "", nil
	}

	reproScript, verifyScript, err := p.Planner.Plan(ctx, inc, edits)
	if err != nil {
		return false, false, "", fmt.Errorf("planning verification: %w", err)
	}

	reproRes, err := p.runVerification(ctx, incidentID, reproScript, "reproduce-bug")
	if err != nil {
		return false, false, "", err
	}
	reproduced = reproRes.ExitCode != 0

	verifyRes, err := p.runVerification(ctx, incidentID, verifyScript, "verify-fix")
	if err != nil {
		return reproduced, false, "", err
	}
	fixVerified = verifyRes.ExitCode == 0

	rawOutput = reproRes.Stdout + reproRes.Stderr + verifyRes.Stdout + verifyRes.Stderr
	return reproduced, fixVerified, rawOutput, nil
}

func (p *Pipeline) runVerification(ctx context.Context, incidentID, script, label string) (*sandbox.Result, error) {
	res, err := p.Sandbox.Run(ctx, sandbox.RunOptions{
		Script: script,
		Label:  label,
		OnLine: func(stream, line string) {
			p.appendTerminalLine(incidentID, stream, line, label)
		},
	})
	if err != nil {
		return nil, err
	}
	p.emit(incidentID, "verification_run", map[string]any{
		"label":     label,
		"exit_code": res.ExitCode,
		"timed_out": res.TimedOut,
	})
	return res, nil
}

func (p *Pipeline) appendTerminalLine(incidentID, stream, line, label string) {
	entry := model.TerminalLogEntry{
		Timestamp: time.Now().UTC(),
		Stream:    stream,
		Data:      line,
		Label:     label,
	}
	err := p.Store.Update(incidentID, func(i *model.Incident) error {
		i.TerminalLog = append(i.TerminalLog, entry)
		return nil
	})
	if err != nil {
		log.Printf("pipeline: incident %s: appending terminal line: %v", incidentID, err)
	}
	p.emit(incidentID, "sandbox_output", map[string]any{
		"stream": stream,
		"data":   line,
		"label":  label,
	})
}

// emit records one event in the durable audit log and fans it out on the
// bus. Bus delivery is best-effort; the audit record is authoritative.
func (p *Pipeline) emit(incidentID, kind string, payload map[string]any) {
	ev := model.AgentEvent{
		IncidentID: incidentID,
		Timestamp:  time.Now().UTC(),
		Kind:       kind,
		Payload:    payload,
	}
	if err := p.Store.AppendEvent(ev); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Printf("pipeline: incident %s: appending event: %v", incidentID, err)
	}
	p.Bus.Publish(incidentID, ev)
}

func (p *Pipeline) setStatus(incidentID string, to model.Status, message string) error {
	err := p.Store.Update(incidentID, func(i *model.Incident) error {
		return store.SetStatus(i, to)
	})
	if err != nil {
		return fmt.Errorf("transition to %s: %w", to, err)
	}
	p.emit(incidentID, "status_change", map[string]any{
		"status":  string(to),
		"message": message,
	})
	return nil
}

func (p *Pipeline) fail(incidentID, reason string) {
	err := p.Store.Update(incidentID, func(i *model.Incident) error {
		if serr := store.SetStatus(i, model.StatusFailed); serr != nil {
			return serr
		}
		i.Error = reason
		return nil
	})
	if err != nil {
		log.Printf("pipeline: incident %s: marking failed: %v", incidentID, err)
		return
	}
	p.emit(incidentID, "status_change", map[string]any{
		"status":  string(model.StatusFailed),
		"message": reason,
	})
	log.Printf("pipeline: incident %s failed: %s", incidentID, reason)
}
