// Package engine owns incident lifecycles: it admits error reports, runs one
// remediation pipeline per incident on its own goroutine, and triggers PR
// creation and outbound notifications.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jeff4444/autoduty-backend/agent"
	"github.com/jeff4444/autoduty-backend/channel"
	"github.com/jeff4444/autoduty-backend/eventbus"
	"github.com/jeff4444/autoduty-backend/gitprovider"
	"github.com/jeff4444/autoduty-backend/model"
	"github.com/jeff4444/autoduty-backend/pipeline"
	"github.com/jeff4444/autoduty-backend/sandbox"
	"github.com/jeff4444/autoduty-backend/store"
)

// ErrStopped is returned for new work submitted after Stop.
var ErrStopped = errors.New("engine stopped")

// ErrNotApprovable is returned when PR creation is requested for an incident
// that has no reviewable fix.
var ErrNotApprovable = errors.New("incident has no reviewable fix")

// InvestigatorFactory builds the reasoning step for one incident, bound to
// the AI model selected at that moment.
type InvestigatorFactory func(aiModel string) (agent.Investigator, error)

// Config carries the per-incident pipeline settings.
type Config struct {
	MaxAttempts      int
	SandboxRunBudget int
	CloneBaseDir     string
	// AIModel is the initial model; mutable at runtime via SetModel.
	AIModel string
}

// Deps are the engine's collaborators. Store, Bus and NewInvestigator are
// required; the rest degrade gracefully when absent.
type Deps struct {
	Store           store.IncidentStore
	Bus             eventbus.Bus
	Sandbox         sandbox.Runtime
	Planner         pipeline.VerifyPlanner
	Provider        gitprovider.Provider
	Notifier        channel.Notifier
	NewInvestigator InvestigatorFactory
	Checkout        pipeline.CheckoutFunc
}

// Engine runs one pipeline goroutine per incident.
type Engine struct {
	deps Deps
	cfg  Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	aiModel string
	stopped bool
}

func New(deps Deps, cfg Config) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		deps:    deps,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
		aiModel: cfg.AIModel,
	}
}

// Model returns the currently selected AI model.
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aiModel
}

// SetModel switches the AI model for subsequently created incidents. Running
// incidents keep the model they started with.
func (e *Engine) SetModel(aiModel string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.aiModel = aiModel
}

// ErrorReport is the inbound description of a production error.
type ErrorReport struct {
	ErrorType  string   `json:"error_type"`
	Traceback  string   `json:"traceback"`
	Logs       []string `json:"logs"`
	SourceFile string   `json:"source_file"`
	RepoURL    string   `json:"repo_url"`
	Branch     string   `json:"branch"`
	// OriginalCode is the legacy inline source of the affected file.
	OriginalCode string `json:"original_code,omitempty"`
}

// CreateIncident admits an error report and starts its remediation pipeline
// on a dedicated goroutine. It returns immediately with the new incident.
func (e *Engine) CreateIncident(report ErrorReport) (*model.Incident, error) {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return nil, ErrStopped
	}
	aiModel := e.aiModel
	e.wg.Add(1)
	e.mu.Unlock()

	now := time.Now().UTC()
	inc := &model.Incident{
		ID:           uuid.NewString()[:8],
		ErrorType:    report.ErrorType,
		Traceback:    report.Traceback,
		Logs:         report.Logs,
		SourceFile:   report.SourceFile,
		RepoURL:      report.RepoURL,
		Branch:       report.Branch,
		OriginalCode: report.OriginalCode,
		Status:       model.StatusDetected,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.deps.Store.Create(inc); err != nil {
		e.wg.Done()
		return nil, fmt.Errorf("creating incident: %w", err)
	}

	go func() {
		defer e.wg.Done()
		e.remediate(inc.ID, aiModel)
	}()

	log.Printf("engine: incident %s created (%s in %s)", inc.ID, inc.ErrorType, inc.SourceFile)
	return inc.Clone(), nil
}

func (e *Engine) remediate(incidentID, aiModel string) {
	investigator, err := e.deps.NewInvestigator(aiModel)
	if err != nil {
		e.failEarly(incidentID, fmt.Sprintf("building reasoning step: %v", err))
		return
	}

	p := &pipeline.Pipeline{
		Store:        e.deps.Store,
		Bus:          e.deps.Bus,
		Investigator: investigator,
		Sandbox:      e.deps.Sandbox,
		Planner:      e.deps.Planner,
		Checkout:     e.deps.Checkout,
		CloneBaseDir: e.cfg.CloneBaseDir,
		MaxAttempts:  e.cfg.MaxAttempts,
		RunBudget:    e.cfg.SandboxRunBudget,
	}
	p.Run(e.ctx, incidentID)

	e.notifyTerminal(incidentID)
}

func (e *Engine) failEarly(incidentID, reason string) {
	err := e.deps.Store.Update(incidentID, func(i *model.Incident) error {
		if serr := store.SetStatus(i, model.StatusFailed); serr != nil {
			return serr
		}
		i.Error = reason
		return nil
	})
	if err != nil {
		log.Printf("engine: incident %s: marking failed: %v", incidentID, err)
	}
	e.deps.Bus.Close(incidentID, model.StatusFailed)
	e.notifyTerminal(incidentID)
}

func (e *Engine) notifyTerminal(incidentID string) {
	if e.deps.Notifier == nil {
		return
	}
	inc, err := e.deps.Store.Get(incidentID)
	if err != nil || !model.Terminal(inc.Status) {
		return
	}
	if err := e.deps.Notifier.Notify(e.ctx, inc); err != nil {
		log.Printf("engine: incident %s: notify: %v", incidentID, err)
	}
}

// ApproveIncident opens the fix PR for an incident whose fix is reviewable
// (verified, or fix_proposed when verification is embedded in the reasoning
// step).
func (e *Engine) ApproveIncident(ctx context.Context, incidentID string) (*model.Incident, error) {
	if e.deps.Provider == nil {
		return nil, errors.New("no git provider configured")
	}
	inc, err := e.deps.Store.Get(incidentID)
	if err != nil {
		return nil, err
	}
	if inc.Status != model.StatusVerified && inc.Status != model.StatusFixProposed {
		return nil, fmt.Errorf("%w: status is %s", ErrNotApprovable, inc.Status)
	}

	prURL, branch, err := e.deps.Provider.CreateFixPR(ctx, inc)
	if err != nil {
		return nil, fmt.Errorf("creating fix PR: %w", err)
	}

	err = e.deps.Store.Update(incidentID, func(i *model.Incident) error {
		if serr := store.SetStatus(i, model.StatusPRCreated); serr != nil {
			return serr
		}
		i.PRUrl = prURL
		i.PRBranch = branch
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.notifyTerminal(incidentID)
	return e.deps.Store.Get(incidentID)
}

// ResolveIncident closes out an incident whose PR has been merged.
func (e *Engine) ResolveIncident(incidentID string) (*model.Incident, error) {
	err := e.deps.Store.Update(incidentID, func(i *model.Incident) error {
		return store.SetStatus(i, model.StatusResolved)
	})
	if err != nil {
		return nil, err
	}
	return e.deps.Store.Get(incidentID)
}

// Stop rejects new incidents, cancels running pipelines, and waits for their
// goroutines to drain.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
}
