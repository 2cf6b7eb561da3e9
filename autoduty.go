// Package autoduty is the top-level entry point for the AutoDuty backend.
//
// Use the Builder to compose an application:
//
//	app, err := autoduty.NewBuilder().Build()
//	app.Start(ctx)
//
// Or customize every component:
//
//	app, err := autoduty.NewBuilder().
//	    WithStore(myStore).
//	    WithGitProvider(myProvider).
//	    WithSandbox(myRuntime).
//	    Build()
package autoduty

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/jeff4444/autoduty-backend/channel"
	"github.com/jeff4444/autoduty-backend/engine"
	"github.com/jeff4444/autoduty-backend/eventbus"
	"github.com/jeff4444/autoduty-backend/gitprovider"
	"github.com/jeff4444/autoduty-backend/httpapi"
	"github.com/jeff4444/autoduty-backend/internal/config"
	"github.com/jeff4444/autoduty-backend/pipeline"
	"github.com/jeff4444/autoduty-backend/sandbox"
	"github.com/jeff4444/autoduty-backend/store"
)

// Builder constructs an AutoDuty App. Missing components are filled with
// defaults derived from the configuration.
type Builder struct {
	config   *config.Config
	store    store.IncidentStore
	bus      eventbus.Bus
	sandbox  sandbox.Runtime
	planner  pipeline.VerifyPlanner
	git      gitprovider.Provider
	notifier channel.Notifier
	factory  engine.InvestigatorFactory
}

// NewBuilder creates a new Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the application configuration.
func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.config = cfg
	return b
}

// WithStore sets the incident store implementation.
func (b *Builder) WithStore(s store.IncidentStore) *Builder {
	b.store = s
	return b
}

// WithBus sets the event bus implementation.
func (b *Builder) WithBus(bus eventbus.Bus) *Builder {
	b.bus = bus
	return b
}

// WithSandbox sets the sandbox runtime implementation.
func (b *Builder) WithSandbox(s sandbox.Runtime) *Builder {
	b.sandbox = s
	return b
}

// WithPlanner sets the verification planner. Without one, verification is
// whatever the reasoning step self-reports.
func (b *Builder) WithPlanner(p pipeline.VerifyPlanner) *Builder {
	b.planner = p
	return b
}

// WithGitProvider sets the git hosting provider implementation.
func (b *Builder) WithGitProvider(g gitprovider.Provider) *Builder {
	b.git = g
	return b
}

// WithNotifier sets the outbound notification channel.
func (b *Builder) WithNotifier(n channel.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithInvestigatorFactory sets how the per-incident reasoning step is built.
func (b *Builder) WithInvestigatorFactory(f engine.InvestigatorFactory) *Builder {
	b.factory = f
	return b
}

// Build creates the App. Missing components are filled with defaults.
func (b *Builder) Build() (*App, error) {
	if err := applyDefaults(b); err != nil {
		return nil, err
	}

	eng := engine.New(engine.Deps{
		Store:           b.store,
		Bus:             b.bus,
		Sandbox:         b.sandbox,
		Planner:         b.planner,
		Provider:        b.git,
		Notifier:        b.notifier,
		NewInvestigator: b.factory,
	}, engine.Config{
		MaxAttempts:      b.config.MaxAttempts,
		SandboxRunBudget: b.config.SandboxRunBudget,
		CloneBaseDir:     b.config.CloneBaseDir,
		AIModel:          b.config.AIModel,
	})

	server := httpapi.New(eng, b.store, b.bus)

	return &App{
		config: b.config,
		engine: eng,
		store:  b.store,
		server: server,
	}, nil
}

// App is a running AutoDuty application.
type App struct {
	config *config.Config
	engine *engine.Engine
	store  store.IncidentStore
	server *httpapi.Server
}

// Engine returns the underlying engine for direct access.
func (a *App) Engine() *engine.Engine { return a.engine }

// Handler returns the HTTP handler, for embedding in another server.
func (a *App) Handler() http.Handler { return a.server.Router() }

// Start runs the HTTP server. It blocks until ctx is done, then drains
// running incident pipelines before returning.
func (a *App) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    a.config.ServerAddr,
		Handler: a.server.Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("AutoDuty server listening on %s", a.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	a.engine.Stop()
	return a.store.Close()
}
