package autoduty

import (
	"context"
	"fmt"
	"log"

	"github.com/jeff4444/autoduty-backend/agent"
	"github.com/jeff4444/autoduty-backend/agent/llm"
	slackNotifier "github.com/jeff4444/autoduty-backend/channel/slack"
	"github.com/jeff4444/autoduty-backend/eventbus"
	ghProvider "github.com/jeff4444/autoduty-backend/gitprovider/github"
	"github.com/jeff4444/autoduty-backend/internal/config"
	"github.com/jeff4444/autoduty-backend/pipeline"
	dockerSandbox "github.com/jeff4444/autoduty-backend/sandbox/docker"
	memoryStore "github.com/jeff4444/autoduty-backend/store/memory"
	sqliteStore "github.com/jeff4444/autoduty-backend/store/sqlite"
)

// applyDefaults fills in missing components on the builder.
func applyDefaults(b *Builder) error {
	if b.config == nil {
		cfg, err := config.Load("")
		if err != nil {
			return err
		}
		b.config = cfg
	}

	// Store. In-memory is the default ledger; SQLite is the opt-in durable
	// swap.
	if b.store == nil {
		if b.config.Persist {
			st, err := sqliteStore.New(b.config.DatabasePath)
			if err != nil {
				return fmt.Errorf("initializing store: %w", err)
			}
			b.store = st
			log.Printf("Incident store: sqlite (%s)", b.config.DatabasePath)
		} else {
			b.store = memoryStore.New()
		}
	}

	if b.bus == nil {
		b.bus = eventbus.NewInMemoryBus()
	}

	if b.sandbox == nil && b.config.SandboxEnabled {
		b.sandbox = dockerSandbox.New(dockerSandbox.Config{Image: b.config.DockerImage})
	}
	if b.planner == nil && b.sandbox != nil {
		b.planner = pipeline.ExecPlanner{}
	}

	if b.git == nil && b.config.GitHubEnabled() {
		b.git = ghProvider.New(b.config.GitHubToken)
	}

	if b.notifier == nil && b.config.SlackEnabled() {
		b.notifier = slackNotifier.New(b.config.SlackBotToken, b.config.SlackChannel)
		log.Println("Slack notifications enabled")
	}

	if b.factory == nil {
		b.factory = func(aiModel string) (agent.Investigator, error) {
			client, err := llm.FromEnv(context.Background(), aiModel)
			if err != nil {
				return nil, err
			}
			return &agent.LoopInvestigator{Client: client}, nil
		}
	}

	return nil
}
