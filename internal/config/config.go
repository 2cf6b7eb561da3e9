// Package config provides configuration management for AutoDuty.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the AutoDuty server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":8000").
	ServerAddr string `yaml:"server_addr"`

	// DataDir is the directory for persistent data and checkouts.
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the SQLite database file, used when Persist is true.
	DatabasePath string `yaml:"database_path"`

	// Persist switches the incident ledger from in-memory to SQLite.
	Persist bool `yaml:"persist"`

	// CloneBaseDir is where per-incident repository checkouts are placed.
	CloneBaseDir string `yaml:"clone_base_dir"`

	// GitHubToken is the personal access token for PR creation.
	GitHubToken string `yaml:"-"`

	// LLM provider API keys.
	AnthropicAPIKey string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`

	// AIModel is the initial reasoning model; switchable at runtime via the
	// settings endpoint.
	AIModel string `yaml:"ai_model"`

	// MaxAttempts bounds the investigate/verify retry loop per incident.
	MaxAttempts int `yaml:"max_attempts"`

	// SandboxRunBudget caps agent-requested sandbox runs per incident.
	// 0 means unlimited.
	SandboxRunBudget int `yaml:"sandbox_run_budget"`

	// SandboxEnabled turns the Docker verification sandbox on.
	SandboxEnabled bool `yaml:"sandbox_enabled"`

	// DockerImage is the sandbox container image.
	DockerImage string `yaml:"docker_image"`

	// Slack integration (optional).
	SlackBotToken string `yaml:"-"`
	SlackChannel  string `yaml:"slack_channel"`
}

// Load creates a Config from the environment, after loading a .env file if
// present. A YAML file named by AUTODUTY_CONFIG (or the optional path
// argument) overlays the defaults before environment variables are applied.
func Load(configPath string) (*Config, error) {
	// Missing .env is fine; explicit env vars win either way.
	_ = godotenv.Load()

	cfg := &Config{
		ServerAddr:       ":8000",
		DataDir:          defaultDataDir(),
		AIModel:          "claude-sonnet-4-20250514",
		MaxAttempts:      3,
		SandboxRunBudget: 10,
		SandboxEnabled:   true,
		DockerImage:      "autoduty-sandbox",
	}

	if configPath == "" {
		configPath = os.Getenv("AUTODUTY_CONFIG")
	}
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.ServerAddr = envOr("AUTODUTY_ADDR", cfg.ServerAddr)
	cfg.DataDir = envOr("AUTODUTY_DATA_DIR", cfg.DataDir)
	cfg.AIModel = envOr("AUTODUTY_AI_MODEL", cfg.AIModel)
	cfg.MaxAttempts = envOrInt("AUTODUTY_MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.SandboxRunBudget = envOrInt("AUTODUTY_SANDBOX_BUDGET", cfg.SandboxRunBudget)
	cfg.SandboxEnabled = envOrBool("AUTODUTY_SANDBOX_ENABLED", cfg.SandboxEnabled)
	cfg.DockerImage = envOr("AUTODUTY_DOCKER_IMAGE", cfg.DockerImage)
	cfg.Persist = envOrBool("AUTODUTY_PERSIST", cfg.Persist)
	cfg.SlackChannel = envOr("SLACK_CHANNEL", cfg.SlackChannel)

	cfg.GitHubToken = os.Getenv("GITHUB_TOKEN")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "autoduty.db")
	}
	if cfg.CloneBaseDir == "" {
		cfg.CloneBaseDir = filepath.Join(cfg.DataDir, "checkouts")
	}
	if err := os.MkdirAll(cfg.CloneBaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkout directory: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" && c.GoogleAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY, OPENAI_API_KEY or GOOGLE_API_KEY is required")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be positive")
	}
	return nil
}

// SlackEnabled returns true if Slack notifications are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// GitHubEnabled returns true if PR creation is configured.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubToken != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autoduty"
	}
	return filepath.Join(home, ".autoduty")
}
