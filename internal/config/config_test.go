package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTODUTY_DATA_DIR", t.TempDir())
	t.Setenv("AUTODUTY_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerAddr != ":8000" {
		t.Fatalf("unexpected addr %q", cfg.ServerAddr)
	}
	if cfg.MaxAttempts != 3 || cfg.SandboxRunBudget != 10 {
		t.Fatalf("unexpected retry defaults: %+v", cfg)
	}
	if cfg.DatabasePath == "" || cfg.CloneBaseDir == "" {
		t.Fatalf("derived paths missing: %+v", cfg)
	}
	if _, err := os.Stat(cfg.CloneBaseDir); err != nil {
		t.Fatalf("checkout dir not created: %v", err)
	}
}

func TestLoadYAMLOverlayAndEnvWins(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("AUTODUTY_DATA_DIR", dir)

	path := filepath.Join(dir, "autoduty.yaml")
	yamlBody := "ai_model: gpt-4o\nmax_attempts: 5\nserver_addr: \":9000\"\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("AUTODUTY_AI_MODEL", "")
	t.Setenv("AUTODUTY_MAX_ATTEMPTS", "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AIModel != "gpt-4o" || cfg.MaxAttempts != 5 || cfg.ServerAddr != ":9000" {
		t.Fatalf("yaml overlay not applied: %+v", cfg)
	}

	// Environment beats the file.
	t.Setenv("AUTODUTY_MAX_ATTEMPTS", "7")
	cfg, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxAttempts != 7 {
		t.Fatalf("env must override yaml, got %d", cfg.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("AUTODUTY_DATA_DIR", t.TempDir())
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error without any API key")
	}

	cfg.AnthropicAPIKey = "sk-test"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
