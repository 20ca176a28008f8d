package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 0.0.0.0
  extra: true
ai:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown field")
	}
}

func TestLoadValidatesDefaultProvider(t *testing.T) {
	path := writeConfig(t, `
ai:
  default_provider: openai
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "default_provider") {
		t.Fatalf("expected default_provider error, got %v", err)
	}
}

func TestLoadValidatesTelegramToken(t *testing.T) {
	path := writeConfig(t, `
notifications:
  telegram:
    enabled: true
    bot_token: "   "
ai:
  default_provider: anthropic
  providers:
    anthropic: {}
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "bot_token") {
		t.Fatalf("expected bot_token error, got %v", err)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
ai:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runtime.ReasoningTimeout != 240*time.Second {
		t.Errorf("ReasoningTimeout = %v, want 240s", cfg.Runtime.ReasoningTimeout)
	}
	if cfg.Runtime.CyclesPerHour != 20 {
		t.Errorf("CyclesPerHour = %d, want 20", cfg.Runtime.CyclesPerHour)
	}
	if cfg.Runtime.MaxRespondsPerRun != 2 {
		t.Errorf("MaxRespondsPerRun = %d, want 2", cfg.Runtime.MaxRespondsPerRun)
	}
	if cfg.Scheduler.JobTimeout != 300*time.Second {
		t.Errorf("JobTimeout = %v, want 300s", cfg.Scheduler.JobTimeout)
	}
	if cfg.Scheduler.MaxConcurrentJobs != 5 {
		t.Errorf("MaxConcurrentJobs = %d, want 5", cfg.Scheduler.MaxConcurrentJobs)
	}
	if cfg.Budget.WarnFraction != 0.8 {
		t.Errorf("WarnFraction = %v, want 0.8", cfg.Budget.WarnFraction)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("LEGION_TEST_KEY", "sk-test-123")
	path := writeConfig(t, `
ai:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: ${LEGION_TEST_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.AI.Providers["anthropic"].APIKey; got != "sk-test-123" {
		t.Errorf("APIKey = %q, want sk-test-123", got)
	}
}

func TestLoadTimeoutEnvOverrides(t *testing.T) {
	t.Setenv("REASONING_LOOP_TIMEOUT_MS", "120000")
	t.Setenv("SCHEDULER_JOB_TIMEOUT_MS", "60000")
	path := writeConfig(t, `
runtime:
  reasoning_timeout: 240s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runtime.ReasoningTimeout != 2*time.Minute {
		t.Errorf("ReasoningTimeout = %v, want 2m", cfg.Runtime.ReasoningTimeout)
	}
	if cfg.Scheduler.JobTimeout != time.Minute {
		t.Errorf("JobTimeout = %v, want 1m", cfg.Scheduler.JobTimeout)
	}
}

func TestLoadIgnoresBadTimeoutOverride(t *testing.T) {
	t.Setenv("REASONING_LOOP_TIMEOUT_MS", "soon")
	path := writeConfig(t, `
logging:
  level: info
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Runtime.ReasoningTimeout != 240*time.Second {
		t.Errorf("ReasoningTimeout = %v, want default 240s", cfg.Runtime.ReasoningTimeout)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	if err := os.WriteFile(base, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	main := filepath.Join(dir, "legion.yaml")
	body := "$include: base.yaml\nai:\n  default_provider: anthropic\n  providers:\n    anthropic: {}\n"
	if err := os.WriteFile(main, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadDetectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.yaml")
	b := filepath.Join(dir, "b.yaml")
	if err := os.WriteFile(a, []byte("$include: b.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if err := os.WriteFile(b, []byte("$include: a.yaml\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err := Load(a)
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestJSONSchemaGenerates(t *testing.T) {
	data, err := JSONSchema()
	if err != nil {
		t.Fatalf("JSONSchema() error = %v", err)
	}
	if !strings.Contains(string(data), "reasoning_timeout") {
		t.Errorf("schema missing runtime fields")
	}
}

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "legion.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}
