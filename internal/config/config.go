// Package config loads and validates the runtime configuration. Files are
// YAML (or JSON/JSON5) with environment variable expansion and $include
// composition.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the top-level configuration for the legion runtime.
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	AI            AIConfig           `yaml:"ai"`
	Runtime       RuntimeConfig      `yaml:"runtime"`
	Classifier    ClassifierConfig   `yaml:"classifier"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Approvals     ApprovalConfig     `yaml:"approvals"`
	Budget        BudgetConfig       `yaml:"budget"`
	Notifications NotificationConfig `yaml:"notifications"`
	Personality   PersonalityConfig  `yaml:"personality"`
	Memory        MemoryConfig       `yaml:"memory"`
	Logging       LoggingConfig      `yaml:"logging"`
	Audit         AuditConfig        `yaml:"audit"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPath string `yaml:"metrics_path"`
}

type DatabaseConfig struct {
	// Path to the SQLite database file. ":memory:" runs fully in memory.
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	MaxOpen     int           `yaml:"max_open"`
}

type AIConfig struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`

	// Tiers overrides the built-in tier-to-model routing table. Keys are
	// tier names (trivial..critical).
	Tiers map[string]TierRoute `yaml:"tiers"`
}

type ProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}

// TierRoute pins one complexity tier to a provider and model.
type TierRoute struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RuntimeConfig tunes the reasoning loop.
type RuntimeConfig struct {
	ReasoningTimeout      time.Duration `yaml:"reasoning_timeout"`
	CyclesPerHour         int           `yaml:"cycles_per_hour"`
	MaxRespondsPerRun     int           `yaml:"max_responds_per_run"`
	ToolSummaryLimit      int           `yaml:"tool_summary_limit"`
	LockPollInterval      time.Duration `yaml:"lock_poll_interval"`
	LockWaitBudget        time.Duration `yaml:"lock_wait_budget"`
	MaxOrchestrationDepth int           `yaml:"max_orchestration_depth"`
}

// ClassifierConfig tunes task classification. The lexical classifier always
// runs; UseAI additionally asks the router to second-guess the tier.
type ClassifierConfig struct {
	UseAI bool `yaml:"use_ai"`

	// Budgets overrides the per-tier iteration budgets. Keys are tier
	// names (trivial..critical); zero fields keep the built-in value.
	Budgets map[string]BudgetOverride `yaml:"budgets"`
}

// BudgetOverride replaces parts of one tier's iteration budget.
type BudgetOverride struct {
	MaxIterations int `yaml:"max_iterations"`
	MaxToolCalls  int `yaml:"max_tool_calls"`
}

type SchedulerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	TickInterval      time.Duration `yaml:"tick_interval"`
	FirstTickDelay    time.Duration `yaml:"first_tick_delay"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs"`
	AISemaphoreWait   time.Duration `yaml:"ai_semaphore_wait"`
	RestartStagger    time.Duration `yaml:"restart_stagger"`
}

type ApprovalConfig struct {
	DefaultExpiry time.Duration `yaml:"default_expiry"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type BudgetConfig struct {
	WarnFraction float64 `yaml:"warn_fraction"`
	DefaultDaily float64 `yaml:"default_daily"`
}

type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Retries  int            `yaml:"retries"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

// PersonalityConfig points at the directory of personality pack files.
// Packs reload on change while the server runs.
type PersonalityConfig struct {
	Dir       string `yaml:"dir"`
	HotReload bool   `yaml:"hot_reload"`
}

// MemoryConfig controls semantic recall. When disabled (or when no embedding
// provider is configured) memory search degrades to substring matching over
// the relational store.
type MemoryConfig struct {
	Enabled bool `yaml:"enabled"`

	// IndexPath is the SQLite file holding the vector index. It is kept
	// separate from the main database so it can be rebuilt from scratch.
	IndexPath string `yaml:"index_path"`

	// KnowledgePath is the SQLite file holding document libraries. Empty
	// keeps the knowledge base in memory.
	KnowledgePath string `yaml:"knowledge_path"`

	// MinScore is the cosine similarity floor for recall results.
	MinScore float64 `yaml:"min_score"`

	Embeddings EmbeddingsConfig `yaml:"embeddings"`
}

// EmbeddingsConfig selects and configures the embedding provider.
type EmbeddingsConfig struct {
	Provider string `yaml:"provider"` // openai or ollama
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
	Model    string `yaml:"model"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPath == "" {
		cfg.Server.MetricsPath = "/metrics"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "legion.db"
	}
	if cfg.Database.BusyTimeout == 0 {
		cfg.Database.BusyTimeout = 5 * time.Second
	}
	if cfg.Database.MaxOpen == 0 {
		cfg.Database.MaxOpen = 1
	}
	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "anthropic"
	}
	if cfg.Runtime.ReasoningTimeout == 0 {
		cfg.Runtime.ReasoningTimeout = 240 * time.Second
	}
	if cfg.Runtime.CyclesPerHour == 0 {
		cfg.Runtime.CyclesPerHour = 20
	}
	if cfg.Runtime.MaxRespondsPerRun == 0 {
		cfg.Runtime.MaxRespondsPerRun = 2
	}
	if cfg.Runtime.ToolSummaryLimit == 0 {
		cfg.Runtime.ToolSummaryLimit = 800
	}
	if cfg.Runtime.LockPollInterval == 0 {
		cfg.Runtime.LockPollInterval = 3 * time.Second
	}
	if cfg.Runtime.LockWaitBudget == 0 {
		cfg.Runtime.LockWaitBudget = 30 * time.Second
	}
	if cfg.Runtime.MaxOrchestrationDepth == 0 {
		cfg.Runtime.MaxOrchestrationDepth = 3
	}
	if cfg.Scheduler.TickInterval == 0 {
		cfg.Scheduler.TickInterval = 60 * time.Second
	}
	if cfg.Scheduler.FirstTickDelay == 0 {
		cfg.Scheduler.FirstTickDelay = 5 * time.Second
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 300 * time.Second
	}
	if cfg.Scheduler.MaxConcurrentJobs == 0 {
		cfg.Scheduler.MaxConcurrentJobs = 5
	}
	if cfg.Scheduler.AISemaphoreWait == 0 {
		cfg.Scheduler.AISemaphoreWait = 30 * time.Second
	}
	if cfg.Scheduler.RestartStagger == 0 {
		cfg.Scheduler.RestartStagger = 30 * time.Second
	}
	if cfg.Approvals.DefaultExpiry == 0 {
		cfg.Approvals.DefaultExpiry = 24 * time.Hour
	}
	if cfg.Approvals.SweepInterval == 0 {
		cfg.Approvals.SweepInterval = time.Minute
	}
	if cfg.Budget.WarnFraction == 0 {
		cfg.Budget.WarnFraction = 0.8
	}
	if cfg.Notifications.Retries == 0 {
		cfg.Notifications.Retries = 3
	}
	if cfg.Memory.IndexPath == "" {
		cfg.Memory.IndexPath = "legion-vectors.db"
	}
	if cfg.Memory.MinScore == 0 {
		cfg.Memory.MinScore = 0.3
	}
	if cfg.Memory.Embeddings.Provider == "" {
		cfg.Memory.Embeddings.Provider = "openai"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Audit.Path == "" {
		cfg.Audit.Path = "audit.jsonl"
	}
}

func validate(cfg *Config) error {
	if cfg.AI.DefaultProvider != "" && len(cfg.AI.Providers) > 0 {
		if _, ok := cfg.AI.Providers[cfg.AI.DefaultProvider]; !ok {
			return fmt.Errorf("ai.default_provider %q has no matching entry under ai.providers", cfg.AI.DefaultProvider)
		}
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", cfg.Logging.Level)
	}
	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q must be json or text", cfg.Logging.Format)
	}
	if cfg.Budget.WarnFraction <= 0 || cfg.Budget.WarnFraction > 1 {
		return fmt.Errorf("budget.warn_fraction %v must be in (0, 1]", cfg.Budget.WarnFraction)
	}
	if cfg.Runtime.MaxRespondsPerRun < 1 {
		return fmt.Errorf("runtime.max_responds_per_run must be at least 1")
	}
	if cfg.Scheduler.MaxConcurrentJobs < 1 {
		return fmt.Errorf("scheduler.max_concurrent_jobs must be at least 1")
	}
	if cfg.Notifications.Telegram.Enabled && strings.TrimSpace(cfg.Notifications.Telegram.BotToken) == "" {
		return fmt.Errorf("notifications.telegram.bot_token is required when telegram is enabled")
	}
	for name, b := range cfg.Classifier.Budgets {
		switch name {
		case "trivial", "simple", "moderate", "complex", "critical":
		default:
			return fmt.Errorf("classifier.budgets key %q is not a tier name", name)
		}
		if b.MaxIterations < 0 || b.MaxToolCalls < 0 {
			return fmt.Errorf("classifier.budgets[%s] must not be negative", name)
		}
	}
	if cfg.Personality.HotReload && strings.TrimSpace(cfg.Personality.Dir) == "" {
		return fmt.Errorf("personality.dir is required when hot_reload is enabled")
	}
	if cfg.Memory.Enabled {
		switch cfg.Memory.Embeddings.Provider {
		case "openai":
			if strings.TrimSpace(cfg.Memory.Embeddings.APIKey) == "" {
				return fmt.Errorf("memory.embeddings.api_key is required when provider is openai")
			}
		case "ollama":
		default:
			return fmt.Errorf("memory.embeddings.provider %q must be openai or ollama", cfg.Memory.Embeddings.Provider)
		}
		if cfg.Memory.MinScore < 0 || cfg.Memory.MinScore >= 1 {
			return fmt.Errorf("memory.min_score %v must be in [0, 1)", cfg.Memory.MinScore)
		}
	}
	return nil
}

// Load reads, merges, and validates the configuration at path.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides maps the operational override variables onto the
// loaded configuration. They win over file values.
func applyEnvOverrides(cfg *Config) {
	if d, ok := envMillis("REASONING_LOOP_TIMEOUT_MS"); ok {
		cfg.Runtime.ReasoningTimeout = d
	}
	if d, ok := envMillis("SCHEDULER_JOB_TIMEOUT_MS"); ok {
		cfg.Scheduler.JobTimeout = d
	}
}

func envMillis(name string) (time.Duration, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return 0, false
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms <= 0 {
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// Default returns a configuration with every default applied and no
// providers. Useful for tests and the doctor command.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}
