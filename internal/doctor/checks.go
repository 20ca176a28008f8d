// Package doctor runs sanity checks for the runtime: configuration
// policies, database state, and AI provider reachability. The doctor
// command prints its findings.
package doctor

import (
	"fmt"
	"os"
	"strings"

	"github.com/legionruntime/legion/internal/config"
)

// CheckConfigPolicies validates soft configuration choices and returns
// warnings. Hard errors are already rejected by config.Load.
func CheckConfigPolicies(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	var warnings []string
	if len(cfg.AI.Providers) == 0 {
		warnings = append(warnings, "no AI providers configured; reasoning cycles will fail")
	}
	for name, pc := range cfg.AI.Providers {
		if name == "ollama" {
			continue
		}
		if strings.TrimSpace(pc.APIKey) == "" {
			warnings = append(warnings, fmt.Sprintf("provider %s has no api_key", name))
		}
	}
	if !cfg.Scheduler.Enabled {
		warnings = append(warnings, "scheduler disabled; schedules will never fire")
	}
	if !cfg.Audit.Enabled {
		warnings = append(warnings, "audit log disabled")
	}
	if cfg.Memory.Enabled && cfg.Memory.Embeddings.Provider == "openai" && strings.TrimSpace(cfg.Memory.Embeddings.APIKey) == "" {
		warnings = append(warnings, "memory embeddings enabled but api_key is empty")
	}
	if !cfg.Notifications.Telegram.Enabled {
		warnings = append(warnings, "no notification channel enabled; approvals cannot reach a master")
	}
	return warnings
}

// CheckDataFiles verifies the configured file paths are usable.
func CheckDataFiles(cfg *config.Config) []string {
	if cfg == nil {
		return nil
	}
	var warnings []string
	for _, p := range []string{cfg.Database.Path, cfg.Memory.IndexPath} {
		if p == "" || p == ":memory:" {
			continue
		}
		info, err := os.Stat(p)
		if os.IsNotExist(err) {
			continue // created on first boot
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", p, err))
			continue
		}
		if info.IsDir() {
			warnings = append(warnings, fmt.Sprintf("%s is a directory, expected a database file", p))
		}
	}
	return warnings
}
