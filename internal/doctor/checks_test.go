package doctor

import (
	"strings"
	"testing"

	"github.com/legionruntime/legion/internal/config"
)

func TestCheckConfigPolicies(t *testing.T) {
	cfg := config.Default()
	warnings := CheckConfigPolicies(cfg)
	if !hasWarning(warnings, "no AI providers") {
		t.Errorf("expected missing-provider warning, got %v", warnings)
	}
	if !hasWarning(warnings, "scheduler disabled") {
		t.Errorf("expected scheduler warning, got %v", warnings)
	}

	cfg.AI.Providers = map[string]config.ProviderConfig{"anthropic": {}}
	warnings = CheckConfigPolicies(cfg)
	if !hasWarning(warnings, "anthropic has no api_key") {
		t.Errorf("expected api_key warning, got %v", warnings)
	}

	cfg.AI.Providers = map[string]config.ProviderConfig{"ollama": {BaseURL: "http://localhost:11434"}}
	warnings = CheckConfigPolicies(cfg)
	if hasWarning(warnings, "api_key") {
		t.Errorf("ollama needs no api_key, got %v", warnings)
	}
}

func TestCheckConfigPolicies_NilConfig(t *testing.T) {
	if got := CheckConfigPolicies(nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestCheckDataFiles_DirectoryIsWarned(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = t.TempDir()
	cfg.Memory.IndexPath = ":memory:"
	warnings := CheckDataFiles(cfg)
	if !hasWarning(warnings, "is a directory") {
		t.Fatalf("expected directory warning, got %v", warnings)
	}
}

func TestCheckDataFiles_MissingFileIsFine(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = t.TempDir() + "/not-created-yet.db"
	cfg.Memory.IndexPath = ""
	if warnings := CheckDataFiles(cfg); len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
