package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Provider.Default != "claude" {
		t.Errorf("expected default provider 'claude', got %q", cfg.Provider.Default)
	}
	if cfg.Orchestrator.MaxConcurrency != 3 {
		t.Errorf("expected max concurrency 3, got %d", cfg.Orchestrator.MaxConcurrency)
	}
	if !cfg.Worktrees.Enabled {
		t.Error("expected worktrees enabled by default")
	}
	if cfg.Worktrees.SquashMerges {
		t.Error("expected squash merges off by default")
	}
	if !cfg.PlanRuns.KeepWorktree {
		t.Error("expected plan worktrees kept by default")
	}
	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}
}

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
provider:
  default: codex
  model: gpt-5.1-codex
orchestrator:
  max_concurrency: 5
worktrees:
  enabled: false
  squash_merges: true
plan_runs:
  keep_worktree: false
bedrock:
  enabled: true
  region: us-west-2
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Provider.Default != "codex" {
		t.Errorf("provider = %q", cfg.Provider.Default)
	}
	if cfg.Provider.Model != "gpt-5.1-codex" {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
	if cfg.Orchestrator.MaxConcurrency != 5 {
		t.Errorf("max concurrency = %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Worktrees.Enabled {
		t.Error("worktrees should be disabled")
	}
	if !cfg.Worktrees.SquashMerges {
		t.Error("squash merges should be enabled")
	}
	if cfg.PlanRuns.KeepWorktree {
		t.Error("keep_worktree should be false")
	}
	if !cfg.Bedrock.Enabled || cfg.Bedrock.Region != "us-west-2" {
		t.Errorf("bedrock = %+v", cfg.Bedrock)
	}
}

func TestLoadFromPathPartialKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("orchestrator:\n  max_concurrency: 8\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.Orchestrator.MaxConcurrency != 8 {
		t.Errorf("max concurrency = %d", cfg.Orchestrator.MaxConcurrency)
	}
	if cfg.Provider.Default != "claude" {
		t.Errorf("default provider lost: %q", cfg.Provider.Default)
	}
	if !cfg.Worktrees.Enabled {
		t.Error("default worktrees setting lost")
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"empty", "", true},
		{"wrong prefix", "key-1234567890123456789", true},
		{"too short", "sk-ant-123", true},
		{"valid", "sk-ant-REDACTED", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKey(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
		})
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := MaskAPIKey(""); got != "(not set)" {
		t.Errorf("empty key mask = %q", got)
	}
	if got := MaskAPIKey("short"); got != "*****" {
		t.Errorf("short key mask = %q", got)
	}
	masked := MaskAPIKey("sk-ant-REDACTED")
	if !strings.HasPrefix(masked, "sk-ant-") || !strings.HasSuffix(masked, "mnop") {
		t.Errorf("mask = %q", masked)
	}
	if strings.Contains(masked, "abcdefghijkl") {
		t.Errorf("mask leaks key body: %q", masked)
	}
}
