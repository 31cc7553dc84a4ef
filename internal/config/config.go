// Package config handles engine configuration loading. It supports XDG
// config paths and project-level overrides; no environment variables are
// required, and credentials never come from the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Provider     ProviderConfig     `mapstructure:"provider"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worktrees    WorktreesConfig    `mapstructure:"worktrees"`
	PlanRuns     PlanRunsConfig     `mapstructure:"plan_runs"`
	Bedrock      BedrockConfig      `mapstructure:"bedrock"`
	TUI          TUIConfig          `mapstructure:"tui"`
}

// ProviderConfig selects the coding-agent provider.
type ProviderConfig struct {
	// Default is the provider used when a feature does not choose one.
	Default string `mapstructure:"default"`
	// Model overrides the provider's default model.
	Model string `mapstructure:"model"`
	// RegistryPath points at a YAML file overlaying the built-in provider
	// registry.
	RegistryPath string `mapstructure:"registry_path"`
}

// OrchestratorConfig holds scheduler settings.
type OrchestratorConfig struct {
	MaxConcurrency int `mapstructure:"max_concurrency"`
}

// WorktreesConfig holds worktree isolation settings.
type WorktreesConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	SquashMerges bool `mapstructure:"squash_merges"`
}

// PlanRunsConfig holds plan-gated run settings.
type PlanRunsConfig struct {
	// KeepWorktree reuses the planning worktree for the implementation run.
	KeepWorktree bool `mapstructure:"keep_worktree"`
}

// BedrockConfig routes model API calls through AWS Bedrock.
type BedrockConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Region  string `mapstructure:"region"`
	Profile string `mapstructure:"profile"`
}

// TUIConfig holds board display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths and project overrides.
// Precedence (highest to lowest):
// 1. Project config (.automaker.yaml in current directory or parent)
// 2. User config (~/.config/automaker/config.yaml)
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("provider.default", cfg.Provider.Default)
	v.Set("provider.model", cfg.Provider.Model)
	v.Set("provider.registry_path", cfg.Provider.RegistryPath)
	v.Set("orchestrator.max_concurrency", cfg.Orchestrator.MaxConcurrency)
	v.Set("worktrees.enabled", cfg.Worktrees.Enabled)
	v.Set("worktrees.squash_merges", cfg.Worktrees.SquashMerges)
	v.Set("plan_runs.keep_worktree", cfg.PlanRuns.KeepWorktree)
	v.Set("bedrock.enabled", cfg.Bedrock.Enabled)
	v.Set("bedrock.region", cfg.Bedrock.Region)
	v.Set("bedrock.profile", cfg.Bedrock.Profile)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it
// exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider.default", "claude")
	v.SetDefault("provider.model", "")
	v.SetDefault("provider.registry_path", "")

	v.SetDefault("orchestrator.max_concurrency", 3)

	v.SetDefault("worktrees.enabled", true)
	v.SetDefault("worktrees.squash_merges", false)

	v.SetDefault("plan_runs.keep_worktree", true)

	v.SetDefault("bedrock.enabled", false)
	v.SetDefault("bedrock.region", "")
	v.SetDefault("bedrock.profile", "")

	v.SetDefault("tui.refresh_rate", "100ms")
}

// getUserConfigDir returns the XDG config directory for automaker.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "automaker")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "automaker")
	}
	return filepath.Join(home, ".config", "automaker")
}

// findProjectConfig searches for .automaker.yaml in the current directory
// and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".automaker.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Provider: ProviderConfig{
			Default: "claude",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrency: 3,
		},
		Worktrees: WorktreesConfig{
			Enabled: true,
		},
		PlanRuns: PlanRunsConfig{
			KeepWorktree: true,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
