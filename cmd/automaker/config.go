package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/automaker/internal/config"
	"github.com/ShayCichocki/automaker/internal/store"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify automaker configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/automaker/config.yaml
Project-specific overrides can be placed in .automaker.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
			return nil
		case 1:
			value, err := getConfigValue(cfg, args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		default:
			if err := setConfigValue(cfg, args[0], args[1]); err != nil {
				return err
			}
			if err := config.Save(cfg); err != nil {
				return fmt.Errorf("saving config: %w", err)
			}
			fmt.Printf("Set %s = %s\n", args[0], args[1])
			return nil
		}
	},
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-api-key <key>",
	Short: "Store the Anthropic API key in the credentials file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userData := store.NewUserData("")
		if err := config.SetAPIKey(userData, args[0]); err != nil {
			return err
		}
		fmt.Printf("Stored API key %s\n", config.MaskAPIKey(args[0]))
		return nil
	},
}

func displayAllConfig(cfg *config.Config) {
	fmt.Printf("provider.default: %s\n", cfg.Provider.Default)
	fmt.Printf("provider.model: %s\n", orUnset(cfg.Provider.Model))
	fmt.Printf("provider.registry_path: %s\n", orUnset(cfg.Provider.RegistryPath))
	fmt.Printf("orchestrator.max_concurrency: %d\n", cfg.Orchestrator.MaxConcurrency)
	fmt.Printf("worktrees.enabled: %t\n", cfg.Worktrees.Enabled)
	fmt.Printf("worktrees.squash_merges: %t\n", cfg.Worktrees.SquashMerges)
	fmt.Printf("plan_runs.keep_worktree: %t\n", cfg.PlanRuns.KeepWorktree)
	fmt.Printf("bedrock.enabled: %t\n", cfg.Bedrock.Enabled)
	fmt.Printf("bedrock.region: %s\n", orUnset(cfg.Bedrock.Region))
	fmt.Printf("bedrock.profile: %s\n", orUnset(cfg.Bedrock.Profile))
	fmt.Printf("tui.refresh_rate: %s\n", cfg.TUI.RefreshRate)
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "provider.default":
		return cfg.Provider.Default, nil
	case "provider.model":
		return orUnset(cfg.Provider.Model), nil
	case "provider.registry_path":
		return orUnset(cfg.Provider.RegistryPath), nil
	case "orchestrator.max_concurrency":
		return strconv.Itoa(cfg.Orchestrator.MaxConcurrency), nil
	case "worktrees.enabled":
		return strconv.FormatBool(cfg.Worktrees.Enabled), nil
	case "worktrees.squash_merges":
		return strconv.FormatBool(cfg.Worktrees.SquashMerges), nil
	case "plan_runs.keep_worktree":
		return strconv.FormatBool(cfg.PlanRuns.KeepWorktree), nil
	case "bedrock.enabled":
		return strconv.FormatBool(cfg.Bedrock.Enabled), nil
	case "bedrock.region":
		return orUnset(cfg.Bedrock.Region), nil
	case "bedrock.profile":
		return orUnset(cfg.Bedrock.Profile), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "provider.default":
		cfg.Provider.Default = value
	case "provider.model":
		cfg.Provider.Model = value
	case "provider.registry_path":
		cfg.Provider.RegistryPath = value
	case "orchestrator.max_concurrency":
		n, err := strconv.Atoi(value)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid value for max_concurrency: %s", value)
		}
		cfg.Orchestrator.MaxConcurrency = n
	case "worktrees.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for worktrees.enabled: %w", err)
		}
		cfg.Worktrees.Enabled = b
	case "worktrees.squash_merges":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for worktrees.squash_merges: %w", err)
		}
		cfg.Worktrees.SquashMerges = b
	case "plan_runs.keep_worktree":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for plan_runs.keep_worktree: %w", err)
		}
		cfg.PlanRuns.KeepWorktree = b
	case "bedrock.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for bedrock.enabled: %w", err)
		}
		cfg.Bedrock.Enabled = b
	case "bedrock.region":
		cfg.Bedrock.Region = value
	case "bedrock.profile":
		cfg.Bedrock.Profile = value
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}

func init() {
	configCmd.AddCommand(configSetKeyCmd)
}
