package main

import (
	"github.com/spf13/cobra"
)

var projectFlag string

var rootCmd = &cobra.Command{
	Use:   "automaker",
	Short: "Autonomous feature orchestrator",
	Long: `Automaker keeps a per-project board of features and drives external
coding agents to implement them. Features run in isolated git worktrees up to
a concurrency budget; agents report status back over a local tool-call bridge.

With no arguments, opens the interactive board for the current project.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoard(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectFlag, "project", "p", ".", "project directory")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(featureCmd)
	rootCmd.AddCommand(worktreeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
