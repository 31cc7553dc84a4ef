package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/automaker/internal/worktree"
)

var worktreeCmd = &cobra.Command{
	Use:   "worktree",
	Short: "Inspect and manage feature worktrees",
}

var worktreeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all feature worktrees",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		records, err := e.worktrees.ListAllFeatureWorktrees(e.projectPath)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no feature worktrees")
			return nil
		}
		for _, rec := range records {
			fmt.Printf("%-40s %s\n", rec.Branch, rec.Path)
		}
		return nil
	},
}

var worktreeStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show changed files in a feature's worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		f, err := e.resolveFeature(args[0])
		if err != nil {
			return err
		}
		rec, err := e.worktrees.Get(e.projectPath, f.ID)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Println("no worktree")
			return nil
		}

		status, err := e.worktrees.Status(rec.Path)
		if err != nil {
			return err
		}
		if len(status.Files) == 0 {
			fmt.Println("clean")
			return nil
		}
		for _, file := range status.Files {
			fmt.Printf("%-10s %s\n", file.StatusText, file.Path)
		}
		if status.ModifiedCount > len(status.Files) {
			fmt.Printf("... and %d more\n", status.ModifiedCount-len(status.Files))
		}
		return nil
	},
}

var diffFile string

var worktreeDiffCmd = &cobra.Command{
	Use:   "diff <id>",
	Short: "Show the feature worktree's diff",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		f, err := e.resolveFeature(args[0])
		if err != nil {
			return err
		}
		rec, err := e.worktrees.Get(e.projectPath, f.ID)
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("feature %s has no worktree", f.ShortID())
		}

		if diffFile != "" {
			diff, err := e.worktrees.FileDiff(rec.Path, diffFile)
			if err != nil {
				return err
			}
			fmt.Print(diff)
			return nil
		}

		set, err := e.worktrees.AllFileDiffs(rec.Path)
		if err != nil {
			return err
		}
		fmt.Print(set.Diff)
		return nil
	},
}

var (
	mergeSquash  bool
	mergeCleanup bool
	mergeMessage string
)

var worktreeMergeCmd = &cobra.Command{
	Use:   "merge <id>",
	Short: "Merge a feature branch into the project branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		f, err := e.resolveFeature(args[0])
		if err != nil {
			return err
		}
		return e.orch.MergeFeature(f.ID, worktree.MergeOptions{
			Squash:        mergeSquash,
			SquashMessage: mergeMessage,
			CommitMessage: mergeMessage,
			Cleanup:       mergeCleanup,
		})
	},
}

var cleanupDryRun bool

var worktreeCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove worktrees whose features no longer exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		features, err := e.Features()
		if err != nil {
			return err
		}
		activeIDs := make([]string, 0, len(features))
		for _, f := range features {
			activeIDs = append(activeIDs, f.ID)
		}

		if cleanupDryRun {
			records, err := e.worktrees.ListAllFeatureWorktrees(e.projectPath)
			if err != nil {
				return err
			}
			fmt.Printf("%d feature worktrees, %d active features\n", len(records), len(activeIDs))
			return nil
		}

		removed, err := e.worktrees.CleanupOrphaned(e.projectPath, activeIDs)
		if err != nil {
			return err
		}
		fmt.Printf("removed %d orphaned worktrees\n", removed)
		return nil
	},
}

func init() {
	worktreeDiffCmd.Flags().StringVar(&diffFile, "file", "", "show only this file's diff")
	worktreeMergeCmd.Flags().BoolVar(&mergeSquash, "squash", false, "squash-merge the branch")
	worktreeMergeCmd.Flags().BoolVar(&mergeCleanup, "cleanup", false, "remove the worktree and branch after merging")
	worktreeMergeCmd.Flags().StringVar(&mergeMessage, "message", "", "commit message override")
	worktreeCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report only, remove nothing")

	worktreeCmd.AddCommand(
		worktreeListCmd,
		worktreeStatusCmd,
		worktreeDiffCmd,
		worktreeMergeCmd,
		worktreeCleanupCmd,
	)
}
