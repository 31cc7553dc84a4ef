package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/automaker/internal/graph"
	"github.com/ShayCichocki/automaker/internal/orchestrator"
	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/pkg/models"
)

var featureCmd = &cobra.Command{
	Use:   "feature",
	Short: "Manage the project's feature board",
}

var (
	addCategory  string
	addPriority  int
	addSkipTests bool
	addModel     string
	addDeps      []string
	addImages    []string
)

var featureAddCmd = &cobra.Command{
	Use:   "add <description>",
	Short: "Add a feature to the backlog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		draft := &models.Feature{
			Description:  args[0],
			Category:     addCategory,
			Priority:     models.Priority(addPriority),
			SkipTests:    addSkipTests,
			Model:        addModel,
			Dependencies: addDeps,
		}
		for _, img := range addImages {
			draft.ImagePaths = append(draft.ImagePaths, models.ImagePath{Path: img})
		}

		if len(addDeps) > 0 {
			if err := checkDependencyEdit(e, draft); err != nil {
				return err
			}
		}

		f, err := e.store.Create(e.projectPath, draft)
		if err != nil {
			return err
		}
		fmt.Printf("created %s\n", f.ID)
		return nil
	},
}

var featureListCmd = &cobra.Command{
	Use:   "list",
	Short: "List features",
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
		if len(features) == 0 {
			fmt.Println("no features")
			return nil
		}
		for _, f := range features {
			fmt.Printf("%-13s %-17s %s\n", f.ShortID(), statusLabel(f.Status), f.Description)
		}
		return nil
	},
}

var featureShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one feature's full record",
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

		fmt.Printf("id:          %s\n", f.ID)
		fmt.Printf("status:      %s\n", f.Status)
		fmt.Printf("description: %s\n", f.Description)
		if f.Category != "" {
			fmt.Printf("category:    %s\n", f.Category)
		}
		fmt.Printf("priority:    %d\n", f.EffectivePriority())
		if len(f.Dependencies) > 0 {
			fmt.Printf("depends on:  %s\n", strings.Join(f.Dependencies, ", "))
		}
		if all, err := e.Features(); err == nil {
			g := graph.New()
			if g.Build(all) == nil {
				if dependents := g.Dependents(f.ID); len(dependents) > 0 {
					fmt.Printf("blocks:      %s\n", strings.Join(dependents, ", "))
				}
			}
		}
		if f.SkipTests {
			fmt.Println("skip tests:  yes (manual review required)")
		}
		if f.BranchName != "" {
			fmt.Printf("branch:      %s\n", f.BranchName)
		}
		if f.WorktreePath != "" {
			fmt.Printf("worktree:    %s\n", f.WorktreePath)
		}
		if f.PlanSpec != nil {
			fmt.Printf("plan:        %s\n", f.PlanSpec.Status)
		}
		if f.Summary != "" {
			fmt.Printf("summary:     %s\n", f.Summary)
		}
		if f.Error != "" {
			fmt.Printf("error:       %s\n", color.RedString(f.Error))
		}
		return nil
	},
}

var (
	updateStatus      string
	updateDescription string
	updatePriority    int
	updateDeps        []string
)

var featureUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a feature's fields",
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

		var partial store.Partial
		if cmd.Flags().Changed("status") {
			status := models.Status(updateStatus)
			if !status.Valid() {
				return fmt.Errorf("invalid status %q", updateStatus)
			}
			partial.Status = &status
		}
		if cmd.Flags().Changed("description") {
			partial.Description = &updateDescription
		}
		if cmd.Flags().Changed("priority") {
			p := models.Priority(updatePriority)
			partial.Priority = &p
		}
		if cmd.Flags().Changed("depends-on") {
			probe := *f
			probe.Dependencies = updateDeps
			if err := checkDependencyEdit(e, &probe); err != nil {
				return err
			}
			partial.Dependencies = &updateDeps
		}

		if _, err := e.store.Update(e.projectPath, f.ID, partial); err != nil {
			return err
		}
		fmt.Printf("updated %s\n", f.ShortID())
		return nil
	},
}

var featureDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a feature and its stored outputs",
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
		if err := e.store.Delete(e.projectPath, f.ID); err != nil {
			return err
		}
		fmt.Printf("deleted %s\n", f.ShortID())
		return nil
	},
}

var featureOutputCmd = &cobra.Command{
	Use:   "output <id>",
	Short: "Print the feature's agent transcript",
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
		out, err := e.store.GetAgentOutput(e.projectPath, f.ID)
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	},
}

var followUpPrompt string

// featureActionCmd builds the per-feature orchestrator commands that share
// the resolve-then-act shape.
func featureActionCmd(use, short string, act func(e *engine, id string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
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
			return act(e, f.ID)
		},
	}
}

// runAndWait starts a run and streams its events until the run reaches an
// outcome. The engine process hosts the agent child, so run-starting
// commands stay in the foreground.
func runAndWait(e *engine, id string, start func() error) error {
	if err := start(); err != nil {
		return err
	}
	for ev := range e.orch.Events() {
		if ev.FeatureID != id {
			continue
		}
		printEvent(ev)
		switch ev.Type {
		case orchestrator.EventFeatureCompleted, orchestrator.EventFeatureAborted,
			orchestrator.EventPlanApprovalRequired:
			return nil
		case orchestrator.EventFeatureErrored:
			return fmt.Errorf("run failed: %s", ev.Err)
		}
	}
	return nil
}

// checkDependencyEdit rebuilds the board's dependency graph with the
// probe's edges in place of the stored ones and rejects the edit if that
// closes a cycle. Unknown ids are kept with a warning; they block
// scheduling until the feature they name exists and verifies.
func checkDependencyEdit(e *engine, edited *models.Feature) error {
	existing, err := e.Features()
	if err != nil {
		return err
	}
	probe := *edited
	if probe.ID == "" {
		probe.ID = "pending"
	}

	board := make([]*models.Feature, 0, len(existing)+1)
	for _, f := range existing {
		if f.ID != probe.ID {
			board = append(board, f)
		}
	}
	board = append(board, &probe)

	g := graph.New()
	if err := g.Build(board); err != nil {
		return fmt.Errorf("dependencies of %s: %w", probe.ShortID(), err)
	}
	for _, id := range g.Missing(probe.ID) {
		fmt.Printf("warning: dependency %s matches no feature; this blocks scheduling\n", id)
	}
	return nil
}

func statusLabel(s models.Status) string {
	switch s {
	case models.StatusBacklog:
		return string(s)
	case models.StatusInProgress:
		return color.CyanString(string(s))
	case models.StatusWaitingApproval:
		return color.YellowString(string(s))
	case models.StatusVerified:
		return color.GreenString(string(s))
	case models.StatusArchived:
		return color.HiBlackString(string(s))
	default:
		return string(s)
	}
}

func init() {
	featureAddCmd.Flags().StringVar(&addCategory, "category", "", "grouping label")
	featureAddCmd.Flags().IntVar(&addPriority, "priority", 0, "1 high, 2 medium, 3 low")
	featureAddCmd.Flags().BoolVar(&addSkipTests, "skip-tests", false, "require manual review instead of tests")
	featureAddCmd.Flags().StringVar(&addModel, "model", "", "agent model override")
	featureAddCmd.Flags().StringSliceVar(&addDeps, "depends-on", nil, "feature ids that must finish first")
	featureAddCmd.Flags().StringSliceVar(&addImages, "image", nil, "image attachments")

	featureUpdateCmd.Flags().StringVar(&updateStatus, "status", "", "board status")
	featureUpdateCmd.Flags().StringVar(&updateDescription, "description", "", "description")
	featureUpdateCmd.Flags().IntVar(&updatePriority, "priority", 0, "1 high, 2 medium, 3 low")
	featureUpdateCmd.Flags().StringSliceVar(&updateDeps, "depends-on", nil, "replace the feature's dependency list")

	followUpCmd := featureActionCmd("follow-up", "Continue a waiting_approval feature with a new prompt", func(e *engine, id string) error {
		return runAndWait(e, id, func() error { return e.orch.FollowUpFeature(id, followUpPrompt, nil) })
	})
	followUpCmd.Flags().StringVar(&followUpPrompt, "prompt", "", "follow-up instructions")
	followUpCmd.MarkFlagRequired("prompt")

	featureCmd.AddCommand(
		featureAddCmd,
		featureListCmd,
		featureShowCmd,
		featureUpdateCmd,
		featureDeleteCmd,
		featureOutputCmd,
		featureActionCmd("start", "Run the agent on a feature", func(e *engine, id string) error {
			return runAndWait(e, id, func() error { return e.orch.RunFeature(id) })
		}),
		featureActionCmd("stop", "Cancel a feature's live run", func(e *engine, id string) error {
			return e.orch.StopFeature(id)
		}),
		featureActionCmd("verify", "Run tests for an in_progress feature", func(e *engine, id string) error {
			return runAndWait(e, id, func() error { return e.orch.VerifyFeature(id) })
		}),
		featureActionCmd("resume", "Resume an interrupted run", func(e *engine, id string) error {
			return runAndWait(e, id, func() error { return e.orch.ResumeFeature(id) })
		}),
		featureActionCmd("approve", "Approve a generated plan", func(e *engine, id string) error {
			return runAndWait(e, id, func() error { return e.orch.ApprovePlan(id) })
		}),
		featureActionCmd("commit", "Merge the feature branch and mark verified", func(e *engine, id string) error {
			return e.orch.CommitFeature(id)
		}),
		featureActionCmd("revert", "Discard the feature's work and return it to backlog", func(e *engine, id string) error {
			return e.orch.RevertFeature(id)
		}),
		followUpCmd,
	)
}
