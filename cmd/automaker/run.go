package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/automaker/internal/orchestrator"
	"github.com/ShayCichocki/automaker/pkg/models"
)

var runConcurrency int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run auto-mode headless, streaming progress to the terminal",
	Long: `Enables auto-mode for the project and keeps scheduling eligible
features up to the concurrency budget. Runs until interrupted; in-flight
agents get a termination signal and a short grace period on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		e, err := newEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		e.orch.Start(runConcurrency)
		fmt.Printf("auto-mode running on %s (concurrency %d), ctrl-c to stop\n",
			e.projectPath, e.orch.MaxConcurrency())

		for {
			select {
			case <-sigCh:
				fmt.Println("\nstopping...")
				e.orch.Stop()
				for _, id := range e.orch.Status().Running {
					e.orch.StopFeature(id)
				}
				return nil
			case ev := <-e.orch.Events():
				printEvent(ev)
			}
		}
	},
}

func init() {
	runCmd.Flags().IntVarP(&runConcurrency, "concurrency", "c", 0, "max concurrent agents (0 uses config)")
}

func printEvent(ev orchestrator.Event) {
	id := models.ShortID(ev.FeatureID)
	switch ev.Type {
	case orchestrator.EventFeatureStarted:
		color.Cyan("▶ %s started", id)
	case orchestrator.EventFeatureCompleted:
		if ev.Text != "" {
			color.Green("✓ %s completed: %s", id, ev.Text)
		} else {
			color.Green("✓ %s completed", id)
		}
	case orchestrator.EventFeatureErrored:
		color.Red("✗ %s failed: %s", id, ev.Err)
	case orchestrator.EventFeatureAborted:
		color.Yellow("■ %s stopped", id)
	case orchestrator.EventPlanApprovalRequired:
		color.Magenta("? %s plan ready, approval required", id)
	case orchestrator.EventToolUse:
		fmt.Printf("  %s > %s\n", id, ev.Tool)
	case orchestrator.EventError:
		color.Red("  %s", ev.Err)
	}
}
