package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/automaker/internal/tui"
	"github.com/ShayCichocki/automaker/internal/watch"
)

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Open the interactive feature board",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBoard(cmd)
	},
}

func runBoard(cmd *cobra.Command) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	e, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	program, _ := tui.NewProgram(e)

	// Orchestrator events drive the board.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-e.orch.Events():
				program.Send(tui.EngineEventMsg{Event: ev})
			}
		}
	}()

	// Out-of-band record edits refresh it too. Best effort: a project
	// without a features directory just goes unwatched.
	if watcher, err := watch.New(e.projectPath, func() {
		program.Send(tui.RefreshMsg{})
	}); err == nil {
		defer watcher.Close()
	}

	_, err = program.Run()
	return err
}
