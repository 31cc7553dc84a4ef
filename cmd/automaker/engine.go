package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ShayCichocki/automaker/internal/agent"
	"github.com/ShayCichocki/automaker/internal/api"
	"github.com/ShayCichocki/automaker/internal/config"
	"github.com/ShayCichocki/automaker/internal/orchestrator"
	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/internal/worktree"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// engine bundles the per-project services the commands operate on.
type engine struct {
	projectPath string
	cfg         *config.Config
	store       *store.FeatureStore
	userData    *store.UserData
	worktrees   *worktree.Manager
	orch        *orchestrator.Orchestrator
}

// newEngine builds the engine for the --project directory. The tool-call
// bridge starts listening as part of construction.
func newEngine(ctx context.Context) (*engine, error) {
	projectPath, err := filepath.Abs(projectFlag)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	registry, err := agent.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg.Provider.RegistryPath != "" {
		if err := registry.LoadFile(cfg.Provider.RegistryPath); err != nil {
			return nil, fmt.Errorf("load provider registry: %w", err)
		}
	}

	st := store.NewFeatureStore()
	wt := worktree.NewManager()
	runner := agent.NewRunner(st)

	orch, err := orchestrator.New(ctx, projectPath, st, wt, runner, registry, orchestrator.Options{
		MaxConcurrency:   cfg.Orchestrator.MaxConcurrency,
		UseWorktrees:     cfg.Worktrees.Enabled,
		SquashMerges:     cfg.Worktrees.SquashMerges,
		KeepPlanWorktree: cfg.PlanRuns.KeepWorktree,
		DefaultProvider:  cfg.Provider.Default,
		DefaultModel:     cfg.Provider.Model,
	})
	if err != nil {
		return nil, err
	}

	e := &engine{
		projectPath: projectPath,
		cfg:         cfg,
		store:       st,
		userData:    store.NewUserData(""),
		worktrees:   wt,
		orch:        orch,
	}
	e.wireCompletionClient()
	return e, nil
}

// wireCompletionClient attaches the model API client when credentials are
// available. Suggestions and spec generation stay disabled otherwise.
func (e *engine) wireCompletionClient() {
	clientCfg := api.ClientConfig{
		UseAWSBedrock: e.cfg.Bedrock.Enabled,
		AWSRegion:     e.cfg.Bedrock.Region,
		AWSProfile:    e.cfg.Bedrock.Profile,
	}
	if !clientCfg.UseAWSBedrock {
		key, err := config.GetAPIKey(e.userData)
		if err != nil {
			return
		}
		clientCfg.APIKey = key
	}
	client, err := api.NewClient(clientCfg)
	if err != nil {
		return
	}
	e.orch.SetCompletionClient(client)
}

func (e *engine) Close() error {
	return e.orch.Close()
}

// Features lists the project's features.
func (e *engine) Features() ([]*models.Feature, error) {
	return e.store.List(e.projectPath)
}

// RunFeature, StopFeature, ApprovePlan, and Status satisfy the board's
// engine interface.
func (e *engine) RunFeature(id string) error  { return e.orch.RunFeature(id) }
func (e *engine) StopFeature(id string) error { return e.orch.StopFeature(id) }
func (e *engine) ApprovePlan(id string) error { return e.orch.ApprovePlan(id) }
func (e *engine) Status() orchestrator.AutoModeStatus {
	return e.orch.Status()
}

// resolveFeature accepts a full id or a short-id prefix.
func (e *engine) resolveFeature(ref string) (*models.Feature, error) {
	if f, err := e.store.Get(e.projectPath, ref); err == nil {
		return f, nil
	}
	features, err := e.store.List(e.projectPath)
	if err != nil {
		return nil, err
	}
	var match *models.Feature
	for _, f := range features {
		if models.ShortID(f.ID) == ref || f.ShortID() == models.ShortID(ref) {
			if match != nil {
				return nil, fmt.Errorf("feature reference %q is ambiguous", ref)
			}
			match = f
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no feature matches %q", ref)
	}
	return match, nil
}
