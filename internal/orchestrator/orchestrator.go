package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ShayCichocki/automaker/internal/agent"
	"github.com/ShayCichocki/automaker/internal/bridge"
	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/internal/worktree"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// AgentRunner is the slice of the agent runner the orchestrator depends on.
type AgentRunner interface {
	Run(ctx context.Context, p agent.Provider, cfg agent.RunConfig, subscriber chan<- agent.Event) (*agent.Result, error)
	CheckInstalled(p agent.Provider) error
}

// Options configure an Orchestrator.
type Options struct {
	// MaxConcurrency bounds concurrently running feature agents.
	MaxConcurrency int
	// UseWorktrees runs each feature in an isolated git worktree when the
	// project is a repository.
	UseWorktrees bool
	// SquashMerges selects squash commits when integrating feature branches.
	SquashMerges bool
	// KeepPlanWorktree reuses the plan run's worktree after approval.
	KeepPlanWorktree bool
	// DefaultProvider and DefaultModel apply when a feature does not choose.
	DefaultProvider string
	DefaultModel    string
	// EventBuffer sizes the subscriber channel.
	EventBuffer int
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 3
	}
	if o.DefaultProvider == "" {
		o.DefaultProvider = "claude"
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 256
	}
	return o
}

// runKind distinguishes what an agent run is for.
type runKind string

const (
	runImplement runKind = "implement"
	runVerify    runKind = "verify"
	runResume    runKind = "resume"
	runFollowUp  runKind = "follow_up"
	runPlan      runKind = "plan"
)

// ErrBudgetExhausted rejects a run request when every concurrency slot is
// taken. Paused plan sessions count against the budget.
var ErrBudgetExhausted = errors.New("concurrency budget exhausted")

// runSession tracks one live (or plan-paused) feature run. It occupies a
// concurrency slot until removed.
type runSession struct {
	featureID string
	kind      runKind
	ctx       context.Context
	cancel    context.CancelFunc
	// done closes when the session leaves the running set.
	done chan struct{}
	// paused marks a plan-gated run that finished planning and holds its
	// slot while waiting for approval.
	paused bool
}

// Orchestrator owns scheduler state and the set of live sessions for one
// project.
type Orchestrator struct {
	projectPath string
	opts        Options

	store     *store.FeatureStore
	worktrees *worktree.Manager
	agents    AgentRunner
	registry  *agent.Registry
	bridge    *bridge.Server
	emitter   *EventEmitter
	logger    *DebugLogger
	singles   *supervisor

	mu             sync.Mutex
	api            CompletionClient
	autoMode       bool
	maxConcurrency int
	running        map[string]*runSession
}

// New creates an Orchestrator for a project and starts its tool-call bridge.
func New(ctx context.Context, projectPath string, st *store.FeatureStore, wt *worktree.Manager, agents AgentRunner, registry *agent.Registry, opts Options) (*Orchestrator, error) {
	opts = opts.withDefaults()

	o := &Orchestrator{
		projectPath:    projectPath,
		opts:           opts,
		store:          st,
		worktrees:      wt,
		agents:         agents,
		registry:       registry,
		emitter:        NewEventEmitter(opts.EventBuffer),
		logger:         NewDebugLoggerForProject(projectPath),
		singles:        newSupervisor(),
		maxConcurrency: opts.MaxConcurrency,
		running:        make(map[string]*runSession),
	}

	o.bridge = bridge.NewServer(&featureService{store: st})
	if err := o.bridge.Start(ctx); err != nil {
		return nil, fmt.Errorf("start tool bridge: %w", err)
	}
	o.logger.Log("orchestrator ready: project=%s bridge=%s maxConcurrency=%d", projectPath, o.bridge.Addr(), opts.MaxConcurrency)
	return o, nil
}

// Close stops the bridge and the debug logger. In-flight runs keep their
// contexts; cancel them first with StopFeature if needed.
func (o *Orchestrator) Close() error {
	err := o.bridge.Stop()
	o.logger.Close()
	return err
}

// Events returns the subscriber channel.
func (o *Orchestrator) Events() <-chan Event {
	return o.emitter.Events()
}

// Start enables auto-mode and immediately fills free slots.
func (o *Orchestrator) Start(maxConcurrency int) {
	o.mu.Lock()
	o.autoMode = true
	if maxConcurrency > 0 {
		o.maxConcurrency = maxConcurrency
	}
	o.mu.Unlock()
	o.logger.Log("auto-mode enabled, maxConcurrency=%d", o.MaxConcurrency())
	o.tick()
}

// Stop disables auto-mode. In-flight runs continue; use StopFeature to
// cancel them.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	o.autoMode = false
	o.mu.Unlock()
	o.logger.Log("auto-mode disabled")
}

// AutoModeStatus describes scheduler state.
type AutoModeStatus struct {
	AutoModeEnabled bool     `json:"autoModeEnabled"`
	Running         []string `json:"running"`
	MaxConcurrency  int      `json:"maxConcurrency"`
}

// Status reports whether auto-mode is on and which features are running.
func (o *Orchestrator) Status() AutoModeStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	running := make([]string, 0, len(o.running))
	for id := range o.running {
		running = append(running, id)
	}
	sort.Strings(running)
	return AutoModeStatus{
		AutoModeEnabled: o.autoMode,
		Running:         running,
		MaxConcurrency:  o.maxConcurrency,
	}
}

// MaxConcurrency returns the current concurrency budget.
func (o *Orchestrator) MaxConcurrency() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.maxConcurrency
}

// StopFeature cancels the feature's live run. It returns as soon as the
// cancel signal is raised; teardown is observed via events.
func (o *Orchestrator) StopFeature(featureID string) error {
	o.mu.Lock()
	sess, ok := o.running[featureID]
	if ok && sess.paused {
		// A plan-paused session has no live process; cancelling it just
		// frees the slot.
		delete(o.running, featureID)
		close(sess.done)
	}
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("feature %s is not running", featureID)
	}
	sess.cancel()
	o.logger.Log("stop requested for feature %s", featureID)
	return nil
}

// acquireSlot registers a session for the feature. It is the single
// gatekeeper for the concurrency budget: it fails when the feature
// already has a live session or when every slot is taken, manual and
// scheduled starts alike.
func (o *Orchestrator) acquireSlot(featureID string, kind runKind, ctx context.Context, cancel context.CancelFunc) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[featureID]; ok {
		return fmt.Errorf("feature %s is already running", featureID)
	}
	if len(o.running) >= o.maxConcurrency {
		return fmt.Errorf("%w: %d running, budget %d", ErrBudgetExhausted, len(o.running), o.maxConcurrency)
	}
	o.running[featureID] = &runSession{
		featureID: featureID,
		kind:      kind,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	return nil
}

// releaseSlot removes the feature's session and, when auto-mode is on,
// triggers another scheduling tick.
func (o *Orchestrator) releaseSlot(featureID string) {
	o.mu.Lock()
	if sess, ok := o.running[featureID]; ok {
		delete(o.running, featureID)
		close(sess.done)
	}
	auto := o.autoMode
	o.mu.Unlock()
	if auto {
		o.tick()
	}
}

// featureService adapts the store to the bridge's service interface.
type featureService struct {
	store *store.FeatureStore
}

var _ bridge.FeatureService = (*featureService)(nil)

func (s *featureService) Feature(projectPath, id string) (*models.Feature, error) {
	return s.store.Get(projectPath, id)
}

// SetStatus delegates to the store. The error field clears on every
// agent-driven status change; agents report failures through the run
// result, not this path.
func (s *featureService) SetStatus(projectPath, id string, status models.Status, summary *string) (*models.Feature, error) {
	return s.store.SetStatus(projectPath, id, status, summary, nil)
}

func (s *featureService) UpdatePlan(projectPath, id string, plan *models.PlanSpec) (*models.Feature, error) {
	return s.store.Update(projectPath, id, store.Partial{PlanSpec: &plan})
}

func (s *featureService) AttachFile(projectPath, id, path string) error {
	f, err := s.store.Get(projectPath, id)
	if err != nil {
		return err
	}
	paths := append(f.ImagePaths, models.ImagePath{Path: path})
	_, err = s.store.Update(projectPath, id, store.Partial{ImagePaths: &paths})
	return err
}
