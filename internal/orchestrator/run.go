package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ShayCichocki/automaker/internal/agent"
	"github.com/ShayCichocki/automaker/internal/bridge"
	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/internal/worktree"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// ErrUnsupportedProvider marks a run request for a provider the registry
// does not know. CLI wrappers map it to a dedicated exit code.
var ErrUnsupportedProvider = errors.New("unsupported provider")

// RunFeature starts an agent run for the feature. It returns as soon as the
// run is admitted; progress arrives on the event channel.
func (o *Orchestrator) RunFeature(featureID string) error {
	return o.startRun(featureID, runImplement, "")
}

// VerifyFeature runs the agent with a narrower prompt that executes and
// interprets tests. Requires status in_progress.
func (o *Orchestrator) VerifyFeature(featureID string) error {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		return err
	}
	if f.Status != models.StatusInProgress {
		return fmt.Errorf("verifyFeature requires status in_progress, feature %s is %s", featureID, f.Status)
	}
	return o.startRun(featureID, runVerify, "")
}

// ResumeFeature restarts an interrupted run, feeding the prior transcript
// back as context. Requires status in_progress with no live session.
func (o *Orchestrator) ResumeFeature(featureID string) error {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		return err
	}
	if f.Status != models.StatusInProgress {
		return fmt.Errorf("resumeFeature requires status in_progress, feature %s is %s", featureID, f.Status)
	}
	transcript, err := o.store.GetAgentOutput(o.projectPath, featureID)
	if err != nil {
		return err
	}
	if transcript == "" {
		return fmt.Errorf("feature %s has no transcript to resume from", featureID)
	}
	return o.startRun(featureID, runResume, "")
}

// FollowUpFeature continues a waiting_approval feature with a new user
// message, keeping the same worktree.
func (o *Orchestrator) FollowUpFeature(featureID, prompt string, imagePaths []string) error {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		return err
	}
	if f.Status != models.StatusWaitingApproval {
		return fmt.Errorf("followUpFeature requires status waiting_approval, feature %s is %s", featureID, f.Status)
	}
	if len(imagePaths) > 0 {
		paths := f.ImagePaths
		for _, p := range imagePaths {
			paths = append(paths, models.ImagePath{Path: p})
		}
		if _, err := o.store.Update(o.projectPath, featureID, store.Partial{ImagePaths: &paths}); err != nil {
			return err
		}
	}
	return o.startRun(featureID, runFollowUp, prompt)
}

// startRun validates the request, resolves the provider, acquires a slot,
// and launches the run goroutine.
func (o *Orchestrator) startRun(featureID string, kind runKind, extraPrompt string) error {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		return err
	}

	provider, err := o.providerFor(f)
	if err != nil {
		return err
	}

	if kind == runImplement && planGated(f) {
		kind = runPlan
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := o.acquireSlot(featureID, kind, ctx, cancel); err != nil {
		cancel()
		return err
	}

	go o.executeRun(ctx, featureID, kind, provider, extraPrompt)
	return nil
}

// providerFor resolves the feature's provider, falling back to the
// configured default.
func (o *Orchestrator) providerFor(f *models.Feature) (agent.Provider, error) {
	name := o.opts.DefaultProvider
	p, err := o.registry.Provider(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedProvider, err)
	}
	return p, nil
}

// planGated reports whether the feature must produce an approved plan
// before implementation.
func planGated(f *models.Feature) bool {
	return f.PlanSpec != nil && f.PlanSpec.Status != models.PlanApproved
}

// executeRun drives one agent run end to end: status stamping, worktree
// setup, bridge registration, event forwarding, and outcome recording.
func (o *Orchestrator) executeRun(ctx context.Context, featureID string, kind runKind, provider agent.Provider, extraPrompt string) {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		o.failRun(featureID, fmt.Errorf("load feature: %w", err))
		return
	}

	status := models.StatusInProgress
	partial := store.Partial{Status: &status}
	if f.StartedAt == nil {
		now := time.Now()
		ptr := &now
		partial.StartedAt = &ptr
	}
	if f, err = o.store.Update(o.projectPath, featureID, partial); err != nil {
		o.failRun(featureID, fmt.Errorf("mark in_progress: %w", err))
		return
	}

	o.emitter.Emit(Event{Type: EventFeatureStarted, FeatureID: featureID})
	o.logger.Log("run started: feature=%s kind=%s provider=%s", featureID, kind, provider.Name())

	workDir := o.projectPath
	if o.opts.UseWorktrees && o.worktrees.IsVCSRepo(o.projectPath) {
		created, err := o.worktrees.Create(o.projectPath, f)
		if err != nil {
			o.failRun(featureID, fmt.Errorf("create worktree: %w", err))
			return
		}
		workDir = created.Path
		branch := created.Branch
		path := created.Path
		if f, err = o.store.Update(o.projectPath, featureID, store.Partial{WorktreePath: &path, BranchName: &branch}); err != nil {
			o.failRun(featureID, fmt.Errorf("record worktree: %w", err))
			return
		}
	}

	grant := o.bridge.RegisterRun(bridge.RunGrant{
		ProjectPath:    o.projectPath,
		FeatureID:      featureID,
		AllowPlanTools: kind == runPlan,
		AllowFileTools: kind == runImplement || kind == runFollowUp,
	})
	defer o.bridge.ReleaseRun(grant.Token)

	prompt, err := o.buildPrompt(f, kind, extraPrompt)
	if err != nil {
		o.failRun(featureID, fmt.Errorf("build prompt: %w", err))
		return
	}

	images := o.encodeImages(f)

	model := f.Model
	if model == "" {
		model = o.opts.DefaultModel
	}

	agentCh := make(chan agent.Event, 64)
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		o.forwardAgentEvents(agentCh)
	}()

	result, runErr := o.agents.Run(ctx, provider, agent.RunConfig{
		FeatureID:       featureID,
		ProjectPath:     o.projectPath,
		WorkDir:         workDir,
		Prompt:          prompt,
		Model:           model,
		ThinkingLevel:   f.ThinkingLevel,
		ReasoningEffort: f.ReasoningEffort,
		BridgeEndpoint:  o.bridge.Addr(),
		BridgeToken:     grant.Token,
		Images:          images,
	}, agentCh)
	close(agentCh)
	<-forwarded

	switch {
	case result != nil && result.Aborted:
		// Cancelled: status stays in_progress, error field untouched.
		o.logger.Log("run aborted: feature=%s", featureID)
		o.emitter.Emit(Event{Type: EventFeatureAborted, FeatureID: featureID})
	case runErr != nil:
		o.failRun(featureID, runErr)
		return
	case kind == runPlan:
		o.finishPlanRun(featureID, result)
		return
	default:
		o.finishRun(featureID, result)
	}
	o.releaseSlot(featureID)
}

// failRun records the error on the feature, emits feature_errored, and
// frees the slot. The feature stays in_progress; the orchestrator never
// retries on its own.
func (o *Orchestrator) failRun(featureID string, err error) {
	msg := err.Error()
	if _, serr := o.store.SetStatus(o.projectPath, featureID, models.StatusInProgress, nil, &msg); serr != nil {
		log.Printf("[orchestrator] record error for %s: %v", featureID, serr)
	}
	o.logger.Log("run failed: feature=%s err=%v", featureID, err)
	o.emitter.Emit(Event{Type: EventFeatureErrored, FeatureID: featureID, Err: msg})
	o.releaseSlot(featureID)
}

// finishRun stamps justFinishedAt when the tool-call policy landed the
// feature in a reviewed state and emits feature_completed.
func (o *Orchestrator) finishRun(featureID string, result *agent.Result) {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		o.logger.Log("finish run: reload %s: %v", featureID, err)
		o.emitter.Emit(Event{Type: EventFeatureCompleted, FeatureID: featureID})
		return
	}

	if f.Status == models.StatusWaitingApproval || f.Status == models.StatusVerified {
		now := time.Now()
		ptr := &now
		if _, err := o.store.Update(o.projectPath, featureID, store.Partial{JustFinishedAt: &ptr}); err != nil {
			o.logger.Log("finish run: stamp %s: %v", featureID, err)
		}
	}

	summary := ""
	if result != nil {
		summary = result.Summary
	}
	o.logger.Log("run completed: feature=%s status=%s", featureID, f.Status)
	o.emitter.Emit(Event{Type: EventFeatureCompleted, FeatureID: featureID, Text: summary})
}

// finishPlanRun marks the generated plan and pauses the session: the slot
// stays occupied until the plan is approved or the run is cancelled.
func (o *Orchestrator) finishPlanRun(featureID string, result *agent.Result) {
	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		o.failRun(featureID, fmt.Errorf("reload after plan run: %w", err))
		return
	}

	plan := f.PlanSpec
	if plan == nil {
		plan = &models.PlanSpec{}
		if result != nil {
			plan.Content = result.Summary
		}
	}
	plan.Status = models.PlanGenerated
	if _, err := o.store.Update(o.projectPath, featureID, store.Partial{PlanSpec: &plan}); err != nil {
		o.failRun(featureID, fmt.Errorf("record generated plan: %w", err))
		return
	}

	o.mu.Lock()
	if sess, ok := o.running[featureID]; ok {
		sess.paused = true
	}
	o.mu.Unlock()

	o.logger.Log("plan generated for feature %s, awaiting approval", featureID)
	o.emitter.Emit(Event{Type: EventPlanApprovalRequired, FeatureID: featureID})
}

// ApprovePlan marks the feature's plan approved and resumes the paused
// session with an implementation run. Whether the plan run's worktree is
// reused is configuration.
func (o *Orchestrator) ApprovePlan(featureID string) error {
	o.mu.Lock()
	sess, ok := o.running[featureID]
	if !ok || !sess.paused {
		o.mu.Unlock()
		return fmt.Errorf("feature %s has no plan awaiting approval", featureID)
	}
	sess.paused = false
	sess.kind = runImplement
	ctx := sess.ctx
	o.mu.Unlock()

	f, err := o.store.Get(o.projectPath, featureID)
	if err != nil {
		return err
	}
	if f.PlanSpec == nil {
		return fmt.Errorf("feature %s has no plan", featureID)
	}
	plan := *f.PlanSpec
	plan.Status = models.PlanApproved
	planPtr := &plan
	if _, err := o.store.Update(o.projectPath, featureID, store.Partial{PlanSpec: &planPtr}); err != nil {
		return err
	}

	if !o.opts.KeepPlanWorktree && f.WorktreePath != "" {
		if err := o.worktrees.Remove(o.projectPath, featureID, false); err != nil {
			o.logger.Log("approve plan: drop plan worktree for %s: %v", featureID, err)
		}
	}

	provider, err := o.providerFor(f)
	if err != nil {
		return err
	}
	go o.executeRun(ctx, featureID, runImplement, provider, "")
	return nil
}

// CommitFeature merges the feature branch into the project branch using
// the project's squash setting, then marks the feature verified.
func (o *Orchestrator) CommitFeature(featureID string) error {
	err := o.worktrees.Merge(o.projectPath, featureID, worktree.MergeOptions{
		Squash:  o.opts.SquashMerges,
		Cleanup: false,
	})
	if err != nil {
		return err
	}
	if _, err := o.store.SetStatus(o.projectPath, featureID, models.StatusVerified, nil, nil); err != nil {
		return err
	}
	o.emitter.Emit(Event{Type: EventComplete, FeatureID: featureID, Text: "feature committed"})
	return nil
}

// MergeFeature is a pass-through to the worktree manager with event
// streaming.
func (o *Orchestrator) MergeFeature(featureID string, opts worktree.MergeOptions) error {
	if err := o.worktrees.Merge(o.projectPath, featureID, opts); err != nil {
		o.emitter.Emit(Event{Type: EventError, FeatureID: featureID, Err: err.Error()})
		return err
	}
	o.emitter.Emit(Event{Type: EventComplete, FeatureID: featureID, Text: "feature merged"})
	return nil
}

// RevertFeature removes the feature's worktree and branch and returns the
// record to backlog with run state cleared.
func (o *Orchestrator) RevertFeature(featureID string) error {
	// A live run must not keep writing into a removed worktree: the agent
	// child has a kill grace after cancel, so wait for the session to
	// leave the running set before deleting its directory.
	o.mu.Lock()
	sess, live := o.running[featureID]
	o.mu.Unlock()
	if live {
		if err := o.StopFeature(featureID); err == nil {
			o.logger.Log("revert: cancelled live run for %s", featureID)
		}
		select {
		case <-sess.done:
		case <-time.After(15 * time.Second):
			o.logger.Log("revert: teardown wait timed out for %s", featureID)
		}
	}

	if err := o.worktrees.Remove(o.projectPath, featureID, true); err != nil {
		return err
	}

	status := models.StatusBacklog
	empty := ""
	var noTime *time.Time
	_, err := o.store.Update(o.projectPath, featureID, store.Partial{
		Status:         &status,
		Summary:        &empty,
		Error:          &empty,
		WorktreePath:   &empty,
		BranchName:     &empty,
		StartedAt:      &noTime,
		JustFinishedAt: &noTime,
	})
	if err != nil {
		return err
	}
	o.emitter.Emit(Event{Type: EventBoardRefresh, FeatureID: featureID})
	return nil
}

// forwardAgentEvents translates agent events into orchestrator events.
func (o *Orchestrator) forwardAgentEvents(agentCh <-chan agent.Event) {
	for ev := range agentCh {
		switch ev.Type {
		case agent.EventStream:
			o.emitter.Emit(Event{Type: EventStream, FeatureID: ev.FeatureID, Text: ev.Text})
		case agent.EventToolUse:
			o.emitter.Emit(Event{Type: EventToolUse, FeatureID: ev.FeatureID, Tool: ev.Tool})
		case agent.EventResult:
			o.emitter.Emit(Event{Type: EventComplete, FeatureID: ev.FeatureID, Text: ev.Text})
		case agent.EventError:
			o.emitter.Emit(Event{Type: EventError, FeatureID: ev.FeatureID, Err: ev.Text})
		}
	}
}

// encodeImages prepares the feature's image attachments, skipping files
// that cannot be read.
func (o *Orchestrator) encodeImages(f *models.Feature) []agent.ImageBlock {
	var blocks []agent.ImageBlock
	for _, img := range f.ImagePaths {
		block, err := agent.EncodeImage(img.Path)
		if err != nil {
			o.logger.Log("encode image %s: %v", img.Path, err)
			continue
		}
		blocks = append(blocks, block)
	}
	return blocks
}
