package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/automaker/internal/agent"
	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/internal/worktree"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// fakeAgentRunner scripts agent behavior without spawning processes.
type fakeAgentRunner struct {
	mu      sync.Mutex
	calls   []agent.RunConfig
	started chan agent.RunConfig
	run     func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error)
}

func (r *fakeAgentRunner) Run(ctx context.Context, p agent.Provider, cfg agent.RunConfig, sub chan<- agent.Event) (*agent.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, cfg)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- cfg
	}
	if r.run != nil {
		return r.run(ctx, cfg)
	}
	return &agent.Result{Summary: "done"}, nil
}

func (r *fakeAgentRunner) CheckInstalled(agent.Provider) error { return nil }

func (r *fakeAgentRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeAgentRunner) call(i int) agent.RunConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[i]
}

func newTestOrchestrator(t *testing.T, runner AgentRunner, opts Options) (*Orchestrator, *store.FeatureStore, string) {
	t.Helper()
	project := t.TempDir()
	st := store.NewFeatureStore()
	registry, err := agent.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	o, err := New(context.Background(), project, st, worktree.NewManager(), runner, registry, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })
	return o, st, project
}

func awaitEvent(t *testing.T, events <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

func createFeature(t *testing.T, st *store.FeatureStore, project string, draft *models.Feature) *models.Feature {
	t.Helper()
	f, err := st.Create(project, draft)
	if err != nil {
		t.Fatalf("create feature: %v", err)
	}
	return f
}

func TestAutoModeRespectsConcurrencyBudget(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeAgentRunner{
		started: make(chan agent.RunConfig, 8),
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			select {
			case <-release:
				return &agent.Result{Summary: "done"}, nil
			case <-ctx.Done():
				return &agent.Result{Aborted: true}, nil
			}
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{UseWorktrees: false})

	for i := 0; i < 3; i++ {
		createFeature(t, st, project, &models.Feature{Description: "feature"})
		time.Sleep(2 * time.Millisecond) // distinct id timestamps
	}

	o.Start(2)
	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d did not start", i)
		}
	}
	select {
	case cfg := <-runner.started:
		t.Fatalf("third run started over budget: %s", cfg.FeatureID)
	case <-time.After(150 * time.Millisecond):
	}

	status := o.Status()
	if !status.AutoModeEnabled || len(status.Running) != 2 || status.MaxConcurrency != 2 {
		t.Fatalf("status = %+v", status)
	}

	// Freeing a slot admits another run.
	release <- struct{}{}
	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("no run started after a slot freed")
	}

	o.Stop()
	close(release)
}

func TestManualRunRespectsConcurrencyBudget(t *testing.T) {
	release := make(chan struct{})
	runner := &fakeAgentRunner{
		started: make(chan agent.RunConfig, 2),
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			select {
			case <-release:
				return &agent.Result{Summary: "done"}, nil
			case <-ctx.Done():
				return &agent.Result{Aborted: true}, nil
			}
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{MaxConcurrency: 1})

	first := createFeature(t, st, project, &models.Feature{Description: "first"})
	time.Sleep(2 * time.Millisecond)
	second := createFeature(t, st, project, &models.Feature{Description: "second"})

	if err := o.RunFeature(first.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	<-runner.started

	// Direct starts are bounded too, not just scheduled ones.
	err := o.RunFeature(second.ID)
	if !errors.Is(err, ErrBudgetExhausted) {
		t.Fatalf("second RunFeature error = %v, want ErrBudgetExhausted", err)
	}
	if running := o.Status().Running; len(running) != 1 {
		t.Fatalf("running = %v with budget 1", running)
	}

	close(release)
	awaitEvent(t, o.Events(), EventFeatureCompleted)

	if err := o.RunFeature(second.ID); err != nil {
		t.Fatalf("RunFeature after slot freed: %v", err)
	}
	<-runner.started
}

func TestRevertWaitsForRunTeardown(t *testing.T) {
	teardown := make(chan struct{})
	runner := &fakeAgentRunner{
		started: make(chan agent.RunConfig, 1),
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			<-ctx.Done()
			<-teardown // the child lingers through its kill grace
			return &agent.Result{Aborted: true}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{Description: "reverted mid-run"})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	<-runner.started

	done := make(chan error, 1)
	go func() { done <- o.RevertFeature(f.ID) }()

	select {
	case <-done:
		t.Fatal("revert returned while the run was still tearing down")
	case <-time.After(100 * time.Millisecond):
	}

	close(teardown)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RevertFeature: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("revert did not finish after teardown")
	}

	got, err := st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusBacklog {
		t.Errorf("status after revert = %s, want backlog", got.Status)
	}
	if len(o.Status().Running) != 0 {
		t.Error("slot not released after revert")
	}
}

func TestRunFeatureMarksInProgressAndCompletes(t *testing.T) {
	gate := make(chan struct{})
	runner := &fakeAgentRunner{
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			<-gate
			return &agent.Result{Summary: "implemented the thing"}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{Description: "add search"})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	awaitEvent(t, o.Events(), EventFeatureStarted)

	got, err := st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusInProgress {
		t.Fatalf("status during run = %s, want in_progress", got.Status)
	}
	if got.StartedAt == nil {
		t.Fatal("startedAt not stamped")
	}

	// A second start while the run is live is rejected.
	if err := o.RunFeature(f.ID); err == nil {
		t.Fatal("double run should be rejected")
	}

	close(gate)
	ev := awaitEvent(t, o.Events(), EventFeatureCompleted)
	if ev.Text != "implemented the thing" {
		t.Errorf("completion text = %q", ev.Text)
	}
	if len(o.Status().Running) != 0 {
		t.Fatal("slot not released after completion")
	}
}

func TestRunErrorRecordedOnFeature(t *testing.T) {
	runner := &fakeAgentRunner{
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			return nil, errors.New("agent exited with status 1")
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{Description: "doomed"})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	ev := awaitEvent(t, o.Events(), EventFeatureErrored)
	if !strings.Contains(ev.Err, "status 1") {
		t.Errorf("event error = %q", ev.Err)
	}

	got, err := st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusInProgress {
		t.Errorf("status after error = %s, want in_progress", got.Status)
	}
	if !strings.Contains(got.Error, "status 1") {
		t.Errorf("record error = %q", got.Error)
	}
}

func TestStopFeatureAbortsRun(t *testing.T) {
	runner := &fakeAgentRunner{
		started: make(chan agent.RunConfig, 1),
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			<-ctx.Done()
			return &agent.Result{Aborted: true}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{Description: "long running"})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	<-runner.started

	if err := o.StopFeature(f.ID); err != nil {
		t.Fatalf("StopFeature: %v", err)
	}
	awaitEvent(t, o.Events(), EventFeatureAborted)

	got, err := st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusInProgress {
		t.Errorf("status after abort = %s, want in_progress", got.Status)
	}
	if got.Error != "" {
		t.Errorf("abort should not record an error, got %q", got.Error)
	}

	if err := o.StopFeature(f.ID); err == nil {
		t.Error("stopping an idle feature should fail")
	}
}

func TestUnsupportedProviderRejected(t *testing.T) {
	o, st, project := newTestOrchestrator(t, &fakeAgentRunner{}, Options{DefaultProvider: "imaginary"})
	f := createFeature(t, st, project, &models.Feature{Description: "whatever"})

	err := o.RunFeature(f.ID)
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("err = %v, want ErrUnsupportedProvider", err)
	}
}

// bridgeCall issues one tools/call against the orchestrator's live bridge the
// way a real agent process would.
func bridgeCall(t *testing.T, endpoint, tool string, args map[string]any) (text string, isError bool) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", endpoint, time.Second)
	if err != nil {
		t.Fatalf("dial bridge: %v", err)
	}
	defer conn.Close()

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  map[string]any{"name": tool, "arguments": args},
	}
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var resp struct {
		Result struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatalf("parse %q: %v", line, err)
	}
	if resp.Error != nil {
		t.Fatalf("rpc error: %s", resp.Error.Message)
	}
	if len(resp.Result.Content) > 0 {
		text = resp.Result.Content[0].Text
	}
	return text, resp.Result.IsError
}

func TestSkipTestsCoercionThroughBridge(t *testing.T) {
	runner := &fakeAgentRunner{
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			text, isErr := bridgeCall(t, cfg.BridgeEndpoint, "update_feature_status", map[string]any{
				"run_token": cfg.BridgeToken,
				"status":    "verified",
				"summary":   "all done",
			})
			if isErr {
				return nil, errors.New(text)
			}
			if !strings.Contains(text, "waiting_approval") {
				t.Errorf("coercion ack missing: %q", text)
			}
			return &agent.Result{Summary: "all done"}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{Description: "untested work", SkipTests: true})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	awaitEvent(t, o.Events(), EventFeatureCompleted)

	got, err := st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusWaitingApproval {
		t.Fatalf("status = %s, want waiting_approval (verified coerced)", got.Status)
	}
	if got.Summary != "all done" {
		t.Errorf("summary = %q", got.Summary)
	}
	if got.JustFinishedAt == nil {
		t.Error("justFinishedAt not stamped for reviewed outcome")
	}
}

func TestBridgeRejectsReleasedToken(t *testing.T) {
	var endpoint, token string
	runner := &fakeAgentRunner{
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			endpoint, token = cfg.BridgeEndpoint, cfg.BridgeToken
			return &agent.Result{Summary: "done"}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{Description: "short run"})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	awaitEvent(t, o.Events(), EventFeatureCompleted)

	// The grant dies with the run.
	_, isErr := bridgeCall(t, endpoint, "update_feature_status", map[string]any{
		"run_token": token,
		"status":    "verified",
	})
	if !isErr {
		t.Fatal("released token should be rejected")
	}
}

func TestPlanGatedRunPausesThenResumes(t *testing.T) {
	runner := &fakeAgentRunner{
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			return &agent.Result{Summary: "step 1, step 2"}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{
		Description: "planned work",
		PlanSpec:    &models.PlanSpec{Status: models.PlanDraft},
	})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	awaitEvent(t, o.Events(), EventPlanApprovalRequired)

	if !strings.Contains(runner.call(0).Prompt, "implementation plan") {
		t.Errorf("first run prompt is not a planning prompt: %q", runner.call(0).Prompt)
	}

	got, err := st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PlanSpec == nil || got.PlanSpec.Status != models.PlanGenerated {
		t.Fatalf("plan status = %+v, want generated", got.PlanSpec)
	}
	// The paused session holds its slot.
	if running := o.Status().Running; len(running) != 1 || running[0] != f.ID {
		t.Fatalf("running = %v, want [%s]", o.Status().Running, f.ID)
	}

	if err := o.ApprovePlan(f.ID); err != nil {
		t.Fatalf("ApprovePlan: %v", err)
	}
	awaitEvent(t, o.Events(), EventFeatureCompleted)

	got, err = st.Get(project, f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PlanSpec.Status != models.PlanApproved {
		t.Errorf("plan status after approval = %s", got.PlanSpec.Status)
	}
	if runner.callCount() != 2 {
		t.Fatalf("run count = %d, want plan + implement", runner.callCount())
	}
	if !strings.Contains(runner.call(1).Prompt, "Implement this feature") {
		t.Errorf("second run prompt is not an implementation prompt: %q", runner.call(1).Prompt)
	}
}

func TestStopFeatureFreesPausedPlanSlot(t *testing.T) {
	runner := &fakeAgentRunner{
		run: func(ctx context.Context, cfg agent.RunConfig) (*agent.Result, error) {
			return &agent.Result{Summary: "a plan"}, nil
		},
	}
	o, st, project := newTestOrchestrator(t, runner, Options{})
	f := createFeature(t, st, project, &models.Feature{
		Description: "planned work",
		PlanSpec:    &models.PlanSpec{Status: models.PlanDraft},
	})

	if err := o.RunFeature(f.ID); err != nil {
		t.Fatalf("RunFeature: %v", err)
	}
	awaitEvent(t, o.Events(), EventPlanApprovalRequired)

	if err := o.StopFeature(f.ID); err != nil {
		t.Fatalf("StopFeature: %v", err)
	}
	if len(o.Status().Running) != 0 {
		t.Fatal("paused slot not freed")
	}
	if err := o.ApprovePlan(f.ID); err == nil {
		t.Error("ApprovePlan after stop should fail")
	}
}

func TestDependencyGatingInAutoMode(t *testing.T) {
	runner := &fakeAgentRunner{started: make(chan agent.RunConfig, 4)}
	o, st, project := newTestOrchestrator(t, runner, Options{})

	dep := createFeature(t, st, project, &models.Feature{Description: "base", Status: models.StatusBacklog})
	time.Sleep(2 * time.Millisecond)
	createFeature(t, st, project, &models.Feature{Description: "dependent", Dependencies: []string{dep.ID}})

	// Verify the dependency out of band so only the dependent is eligible.
	if _, err := st.SetStatus(project, dep.ID, models.StatusVerified, nil, nil); err != nil {
		t.Fatal(err)
	}

	o.Start(2)
	select {
	case cfg := <-runner.started:
		if cfg.FeatureID == dep.ID {
			t.Fatal("verified dependency was scheduled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dependent feature did not start")
	}
	o.Stop()
}
