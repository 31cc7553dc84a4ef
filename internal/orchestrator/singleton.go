package orchestrator

import (
	"context"
	"fmt"
	"sync"
)

// taskKind names a background task of which at most one may run per project.
type taskKind string

const (
	taskSuggestions taskKind = "suggestions"
	taskSpecRegen   taskKind = "spec_regeneration"
	taskAnalysis    taskKind = "analysis"
)

// ErrTaskRunning reports a start attempt while a task of the same kind is
// already live.
type ErrTaskRunning struct {
	Kind taskKind
}

func (e *ErrTaskRunning) Error() string {
	return fmt.Sprintf("a %s task is already running", e.Kind)
}

// singletonTask is one live background task.
type singletonTask struct {
	kind   taskKind
	cancel context.CancelFunc
	done   chan struct{}
}

// supervisor enforces the one-live-task-per-kind rule for background work.
type supervisor struct {
	mu    sync.Mutex
	tasks map[taskKind]*singletonTask
}

func newSupervisor() *supervisor {
	return &supervisor{tasks: make(map[taskKind]*singletonTask)}
}

// begin admits a task of the given kind, returning its context. The caller
// must call the returned finish func exactly once when the task ends.
func (s *supervisor) begin(kind taskKind) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[kind]; ok {
		return nil, nil, &ErrTaskRunning{Kind: kind}
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &singletonTask{kind: kind, cancel: cancel, done: make(chan struct{})}
	s.tasks[kind] = task

	finish := func() {
		s.mu.Lock()
		if s.tasks[kind] == task {
			delete(s.tasks, kind)
		}
		s.mu.Unlock()
		cancel()
		close(task.done)
	}
	return ctx, finish, nil
}

// stop cancels the live task of the given kind, if any. It returns once the
// cancel signal is raised, not once the task unwinds.
func (s *supervisor) stop(kind taskKind) bool {
	s.mu.Lock()
	task, ok := s.tasks[kind]
	s.mu.Unlock()
	if !ok {
		return false
	}
	task.cancel()
	return true
}

// runningKinds reports which task kinds are live.
func (s *supervisor) runningKinds() map[taskKind]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[taskKind]bool, len(s.tasks))
	for kind := range s.tasks {
		out[kind] = true
	}
	return out
}
