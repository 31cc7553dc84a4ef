package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	osexec "os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ShayCichocki/automaker/internal/exec"
)

// killGracePeriod is how long a cancelled child gets to exit after SIGTERM
// before it is force-killed.
const killGracePeriod = 5 * time.Second

// TranscriptAppender persists agent output as it streams.
type TranscriptAppender interface {
	AppendAgentOutput(projectPath, id, text string) error
}

// Result is the outcome of one agent run.
type Result struct {
	// Summary is the text of the final result message, if any.
	Summary string
	// Aborted is true when the run was cancelled rather than finished.
	Aborted bool
	// ToolCalls lists every tool invocation observed during the run.
	ToolCalls []ToolCall
	// Stderr holds captured child stderr, for diagnostics.
	Stderr string
}

// Runner executes agent CLI processes. One Runner serves many concurrent
// runs; it holds no per-run state.
type Runner struct {
	transcripts TranscriptAppender
	exec        exec.CommandRunner
}

// NewRunner creates a Runner that persists transcripts through the appender.
// A nil appender disables persistence.
func NewRunner(transcripts TranscriptAppender) *Runner {
	return &Runner{transcripts: transcripts, exec: exec.NewRunner()}
}

// CheckInstalled verifies the provider's binary is on PATH.
func (r *Runner) CheckInstalled(p Provider) error {
	if _, err := r.exec.LookPath(p.Command()); err != nil {
		return fmt.Errorf("%s not found on PATH: %w", p.Command(), err)
	}
	return nil
}

// Run executes one agent process to completion. Events stream to subscriber
// (which may be nil) and to the transcript. Cancelling ctx sends SIGTERM,
// waits the grace period, then kills; a cancelled run returns Aborted
// rather than an error.
func (r *Runner) Run(ctx context.Context, p Provider, cfg RunConfig, subscriber chan<- Event) (*Result, error) {
	bin, err := r.exec.LookPath(p.Command())
	if err != nil {
		return nil, fmt.Errorf("%s not found on PATH: %w", p.Command(), err)
	}

	cmd := osexec.Command(bin, p.BuildArgs(cfg)...)
	if cfg.WorkDir != "" {
		cmd.Dir = cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", p.Command(), err)
	}

	run := &activeRun{
		runner:     r,
		provider:   p,
		cfg:        cfg,
		subscriber: subscriber,
		ctx:        ctx,
		result:     &Result{},
	}

	// Terminate the child when the context is cancelled, escalating to
	// SIGKILL after the grace period.
	procDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			cmd.Process.Signal(syscall.SIGTERM)
			select {
			case <-time.After(killGracePeriod):
				cmd.Process.Kill()
			case <-procDone:
			}
		case <-procDone:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		run.readStderr(stderr)
	}()

	run.readStdout(stdout)
	wg.Wait()
	waitErr := cmd.Wait()
	close(procDone)

	run.mu.Lock()
	result := run.result
	result.Stderr = run.stderrBuf.String()
	run.mu.Unlock()

	if ctx.Err() != nil {
		result.Aborted = true
		return result, nil
	}
	if waitErr != nil {
		msg := fmt.Sprintf("%s exited: %v", p.Command(), waitErr)
		if result.Stderr != "" {
			msg += "; stderr: " + lastLines(result.Stderr, 5)
		}
		return result, fmt.Errorf("%s", msg)
	}
	return result, nil
}

// activeRun holds the streaming state of one run.
type activeRun struct {
	runner     *Runner
	provider   Provider
	cfg        RunConfig
	subscriber chan<- Event
	ctx        context.Context

	mu        sync.Mutex
	turn      strings.Builder
	stderrBuf strings.Builder
	result    *Result
}

// readStdout parses the child's line stream and dispatches events.
func (a *activeRun) readStdout(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		events, ok := a.provider.ParseLine(line)
		if !ok {
			events = []Event{{Type: EventLog, Text: string(line)}}
		}
		for _, ev := range events {
			a.dispatch(ev)
		}
	}
	if err := scanner.Err(); err != nil && a.ctx.Err() == nil {
		a.dispatch(Event{Type: EventError, Text: fmt.Sprintf("read agent output: %v", err)})
	}
}

// dispatch accumulates turn text, records tool calls, persists the event,
// and forwards it to the subscriber.
func (a *activeRun) dispatch(ev Event) {
	ev.FeatureID = a.cfg.FeatureID

	a.mu.Lock()
	switch ev.Type {
	case EventStream:
		delta := ev.Text
		a.turn.WriteString(delta)
		ev.Text = a.turn.String()
		a.appendTranscript(delta)
	case EventToolUse:
		a.result.ToolCalls = append(a.result.ToolCalls, ToolCall{Name: ev.Tool, Input: ev.ToolInput})
		a.appendTranscript("\n> " + describeToolUse(ev.Tool, ev.ToolInput) + "\n")
	case EventResult:
		a.result.Summary = ev.Text
		a.turn.Reset()
		a.appendTranscript("\n\n---\n" + ev.Text + "\n")
	case EventLog, EventError:
		a.appendTranscript("\n[" + string(ev.Type) + "] " + ev.Text + "\n")
	}
	a.mu.Unlock()

	if a.subscriber == nil {
		return
	}
	select {
	case a.subscriber <- ev:
	case <-a.ctx.Done():
	}
}

// appendTranscript persists one chunk; callers hold a.mu.
func (a *activeRun) appendTranscript(text string) {
	if a.runner.transcripts == nil || a.cfg.FeatureID == "" {
		return
	}
	a.runner.transcripts.AppendAgentOutput(a.cfg.ProjectPath, a.cfg.FeatureID, text)
}

// readStderr captures child stderr and surfaces it as error events.
func (a *activeRun) readStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	buf := make([]byte, 16*1024)
	scanner.Buffer(buf, 256*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		a.mu.Lock()
		a.stderrBuf.WriteString(line)
		a.stderrBuf.WriteString("\n")
		a.mu.Unlock()

		if a.subscriber != nil {
			select {
			case a.subscriber <- Event{Type: EventError, FeatureID: a.cfg.FeatureID, Text: "[stderr] " + line}:
			case <-a.ctx.Done():
				return
			default:
				// Subscriber is stalled; the buffer still captures the line.
			}
		}
	}
}

// lastLines returns the final n lines of s.
func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
