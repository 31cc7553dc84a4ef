package orchestrator

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ShayCichocki/automaker/internal/agent"
	"github.com/ShayCichocki/automaker/internal/store"
)

// CompletionClient is the slice of the model API the long tasks depend on.
type CompletionClient interface {
	// Complete returns the model's full response for one prompt.
	Complete(ctx context.Context, system, prompt string) (string, error)
	// Stream returns the full response while delivering partial text to
	// onDelta as it arrives.
	Stream(ctx context.Context, system, prompt string, onDelta func(string)) (string, error)
}

// SetCompletionClient wires the model API client used by suggestions and
// spec regeneration. Without one those tasks are rejected.
func (o *Orchestrator) SetCompletionClient(c CompletionClient) {
	o.mu.Lock()
	o.api = c
	o.mu.Unlock()
}

func (o *Orchestrator) completionClient() (CompletionClient, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.api == nil {
		return nil, fmt.Errorf("no model API client configured; set an API key first")
	}
	return o.api, nil
}

// TaskStatus reports whether a background task kind is live.
type TaskStatus struct {
	Running bool `json:"running"`
}

const suggestionsSystemPrompt = "You propose new features for a software project. " +
	"Given the project specification and the existing feature list, suggest a handful of " +
	"concrete next features. Respond with a JSON array of objects with \"description\" and " +
	"\"category\" fields and nothing else."

// GenerateSuggestions asks the model for feature suggestions based on the
// project spec and the current board. Results arrive as a suggestions_ready
// event; failures as suggestions_error.
func (o *Orchestrator) GenerateSuggestions() error {
	client, err := o.completionClient()
	if err != nil {
		return err
	}
	ctx, finish, err := o.singles.begin(taskSuggestions)
	if err != nil {
		return err
	}

	go func() {
		defer finish()
		o.emitter.Emit(Event{Type: EventAutoModeTaskStarted, Text: string(taskSuggestions)})

		prompt, err := o.suggestionsPrompt()
		if err != nil {
			o.emitter.Emit(Event{Type: EventSuggestionsError, Err: err.Error()})
			return
		}
		out, err := client.Complete(ctx, suggestionsSystemPrompt, prompt)
		if err != nil {
			o.logger.Log("suggestions failed: %v", err)
			o.emitter.Emit(Event{Type: EventSuggestionsError, Err: err.Error()})
			return
		}
		o.emitter.Emit(Event{Type: EventSuggestionsReady, Text: out})
		o.emitter.Emit(Event{Type: EventAutoModeTaskComplete, Text: string(taskSuggestions)})
	}()
	return nil
}

// StopSuggestions cancels a live suggestion run.
func (o *Orchestrator) StopSuggestions() bool { return o.singles.stop(taskSuggestions) }

// SuggestionsStatus reports whether a suggestion run is live.
func (o *Orchestrator) SuggestionsStatus() TaskStatus {
	return TaskStatus{Running: o.singles.runningKinds()[taskSuggestions]}
}

func (o *Orchestrator) suggestionsPrompt() (string, error) {
	var b strings.Builder
	if spec := readOptional(store.AppSpecPath(o.projectPath)); spec != "" {
		b.WriteString("## Project specification\n")
		b.WriteString(spec)
		b.WriteString("\n\n")
	}
	features, err := o.store.List(o.projectPath)
	if err != nil {
		return "", err
	}
	b.WriteString("## Existing features\n")
	for _, f := range features {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Status, f.Description)
	}
	return b.String(), nil
}

const specWriterSystemPrompt = "You write concise product specifications for software projects. " +
	"Respond with the specification text only, no preamble."

// CreateSpec generates an initial project specification from a description
// and writes it to the project's app_spec file. Synchronous; not a
// supervised task.
func (o *Orchestrator) CreateSpec(ctx context.Context, description string) error {
	client, err := o.completionClient()
	if err != nil {
		return err
	}
	out, err := client.Complete(ctx, specWriterSystemPrompt, "Write a project specification for:\n\n"+description)
	if err != nil {
		return fmt.Errorf("generate spec: %w", err)
	}
	return o.writeAppSpec(out)
}

// RegenerateSpec rewrites the project specification to reflect the current
// board, streaming progress events. At most one regeneration per project.
func (o *Orchestrator) RegenerateSpec() error {
	client, err := o.completionClient()
	if err != nil {
		return err
	}
	prompt, err := o.specRegenPrompt()
	if err != nil {
		return err
	}
	ctx, finish, err := o.singles.begin(taskSpecRegen)
	if err != nil {
		return err
	}

	go func() {
		defer finish()
		o.emitter.Emit(Event{Type: EventAutoModeTaskStarted, Text: string(taskSpecRegen)})

		out, err := client.Stream(ctx, specWriterSystemPrompt, prompt, func(delta string) {
			o.emitter.Emit(Event{Type: EventSpecRegenProgress, Text: delta})
		})
		if err != nil {
			o.logger.Log("spec regeneration failed: %v", err)
			o.emitter.Emit(Event{Type: EventError, Err: fmt.Sprintf("spec regeneration: %v", err)})
			return
		}
		if err := o.writeAppSpec(out); err != nil {
			o.emitter.Emit(Event{Type: EventError, Err: err.Error()})
			return
		}
		o.emitter.Emit(Event{Type: EventAutoModeTaskComplete, Text: string(taskSpecRegen)})
	}()
	return nil
}

// StopSpecRegen cancels a live spec regeneration.
func (o *Orchestrator) StopSpecRegen() bool { return o.singles.stop(taskSpecRegen) }

// SpecRegenStatus reports whether a spec regeneration is live.
func (o *Orchestrator) SpecRegenStatus() TaskStatus {
	return TaskStatus{Running: o.singles.runningKinds()[taskSpecRegen]}
}

func (o *Orchestrator) specRegenPrompt() (string, error) {
	var b strings.Builder
	b.WriteString("Rewrite the project specification so it reflects the work below.\n\n")
	if spec := readOptional(store.AppSpecPath(o.projectPath)); spec != "" {
		b.WriteString("## Current specification\n")
		b.WriteString(spec)
		b.WriteString("\n\n")
	}
	features, err := o.store.List(o.projectPath)
	if err != nil {
		return "", err
	}
	b.WriteString("## Features\n")
	for _, f := range features {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Status, f.Description)
	}
	return b.String(), nil
}

func (o *Orchestrator) writeAppSpec(content string) error {
	path := store.AppSpecPath(o.projectPath)
	if err := os.MkdirAll(store.AutomakerDir(o.projectPath), 0755); err != nil {
		return fmt.Errorf("create project directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0644); err != nil {
		return fmt.Errorf("write spec: %w", err)
	}
	return nil
}

const analysisPrompt = "Survey this repository: its purpose, structure, main components, build and " +
	"test setup, and anything unusual a new contributor should know. Do not modify any files. " +
	"Finish with a concise written summary."

// AnalyzeProject runs the coding agent read-only against the project
// directory and reports its findings through the event channel.
func (o *Orchestrator) AnalyzeProject() error {
	provider, err := o.registry.Provider(o.opts.DefaultProvider)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedProvider, err)
	}
	ctx, finish, err := o.singles.begin(taskAnalysis)
	if err != nil {
		return err
	}

	go func() {
		defer finish()
		o.emitter.Emit(Event{Type: EventAutoModeTaskStarted, Text: string(taskAnalysis)})

		agentCh := make(chan agent.Event, 64)
		forwarded := make(chan struct{})
		go func() {
			defer close(forwarded)
			o.forwardAgentEvents(agentCh)
		}()

		result, err := o.agents.Run(ctx, provider, agent.RunConfig{
			ProjectPath: o.projectPath,
			WorkDir:     o.projectPath,
			Prompt:      analysisPrompt,
			Model:       o.opts.DefaultModel,
		}, agentCh)
		close(agentCh)
		<-forwarded

		if err != nil {
			o.logger.Log("project analysis failed: %v", err)
			o.emitter.Emit(Event{Type: EventError, Err: fmt.Sprintf("project analysis: %v", err)})
			return
		}
		text := ""
		if result != nil {
			text = result.Summary
		}
		o.emitter.Emit(Event{Type: EventAutoModeTaskComplete, Text: text})
	}()
	return nil
}
