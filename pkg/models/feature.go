// Package models defines the shared data types for the automaker engine.
package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents the board state of a feature.
type Status string

const (
	// StatusBacklog indicates the feature has not been picked up yet.
	StatusBacklog Status = "backlog"
	// StatusInProgress indicates an agent is (or was) working on the feature.
	StatusInProgress Status = "in_progress"
	// StatusWaitingApproval indicates the work is done but needs human review.
	StatusWaitingApproval Status = "waiting_approval"
	// StatusVerified indicates the work is done and tests passed.
	StatusVerified Status = "verified"
	// StatusArchived indicates the feature has been completed and archived.
	StatusArchived Status = "archived"
)

// Valid returns true if the status is a known value.
func (s Status) Valid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusWaitingApproval, StatusVerified, StatusArchived:
		return true
	default:
		return false
	}
}

// Terminal returns true if the scheduler will not pick the feature up again
// on its own.
func (s Status) Terminal() bool {
	switch s {
	case StatusWaitingApproval, StatusVerified, StatusArchived:
		return true
	default:
		return false
	}
}

// Priority orders features within the backlog. Lower runs first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// ThinkingLevel selects the thinking budget for providers that support it.
type ThinkingLevel string

const (
	ThinkingNone       ThinkingLevel = "none"
	ThinkingLow        ThinkingLevel = "low"
	ThinkingMedium     ThinkingLevel = "medium"
	ThinkingHigh       ThinkingLevel = "high"
	ThinkingUltrathink ThinkingLevel = "ultrathink"
)

// ReasoningEffort selects the reasoning effort for providers that support it.
type ReasoningEffort string

const (
	ReasoningNone    ReasoningEffort = "none"
	ReasoningMinimal ReasoningEffort = "minimal"
	ReasoningLow     ReasoningEffort = "low"
	ReasoningMedium  ReasoningEffort = "medium"
	ReasoningHigh    ReasoningEffort = "high"
	ReasoningXHigh   ReasoningEffort = "xhigh"
)

// PlanStatus represents the lifecycle of a feature's plan spec.
type PlanStatus string

const (
	PlanDraft     PlanStatus = "draft"
	PlanGenerated PlanStatus = "generated"
	PlanApproved  PlanStatus = "approved"
)

// PlanTaskStatus represents the state of a single plan task.
type PlanTaskStatus string

const (
	PlanTaskPending    PlanTaskStatus = "pending"
	PlanTaskInProgress PlanTaskStatus = "in_progress"
	PlanTaskCompleted  PlanTaskStatus = "completed"
)

// PlanTask is one step of an approved plan.
type PlanTask struct {
	ID          string         `json:"id"`
	Description string         `json:"description"`
	Status      PlanTaskStatus `json:"status"`
}

// PlanSpec is the optional plan attached to a feature. The orchestrator
// pauses a run while the plan is in the generated state, awaiting approval.
type PlanSpec struct {
	Status         PlanStatus `json:"status"`
	Content        string     `json:"content,omitempty"`
	Tasks          []PlanTask `json:"tasks,omitempty"`
	TasksCompleted int        `json:"tasksCompleted,omitempty"`
	CurrentTaskID  string     `json:"currentTaskId,omitempty"`
}

// ImagePath is an image attachment reference. Records may carry either a bare
// path string or an object with a path plus metadata; both unmarshal into
// this type and marshal back as an object when metadata is present.
type ImagePath struct {
	Path string            `json:"path"`
	Meta map[string]string `json:"meta,omitempty"`
}

// UnmarshalJSON accepts both "path/to.png" and {"path": "path/to.png", ...}.
func (p *ImagePath) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Path = s
		return nil
	}
	type alias ImagePath
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("image path: %w", err)
	}
	*p = ImagePath(a)
	return nil
}

// MarshalJSON emits a bare string when there is no metadata.
func (p ImagePath) MarshalJSON() ([]byte, error) {
	if len(p.Meta) == 0 {
		return json.Marshal(p.Path)
	}
	type alias ImagePath
	return json.Marshal(alias(p))
}

// Feature is the unit of work on the board. One record per feature is stored
// at <project>/.automaker/features/<id>/feature.json.
type Feature struct {
	// ID is a time-ordered opaque identifier. See NewFeatureID.
	ID string `json:"id"`
	// Description is the human description of the work.
	Description string `json:"description"`
	// Category is a free-form grouping label.
	Category string `json:"category,omitempty"`
	// Priority orders scheduling; zero means unset (treated as medium).
	Priority Priority `json:"priority,omitempty"`
	// Dependencies lists feature ids that must be verified or archived
	// before this feature may be scheduled.
	Dependencies []string `json:"dependencies,omitempty"`
	// Status is the board state.
	Status Status `json:"status"`
	// SkipTests requests human approval instead of automatic verification.
	SkipTests bool `json:"skipTests,omitempty"`
	// Model selects the agent model; empty applies the project default.
	Model string `json:"model,omitempty"`
	// ThinkingLevel selects the thinking budget, when the provider supports one.
	ThinkingLevel ThinkingLevel `json:"thinkingLevel,omitempty"`
	// ReasoningEffort selects the reasoning effort, when supported.
	ReasoningEffort ReasoningEffort `json:"reasoningEffort,omitempty"`
	// BranchName is the feature branch, set once a worktree is created.
	BranchName string `json:"branchName,omitempty"`
	// WorktreePath is the isolated checkout, set once a worktree is created.
	WorktreePath string `json:"worktreePath,omitempty"`
	// ImagePaths lists attached images, relocated under the feature directory.
	ImagePaths []ImagePath `json:"imagePaths,omitempty"`
	// Summary is the agent's final summary of the work.
	Summary string `json:"summary,omitempty"`
	// Error holds the last runtime error, cleared on successful transitions.
	Error string `json:"error,omitempty"`
	// StartedAt is when the last run began.
	StartedAt *time.Time `json:"startedAt,omitempty"`
	// JustFinishedAt is when the last run reached a terminal status.
	JustFinishedAt *time.Time `json:"justFinishedAt,omitempty"`
	// PlanSpec is the optional plan for plan-gated runs.
	PlanSpec *PlanSpec `json:"planSpec,omitempty"`
}

// ShortID returns the first 12 characters of the id, used in branch names.
func (f *Feature) ShortID() string {
	return ShortID(f.ID)
}

// ShortID returns the first 12 characters of a feature id.
func ShortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// EffectivePriority returns the priority with unset mapped to medium.
func (f *Feature) EffectivePriority() Priority {
	if f.Priority == 0 {
		return PriorityMedium
	}
	return f.Priority
}

// NewFeatureID returns a time-ordered identifier: the creation time in unix
// milliseconds followed by a uuid fragment. Lexicographic order matches
// creation order, and CreatedAtFromID recovers the timestamp.
func NewFeatureID() string {
	return fmt.Sprintf("%013d-%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// CreatedAtFromID extracts the embedded creation timestamp from a feature id.
// Returns the zero time for ids that do not carry one.
func CreatedAtFromID(id string) time.Time {
	head, _, ok := strings.Cut(id, "-")
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
