package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ShayCichocki/automaker/pkg/models"
)

// ErrNotFound is returned when a feature record does not exist.
var ErrNotFound = errors.New("feature not found")

// FeatureReader is the read-only view of the store.
type FeatureReader interface {
	List(projectPath string) ([]*models.Feature, error)
	Get(projectPath, id string) (*models.Feature, error)
	GetAgentOutput(projectPath, id string) (string, error)
}

// FeatureWriter is the mutating view of the store.
type FeatureWriter interface {
	Create(projectPath string, draft *models.Feature) (*models.Feature, error)
	Update(projectPath, id string, partial Partial) (*models.Feature, error)
	Delete(projectPath, id string) error
	SetStatus(projectPath, id string, status models.Status, summary, errMsg *string) (*models.Feature, error)
	AppendAgentOutput(projectPath, id, text string) error
}

// FeatureStore persists feature records on the filesystem. Mutations for a
// single feature are serialized through a per-feature critical section; reads
// are lock-free.
type FeatureStore struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Verify FeatureStore satisfies both views at compile time.
var (
	_ FeatureReader = (*FeatureStore)(nil)
	_ FeatureWriter = (*FeatureStore)(nil)
)

// NewFeatureStore creates a FeatureStore.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{locks: make(map[string]*sync.Mutex)}
}

// lockFor returns the mutex guarding mutations of one feature id.
func (s *FeatureStore) lockFor(projectPath, id string) *sync.Mutex {
	key := projectPath + "\x00" + id
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// List reads every feature record for a project, skipping malformed entries
// with a warning. Results are sorted by the creation timestamp embedded in
// the id, ascending.
func (s *FeatureStore) List(projectPath string) ([]*models.Feature, error) {
	dir := FeaturesDir(projectPath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read features directory: %w", err)
	}

	var features []*models.Feature
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		f, err := readRecord(FeatureRecordPath(projectPath, entry.Name()))
		if err != nil {
			log.Printf("[store] skipping malformed feature %s: %v", entry.Name(), err)
			continue
		}
		features = append(features, f)
	}

	sort.SliceStable(features, func(i, j int) bool {
		ti := models.CreatedAtFromID(features[i].ID)
		tj := models.CreatedAtFromID(features[j].ID)
		if ti.Equal(tj) {
			return features[i].ID < features[j].ID
		}
		return ti.Before(tj)
	})

	return features, nil
}

// Get returns the feature record, or ErrNotFound.
func (s *FeatureStore) Get(projectPath, id string) (*models.Feature, error) {
	f, err := readRecord(FeatureRecordPath(projectPath, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

// Create assigns an id if absent, creates the feature directory, relocates
// referenced images, and writes the record.
func (s *FeatureStore) Create(projectPath string, draft *models.Feature) (*models.Feature, error) {
	if draft.ID == "" {
		draft.ID = models.NewFeatureID()
	}
	if draft.Status == "" {
		draft.Status = models.StatusBacklog
	}
	if !draft.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", draft.Status)
	}

	lock := s.lockFor(projectPath, draft.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(FeatureDir(projectPath, draft.ID), 0755); err != nil {
		return nil, fmt.Errorf("create feature directory: %w", err)
	}

	relocateImages(projectPath, draft)

	if err := writeRecord(projectPath, draft); err != nil {
		return nil, err
	}
	return draft, nil
}

// Partial is a set of field updates applied by Update. Nil pointers leave the
// corresponding field untouched; non-nil pointers overwrite it, including
// overwriting with the zero value.
type Partial struct {
	Description     *string
	Category        *string
	Priority        *models.Priority
	Dependencies    *[]string
	Status          *models.Status
	SkipTests       *bool
	Model           *string
	ThinkingLevel   *models.ThinkingLevel
	ReasoningEffort *models.ReasoningEffort
	BranchName      *string
	WorktreePath    *string
	ImagePaths      *[]models.ImagePath
	Summary         *string
	Error           *string
	StartedAt       **time.Time
	JustFinishedAt  **time.Time
	PlanSpec        **models.PlanSpec
}

// Update performs a read-merge-write cycle for one feature. Image paths
// introduced by the partial are relocated under the feature directory before
// the record is persisted.
func (s *FeatureStore) Update(projectPath, id string, partial Partial) (*models.Feature, error) {
	lock := s.lockFor(projectPath, id)
	lock.Lock()
	defer lock.Unlock()

	f, err := s.Get(projectPath, id)
	if err != nil {
		return nil, err
	}

	applyPartial(f, partial)
	relocateImages(projectPath, f)

	if err := writeRecord(projectPath, f); err != nil {
		return nil, err
	}
	return f, nil
}

// applyPartial merges non-nil partial fields into the feature.
func applyPartial(f *models.Feature, p Partial) {
	if p.Description != nil {
		f.Description = *p.Description
	}
	if p.Category != nil {
		f.Category = *p.Category
	}
	if p.Priority != nil {
		f.Priority = *p.Priority
	}
	if p.Dependencies != nil {
		f.Dependencies = *p.Dependencies
	}
	if p.Status != nil {
		f.Status = *p.Status
	}
	if p.SkipTests != nil {
		f.SkipTests = *p.SkipTests
	}
	if p.Model != nil {
		f.Model = *p.Model
	}
	if p.ThinkingLevel != nil {
		f.ThinkingLevel = *p.ThinkingLevel
	}
	if p.ReasoningEffort != nil {
		f.ReasoningEffort = *p.ReasoningEffort
	}
	if p.BranchName != nil {
		f.BranchName = *p.BranchName
	}
	if p.WorktreePath != nil {
		f.WorktreePath = *p.WorktreePath
	}
	if p.ImagePaths != nil {
		f.ImagePaths = *p.ImagePaths
	}
	if p.Summary != nil {
		f.Summary = *p.Summary
	}
	if p.Error != nil {
		f.Error = *p.Error
	}
	if p.StartedAt != nil {
		f.StartedAt = *p.StartedAt
	}
	if p.JustFinishedAt != nil {
		f.JustFinishedAt = *p.JustFinishedAt
	}
	if p.PlanSpec != nil {
		f.PlanSpec = *p.PlanSpec
	}
}

// Delete recursively removes the feature directory. Deleting a feature that
// does not exist is not an error.
func (s *FeatureStore) Delete(projectPath, id string) error {
	lock := s.lockFor(projectPath, id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.RemoveAll(FeatureDir(projectPath, id)); err != nil {
		return fmt.Errorf("delete feature %s: %w", id, err)
	}
	return nil
}

// SetStatus updates the status and summary of a feature. When errMsg is nil
// the prior error field is cleared; passing a non-nil errMsg records it.
func (s *FeatureStore) SetStatus(projectPath, id string, status models.Status, summary, errMsg *string) (*models.Feature, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}

	lock := s.lockFor(projectPath, id)
	lock.Lock()
	defer lock.Unlock()

	f, err := s.Get(projectPath, id)
	if err != nil {
		return nil, err
	}

	f.Status = status
	if summary != nil {
		f.Summary = *summary
	}
	if errMsg != nil {
		f.Error = *errMsg
	} else {
		f.Error = ""
	}

	if err := writeRecord(projectPath, f); err != nil {
		return nil, err
	}
	return f, nil
}

// GetAgentOutput reads the transcript file. Returns an empty string when the
// transcript does not exist yet.
func (s *FeatureStore) GetAgentOutput(projectPath, id string) (string, error) {
	data, err := os.ReadFile(AgentOutputPath(projectPath, id))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read agent output: %w", err)
	}
	return string(data), nil
}

// AppendAgentOutput appends text to the feature's transcript.
func (s *FeatureStore) AppendAgentOutput(projectPath, id, text string) error {
	if err := os.MkdirAll(FeatureDir(projectPath, id), 0755); err != nil {
		return fmt.Errorf("create feature directory: %w", err)
	}
	f, err := os.OpenFile(AgentOutputPath(projectPath, id), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open agent output: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("append agent output: %w", err)
	}
	return nil
}

// readRecord reads and parses one feature.json.
func readRecord(path string) (*models.Feature, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f models.Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if f.ID == "" {
		return nil, fmt.Errorf("parse %s: missing id", path)
	}
	return &f, nil
}

// writeRecord persists a feature record as pretty-printed JSON via a whole-file
// replacement (temp file + rename).
func writeRecord(projectPath string, f *models.Feature) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal feature %s: %w", f.ID, err)
	}
	return atomicWrite(FeatureRecordPath(projectPath, f.ID), append(data, '\n'))
}

// atomicWrite writes data to path by writing a sibling temp file and renaming
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
