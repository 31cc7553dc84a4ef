// Package worktree manages per-feature git worktrees under the project's
// .automaker/worktrees directory. The git worktree list is the canonical
// source of truth; an in-memory cache only accelerates lookups.
package worktree

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/automaker/internal/git"
	"github.com/ShayCichocki/automaker/internal/store"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// BranchPrefix namespaces every branch the manager creates.
const BranchPrefix = "feature/"

// Record describes one feature worktree.
type Record struct {
	FeatureID  string    `json:"featureId"`
	Path       string    `json:"path"`
	Branch     string    `json:"branch"`
	BaseBranch string    `json:"baseBranch,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CreateResult is the outcome of Create. Preexisting is true when the
// worktree or branch already existed and was reused.
type CreateResult struct {
	Record
	Preexisting bool
}

// MergeOptions control Merge.
type MergeOptions struct {
	// Squash stages the branch as a squash merge instead of --no-ff.
	Squash bool
	// SquashMessage is the commit message for the squash commit.
	SquashMessage string
	// CommitMessage is used when uncommitted worktree changes must be
	// committed before merging. Defaults to "feat: complete <featureId>".
	CommitMessage string
	// Cleanup removes the worktree and branch after a successful merge.
	Cleanup bool
}

// SyncMethod selects how Sync brings a worktree up to date.
type SyncMethod string

const (
	SyncRebase SyncMethod = "rebase"
	SyncMerge  SyncMethod = "merge"
)

// Manager creates, inspects, merges, and removes feature worktrees. Safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	cache   map[string]*Record // projectPath \x00 featureID
	factory git.RunnerFactory
}

// NewManager creates a Manager backed by real git invocations.
func NewManager() *Manager {
	return NewManagerWith(func(dir string) git.Runner { return git.NewRunner(dir) })
}

// NewManagerWith creates a Manager with a custom runner factory (for testing).
func NewManagerWith(factory git.RunnerFactory) *Manager {
	return &Manager{cache: make(map[string]*Record), factory: factory}
}

func cacheKey(projectPath, featureID string) string {
	return projectPath + "\x00" + featureID
}

// IsVCSRepo reports whether the project directory is inside a git work tree.
func (m *Manager) IsVCSRepo(projectPath string) bool {
	return m.factory(projectPath).IsRepo()
}

// BranchName derives the branch for a feature: the prefix, the feature
// short-id, and a slug of the description.
func BranchName(f *models.Feature) string {
	slug := Slugify(f.Description)
	if slug == "" {
		return BranchPrefix + f.ShortID()
	}
	return BranchPrefix + f.ShortID() + "-" + slug
}

// Slugify lowercases, drops everything but letters, digits, hyphens, and
// spaces, collapses whitespace runs into single hyphens, and truncates to 40
// characters.
func Slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())
	slug := strings.Join(fields, "-")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	return strings.Trim(slug, "-")
}

// pathForBranch maps a branch onto its worktree directory.
func pathForBranch(projectPath, branch string) string {
	return filepath.Join(store.WorktreesDir(projectPath), strings.TrimPrefix(branch, BranchPrefix))
}

// Create ensures a worktree exists for the feature. Calling it twice for the
// same feature returns the same record, the second time with Preexisting set.
func (m *Manager) Create(projectPath string, f *models.Feature) (*CreateResult, error) {
	runner := m.factory(projectPath)
	if !runner.IsRepo() {
		return nil, fmt.Errorf("%s is not a git repository", projectPath)
	}

	branch := BranchName(f)
	path := pathForBranch(projectPath, branch)

	entries, err := m.listWorktrees(runner)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.path == path || e.branch == branch {
			rec := &Record{FeatureID: f.ID, Path: e.path, Branch: e.branch, CreatedAt: time.Now()}
			if base, err := runner.CurrentBranch(); err == nil {
				rec.BaseBranch = base
			}
			m.put(projectPath, rec)
			return &CreateResult{Record: *rec, Preexisting: true}, nil
		}
	}

	base, err := runner.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("resolve base branch: %w", err)
	}

	if err := os.MkdirAll(store.WorktreesDir(projectPath), 0755); err != nil {
		return nil, fmt.Errorf("create worktrees directory: %w", err)
	}

	exists, err := runner.BranchExists(branch)
	if err != nil {
		return nil, err
	}
	if exists {
		err = runner.WorktreeAdd(path, branch)
	} else {
		err = runner.WorktreeAddNewBranch(path, branch)
	}
	if err != nil {
		return nil, fmt.Errorf("add worktree for %s: %w", f.ShortID(), err)
	}

	m.seedProjectFiles(projectPath, path)

	rec := &Record{FeatureID: f.ID, Path: path, Branch: branch, BaseBranch: base, CreatedAt: time.Now()}
	m.put(projectPath, rec)
	return &CreateResult{Record: *rec}, nil
}

// seedProjectFiles copies project-level context files into the worktree so
// the agent sees them. Missing sources are fine.
func (m *Manager) seedProjectFiles(projectPath, worktreePath string) {
	for _, src := range []string{store.AppSpecPath(projectPath), store.CategoriesPath(projectPath)} {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dstDir := store.AutomakerDir(worktreePath)
		if err := os.MkdirAll(dstDir, 0755); err != nil {
			log.Printf("[worktree] seed %s: %v", filepath.Base(src), err)
			continue
		}
		if err := copyFile(src, filepath.Join(dstDir, filepath.Base(src))); err != nil {
			log.Printf("[worktree] seed %s: %v", filepath.Base(src), err)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// Get returns the worktree record for a feature, or nil when none exists.
// Cache hits avoid a git invocation; misses scan the worktree list for a
// branch containing the feature short-id.
func (m *Manager) Get(projectPath, featureID string) (*Record, error) {
	m.mu.Lock()
	if rec, ok := m.cache[cacheKey(projectPath, featureID)]; ok {
		m.mu.Unlock()
		if _, err := os.Stat(rec.Path); err == nil {
			return rec, nil
		}
		m.invalidate(projectPath, featureID)
	} else {
		m.mu.Unlock()
	}

	runner := m.factory(projectPath)
	if !runner.IsRepo() {
		return nil, nil
	}
	entries, err := m.listWorktrees(runner)
	if err != nil {
		return nil, err
	}
	short := models.ShortID(featureID)
	for _, e := range entries {
		if e.branch != "" && strings.Contains(e.branch, short) {
			rec := &Record{FeatureID: featureID, Path: e.path, Branch: e.branch, CreatedAt: time.Now()}
			m.put(projectPath, rec)
			return rec, nil
		}
	}
	return nil, nil
}

// Remove force-removes the feature's worktree and optionally its branch.
// Removing a feature with no worktree is not an error.
func (m *Manager) Remove(projectPath, featureID string, deleteBranch bool) error {
	rec, err := m.Get(projectPath, featureID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	runner := m.factory(projectPath)
	if err := runner.WorktreeRemove(rec.Path); err != nil {
		return fmt.Errorf("remove worktree %s: %w", rec.Path, err)
	}
	if deleteBranch {
		if err := runner.DeleteBranch(rec.Branch); err != nil {
			return fmt.Errorf("delete branch %s: %w", rec.Branch, err)
		}
	}
	m.invalidate(projectPath, featureID)
	return nil
}

// ListAllFeatureWorktrees returns a record for every worktree the manager
// owns, i.e. those on a feature/ branch or under the managed directory.
func (m *Manager) ListAllFeatureWorktrees(projectPath string) ([]*Record, error) {
	runner := m.factory(projectPath)
	if !runner.IsRepo() {
		return nil, nil
	}
	entries, err := m.listWorktrees(runner)
	if err != nil {
		return nil, err
	}

	managed := store.WorktreesDir(projectPath)
	var records []*Record
	for _, e := range entries {
		if !strings.HasPrefix(e.branch, BranchPrefix) && !strings.HasPrefix(e.path, managed+string(filepath.Separator)) {
			continue
		}
		records = append(records, &Record{Path: e.path, Branch: e.branch, CreatedAt: time.Now()})
	}
	return records, nil
}

// Merge integrates a feature branch into the project's current branch. Any
// uncommitted worktree changes are committed first.
func (m *Manager) Merge(projectPath, featureID string, opts MergeOptions) error {
	rec, err := m.Get(projectPath, featureID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no worktree for feature %s", models.ShortID(featureID))
	}

	wt := m.factory(rec.Path)
	dirty, err := wt.HasChanges()
	if err != nil {
		return err
	}
	if dirty {
		msg := opts.CommitMessage
		if msg == "" {
			msg = "feat: complete " + featureID
		}
		if err := wt.AddAll(); err != nil {
			return fmt.Errorf("stage worktree changes: %w", err)
		}
		if err := wt.Commit(msg); err != nil {
			return fmt.Errorf("commit worktree changes: %w", err)
		}
	}

	proj := m.factory(projectPath)
	if opts.Squash {
		msg := opts.SquashMessage
		if msg == "" {
			msg = "feat: complete " + featureID
		}
		if err := proj.MergeSquash(rec.Branch); err != nil {
			proj.MergeAbort()
			return fmt.Errorf("squash merge %s: %w", rec.Branch, err)
		}
		if err := proj.Commit(msg); err != nil {
			return fmt.Errorf("commit squash merge: %w", err)
		}
	} else {
		msg := "Merge " + rec.Branch
		if err := proj.MergeNoFFMessage(rec.Branch, msg); err != nil {
			proj.MergeAbort()
			return fmt.Errorf("merge %s: %w", rec.Branch, err)
		}
	}

	if opts.Cleanup {
		return m.Remove(projectPath, featureID, true)
	}
	return nil
}

// Sync brings the feature worktree up to date with its base branch.
func (m *Manager) Sync(projectPath, featureID string, method SyncMethod) error {
	rec, err := m.Get(projectPath, featureID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no worktree for feature %s", models.ShortID(featureID))
	}

	base := rec.BaseBranch
	if base == "" {
		if base, err = m.factory(projectPath).CurrentBranch(); err != nil {
			return fmt.Errorf("resolve base branch: %w", err)
		}
	}

	wt := m.factory(rec.Path)
	switch method {
	case SyncRebase:
		if err := wt.Rebase(base); err != nil {
			wt.RebaseAbort()
			return fmt.Errorf("rebase onto %s: %w", base, err)
		}
	case SyncMerge:
		if err := wt.Merge(base); err != nil {
			wt.MergeAbort()
			return fmt.Errorf("merge %s: %w", base, err)
		}
	default:
		return fmt.Errorf("unknown sync method %q", method)
	}
	return nil
}

// CleanupOrphaned removes managed worktrees whose branch short-id matches no
// active feature. Returns the number of worktrees removed.
func (m *Manager) CleanupOrphaned(projectPath string, activeIDs []string) (int, error) {
	records, err := m.ListAllFeatureWorktrees(projectPath)
	if err != nil {
		return 0, err
	}

	active := make(map[string]bool, len(activeIDs))
	for _, id := range activeIDs {
		active[models.ShortID(id)] = true
	}

	runner := m.factory(projectPath)
	removed := 0
	for _, rec := range records {
		short := branchShortID(rec.Branch)
		if short == "" || active[short] {
			continue
		}
		if err := runner.WorktreeRemove(rec.Path); err != nil {
			return removed, fmt.Errorf("remove orphaned worktree %s: %w", rec.Path, err)
		}
		if rec.Branch != "" {
			if err := runner.DeleteBranch(rec.Branch); err != nil {
				return removed, fmt.Errorf("delete orphaned branch %s: %w", rec.Branch, err)
			}
		}
		removed++
	}
	if removed > 0 {
		runner.WorktreePruneExpireNow()
	}

	m.mu.Lock()
	for key := range m.cache {
		if strings.HasPrefix(key, projectPath+"\x00") {
			delete(m.cache, key)
		}
	}
	m.mu.Unlock()

	return removed, nil
}

// branchShortID extracts the feature short-id embedded in a managed branch
// name, or "" for branches the manager did not create.
func branchShortID(branch string) string {
	rest := strings.TrimPrefix(branch, BranchPrefix)
	if rest == branch || len(rest) < 12 {
		return ""
	}
	return rest[:12]
}

// worktreeEntry is one block of `git worktree list --porcelain` output.
type worktreeEntry struct {
	path   string
	head   string
	branch string
}

// listWorktrees parses the porcelain worktree list.
func (m *Manager) listWorktrees(runner git.Runner) ([]worktreeEntry, error) {
	out, err := runner.WorktreeListPorcelain()
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(out), nil
}

func parseWorktreeList(out string) []worktreeEntry {
	var entries []worktreeEntry
	var cur *worktreeEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case strings.HasPrefix(line, "worktree "):
			if cur != nil {
				entries = append(entries, *cur)
			}
			cur = &worktreeEntry{path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			continue
		case strings.HasPrefix(line, "HEAD "):
			cur.head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	if cur != nil {
		entries = append(entries, *cur)
	}
	return entries
}

func (m *Manager) put(projectPath string, rec *Record) {
	m.mu.Lock()
	m.cache[cacheKey(projectPath, rec.FeatureID)] = rec
	m.mu.Unlock()
}

func (m *Manager) invalidate(projectPath, featureID string) {
	m.mu.Lock()
	delete(m.cache, cacheKey(projectPath, featureID))
	m.mu.Unlock()
}
