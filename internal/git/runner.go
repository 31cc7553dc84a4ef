package git

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ShayCichocki/automaker/internal/exec"
)

// ExecRunner implements Runner over a CommandRunner. All invocations are
// shell-free argument arrays with dir as the working directory.
type ExecRunner struct {
	dir    string
	runner exec.CommandRunner
}

// NewRunner creates a git runner for the repository or worktree at dir.
func NewRunner(dir string) *ExecRunner {
	return &ExecRunner{dir: dir, runner: exec.NewRunner()}
}

// NewRunnerWith creates a git runner with a custom CommandRunner (for testing).
func NewRunnerWith(dir string, runner exec.CommandRunner) *ExecRunner {
	return &ExecRunner{dir: dir, runner: runner}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	out, err := r.runner.Run(context.Background(), r.dir, "git", args...)
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and discards its output.
func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// IsRepo returns true if dir is inside a git work tree.
func (r *ExecRunner) IsRepo() bool {
	out, err := r.run("rev-parse", "--is-inside-work-tree")
	return err == nil && out == "true"
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// Head returns the current HEAD commit hash.
func (r *ExecRunner) Head() (string, error) {
	return r.run("rev-parse", "HEAD")
}

// BranchExists returns true if the local branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	_, err := r.run("show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		// show-ref exits 1 when the ref is absent; the wrapped error has no
		// useful output in that case, so treat any failure as absence unless
		// the repository itself is broken.
		if r.IsRepo() {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// WorktreeAdd attaches a new worktree at the given path to an existing branch.
func (r *ExecRunner) WorktreeAdd(path, branch string) error {
	return r.runSilent("worktree", "add", path, branch)
}

// WorktreeAddNewBranch creates a worktree with a new branch from HEAD.
func (r *ExecRunner) WorktreeAddNewBranch(path, branch string) error {
	return r.runSilent("worktree", "add", "-b", branch, path)
}

// WorktreeRemove force-removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(path string) error {
	return r.runSilent("worktree", "remove", "--force", path)
}

// WorktreeListPorcelain returns the raw porcelain output for parsing.
func (r *ExecRunner) WorktreeListPorcelain() (string, error) {
	return r.run("worktree", "list", "--porcelain")
}

// WorktreePruneExpireNow prunes stale worktree entries.
func (r *ExecRunner) WorktreePruneExpireNow() error {
	return r.runSilent("worktree", "prune", "--expire", "now")
}

// StatusPorcelain returns the output of git status --porcelain.
func (r *ExecRunner) StatusPorcelain() (string, error) {
	return r.run("status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges() (bool, error) {
	status, err := r.StatusPorcelain()
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// DiffUnstaged returns the unstaged diff, optionally limited to one path.
func (r *ExecRunner) DiffUnstaged(path string) (string, error) {
	args := []string{"diff"}
	if path != "" {
		args = append(args, "--", path)
	}
	return r.run(args...)
}

// DiffStaged returns the staged diff, optionally limited to one path.
func (r *ExecRunner) DiffStaged(path string) (string, error) {
	args := []string{"diff", "--cached"}
	if path != "" {
		args = append(args, "--", path)
	}
	return r.run(args...)
}

// DiffStat returns the output of git diff --stat (staged and unstaged vs HEAD).
func (r *ExecRunner) DiffStat() (string, error) {
	return r.run("diff", "--stat", "HEAD")
}

// RecentCommits returns up to n one-line commit summaries, newest first.
func (r *ExecRunner) RecentCommits(n int) ([]string, error) {
	out, err := r.run("log", "--oneline", "-n", strconv.Itoa(n))
	if err != nil {
		// A branch with no commits yet has no log.
		return nil, nil
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// AddAll stages every change in the work tree.
func (r *ExecRunner) AddAll() error {
	return r.runSilent("add", "-A")
}

// Commit creates a new commit with the given message.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}

// Merge merges the specified branch into the current branch.
func (r *ExecRunner) Merge(branch string) error {
	return r.runSilent("merge", branch)
}

// MergeNoFFMessage merges the branch with --no-ff and a custom message.
func (r *ExecRunner) MergeNoFFMessage(branch, message string) error {
	return r.runSilent("merge", "--no-ff", "-m", message, branch)
}

// MergeSquash stages the branch's changes as a squash merge. The caller
// commits the result with its own message.
func (r *ExecRunner) MergeSquash(branch string) error {
	return r.runSilent("merge", "--squash", branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort() error {
	return r.runSilent("merge", "--abort")
}

// Rebase rebases the current branch onto the specified base.
func (r *ExecRunner) Rebase(base string) error {
	return r.runSilent("rebase", base)
}

// RebaseAbort aborts an in-progress rebase.
func (r *ExecRunner) RebaseAbort() error {
	return r.runSilent("rebase", "--abort")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
