// Package git provides an interface for git operations.
package git

// RepoOperations defines repository-level queries.
type RepoOperations interface {
	// IsRepo returns true if the runner's directory is inside a git work tree.
	IsRepo() bool
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// Head returns the current HEAD commit hash.
	Head() (string, error)
}

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// BranchExists returns true if the local branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd attaches a new worktree at the given path to an existing branch.
	WorktreeAdd(path, branch string) error
	// WorktreeAddNewBranch creates a worktree with a new branch from HEAD.
	WorktreeAddNewBranch(path, branch string) error
	// WorktreeRemove force-removes the worktree at the given path.
	WorktreeRemove(path string) error
	// WorktreeListPorcelain returns the raw porcelain output for parsing.
	WorktreeListPorcelain() (string, error)
	// WorktreePruneExpireNow prunes stale worktree entries with --expire now.
	WorktreePruneExpireNow() error
}

// DiffOperations defines the interface for git diff and status operations.
type DiffOperations interface {
	// StatusPorcelain returns the output of git status --porcelain.
	StatusPorcelain() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// DiffUnstaged returns the unstaged diff, optionally limited to one path.
	DiffUnstaged(path string) (string, error)
	// DiffStaged returns the staged diff, optionally limited to one path.
	DiffStaged(path string) (string, error)
	// DiffStat returns the output of git diff --stat.
	DiffStat() (string, error)
	// RecentCommits returns up to n one-line commit summaries, newest first.
	RecentCommits(n int) ([]string, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// AddAll stages every change in the work tree.
	AddAll() error
	// Commit creates a new commit with the given message.
	Commit(message string) error
}

// MergeOperations defines the interface for git merge and rebase operations.
type MergeOperations interface {
	// Merge merges the specified branch into the current branch.
	Merge(branch string) error
	// MergeNoFFMessage merges the branch with --no-ff and a custom message.
	MergeNoFFMessage(branch, message string) error
	// MergeSquash stages the branch's changes as a squash merge (no commit).
	MergeSquash(branch string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// Rebase rebases the current branch onto the specified base.
	Rebase(base string) error
	// RebaseAbort aborts an in-progress rebase.
	RebaseAbort() error
}

// Runner defines the complete interface for git operations.
// Consumers should prefer the focused interfaces when possible.
type Runner interface {
	RepoOperations
	BranchOperations
	WorktreeOperations
	DiffOperations
	CommitOperations
	MergeOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}

// RunnerFactory builds a Runner bound to a directory. The worktree manager
// uses it to issue commands from either the project root or a worktree.
type RunnerFactory func(dir string) Runner
