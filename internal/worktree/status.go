package worktree

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	maxStatusFiles   = 20
	maxRecentCommits = 5
	maxDiffBytes     = 10 << 20
)

// FileChange is one changed path with its porcelain status code and a human
// label for it.
type FileChange struct {
	Path       string `json:"path"`
	Status     string `json:"status"`
	StatusText string `json:"statusText"`
}

// Status summarizes the state of a worktree for board display.
type Status struct {
	ModifiedCount int          `json:"modifiedCount"`
	Files         []FileChange `json:"files"`
	DiffStat      string       `json:"diffStat"`
	RecentCommits []string     `json:"recentCommits"`
}

// DiffSet is the combined staged and unstaged diff of a worktree.
type DiffSet struct {
	Diff       string       `json:"diff"`
	Files      []FileChange `json:"files"`
	HasChanges bool         `json:"hasChanges"`
}

var statusLabels = map[string]string{
	"M": "Modified",
	"A": "Added",
	"D": "Deleted",
	"R": "Renamed",
	"C": "Copied",
	"U": "Unmerged",
	"?": "Untracked",
	"!": "Ignored",
}

// Status returns a capped summary of changes in the worktree.
func (m *Manager) Status(worktreePath string) (*Status, error) {
	runner := m.factory(worktreePath)

	porcelain, err := runner.StatusPorcelain()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	files := parsePorcelainStatus(porcelain)

	st := &Status{ModifiedCount: len(files)}
	if len(files) > maxStatusFiles {
		files = files[:maxStatusFiles]
	}
	st.Files = files

	if stat, err := runner.DiffStat(); err == nil {
		st.DiffStat = stat
	}
	commits, err := runner.RecentCommits(maxRecentCommits)
	if err != nil {
		return nil, err
	}
	st.RecentCommits = commits

	return st, nil
}

// AllFileDiffs returns the staged and unstaged diffs concatenated, capped at
// maxDiffBytes, together with the changed file list.
func (m *Manager) AllFileDiffs(worktreePath string) (*DiffSet, error) {
	runner := m.factory(worktreePath)

	staged, err := runner.DiffStaged("")
	if err != nil {
		return nil, fmt.Errorf("staged diff: %w", err)
	}
	unstaged, err := runner.DiffUnstaged("")
	if err != nil {
		return nil, fmt.Errorf("unstaged diff: %w", err)
	}

	var b strings.Builder
	for _, part := range []string{staged, unstaged} {
		if part == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(part)
	}
	diff := b.String()
	if len(diff) > maxDiffBytes {
		diff = diff[:maxDiffBytes] + "\n... diff truncated ..."
	}

	porcelain, err := runner.StatusPorcelain()
	if err != nil {
		return nil, fmt.Errorf("worktree status: %w", err)
	}
	files := parsePorcelainStatus(porcelain)

	return &DiffSet{
		Diff:       diff,
		Files:      files,
		HasChanges: len(files) > 0 || diff != "",
	}, nil
}

// FileDiff returns the diff for one path: unstaged if present, then staged,
// then a synthetic new-file diff of the file's contents.
func (m *Manager) FileDiff(worktreePath, filePath string) (string, error) {
	runner := m.factory(worktreePath)

	if diff, err := runner.DiffUnstaged(filePath); err == nil && diff != "" {
		return diff, nil
	}
	if diff, err := runner.DiffStaged(filePath); err == nil && diff != "" {
		return diff, nil
	}

	full := filePath
	if !filepath.IsAbs(full) {
		full = filepath.Join(worktreePath, filePath)
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", fmt.Errorf("read new file %s: %w", filePath, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	var b strings.Builder
	fmt.Fprintf(&b, "+++ %s\n", filePath)
	for _, line := range lines {
		b.WriteString("+")
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String(), nil
}

// parsePorcelainStatus turns `git status --porcelain` output into FileChange
// entries. The effective code is the index column unless it is blank or the
// entry is untracked/ignored.
func parsePorcelainStatus(out string) []FileChange {
	var files []FileChange
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		x, y := string(line[0]), string(line[1])
		path := strings.TrimSpace(line[3:])
		// Renames are reported as "old -> new"; keep the new path.
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}

		code := x
		if code == " " {
			code = y
		}
		label, ok := statusLabels[code]
		if !ok {
			label = "Changed"
		}
		files = append(files, FileChange{Path: path, Status: code, StatusText: label})
	}
	return files
}
