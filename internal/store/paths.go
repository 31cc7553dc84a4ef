// Package store persists feature records and per-user engine data as plain
// files. Feature records live under <project>/.automaker/features; global
// settings and credentials live in an OS-appropriate per-user data directory.
package store

import (
	"os"
	"path/filepath"
)

// DirName is the per-project data directory.
const DirName = ".automaker"

// AutomakerDir returns <project>/.automaker.
func AutomakerDir(projectPath string) string {
	return filepath.Join(projectPath, DirName)
}

// FeaturesDir returns the directory holding all feature records.
func FeaturesDir(projectPath string) string {
	return filepath.Join(AutomakerDir(projectPath), "features")
}

// FeatureDir returns the directory for one feature.
func FeatureDir(projectPath, id string) string {
	return filepath.Join(FeaturesDir(projectPath), id)
}

// FeatureRecordPath returns the path of a feature's JSON record.
func FeatureRecordPath(projectPath, id string) string {
	return filepath.Join(FeatureDir(projectPath, id), "feature.json")
}

// AgentOutputPath returns the path of a feature's agent transcript.
func AgentOutputPath(projectPath, id string) string {
	return filepath.Join(FeatureDir(projectPath, id), "agent-output.md")
}

// ImagesDir returns the directory holding a feature's relocated images.
func ImagesDir(projectPath, id string) string {
	return filepath.Join(FeatureDir(projectPath, id), "images")
}

// WorktreesDir returns the directory under which feature worktrees live.
func WorktreesDir(projectPath string) string {
	return filepath.Join(AutomakerDir(projectPath), "worktrees")
}

// AppSpecPath returns the project-level spec file path.
func AppSpecPath(projectPath string) string {
	return filepath.Join(AutomakerDir(projectPath), "app_spec.txt")
}

// CategoriesPath returns the project-level categories file path.
func CategoriesPath(projectPath string) string {
	return filepath.Join(AutomakerDir(projectPath), "categories.json")
}

// ContextPath returns the optional user-authored context file for a feature.
func ContextPath(projectPath, id string) string {
	return filepath.Join(AutomakerDir(projectPath), "context", id+".md")
}

// LogsDir returns the engine's debug log directory for a project.
func LogsDir(projectPath string) string {
	return filepath.Join(AutomakerDir(projectPath), "logs")
}

// UserDataDir returns the per-user data directory for automaker, creating
// nothing. Honors XDG_DATA_HOME on platforms that set it.
func UserDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "automaker")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".automaker-user")
	}
	return filepath.Join(home, ".local", "share", "automaker")
}
