// Package exec provides an interface for command execution.
package exec

import (
	"context"
)

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns combined stdout/stderr output.
	// The working directory is set to workDir if non-empty. Arguments are
	// passed as-is; no shell interpretation happens.
	Run(ctx context.Context, workDir string, name string, args ...string) (output []byte, err error)

	// LookPath reports whether the named binary can be found on PATH and
	// returns its resolved path.
	LookPath(name string) (string, error)

	// Exists checks if a file exists at the given path, relative to workDir
	// when workDir is non-empty.
	Exists(ctx context.Context, workDir string, path string) bool
}
