// Package version exposes the engine's release version.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the embedded version string with surrounding whitespace
// trimmed.
func Get() string {
	return strings.TrimSpace(raw)
}
