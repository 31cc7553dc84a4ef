// Package graph models the dependency relationships between features on
// a project board.
package graph

import (
	"errors"
	"sync"

	"github.com/ShayCichocki/automaker/pkg/models"
)

// ErrCycleDetected indicates a circular dependency between features.
var ErrCycleDetected = errors.New("circular dependency detected")

// FeatureGraph is a directed graph of feature dependencies. Edges point
// from a feature to the features it is blocked by. Dependency ids that
// match no known feature are kept as dangling edges; they never satisfy.
type FeatureGraph struct {
	mu sync.RWMutex
	// nodes maps feature ID to the feature itself.
	nodes map[string]*models.Feature
	// edges maps feature ID to the IDs it depends on.
	edges map[string][]string
}

// New creates a new empty feature graph.
func New() *FeatureGraph {
	return &FeatureGraph{
		nodes: make(map[string]*models.Feature),
		edges: make(map[string][]string),
	}
}

// Build constructs the graph from a slice of features. Returns
// ErrCycleDetected if the declared dependencies form a cycle. Unknown
// dependency ids are not an error here; they simply never resolve.
func (g *FeatureGraph) Build(features []*models.Feature) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]*models.Feature, len(features))
	g.edges = make(map[string][]string, len(features))

	for _, f := range features {
		g.nodes[f.ID] = f
	}
	for _, f := range features {
		g.edges[f.ID] = append([]string(nil), f.Dependencies...)
	}

	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *FeatureGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked runs a depth-first search with coloring to find back
// edges. Callers must hold the lock.
func (g *FeatureGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			if _, known := g.nodes[depID]; !known {
				continue
			}
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Ready returns the features whose dependencies are all satisfied and
// that are not themselves finished. A dependency is satisfied once the
// feature it names is verified or archived; unknown ids never satisfy.
func (g *FeatureGraph) Ready() []*models.Feature {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*models.Feature
	for id, f := range g.nodes {
		if f.Status.Terminal() {
			continue
		}
		if g.blockedLocked(id) {
			continue
		}
		ready = append(ready, f)
	}
	return ready
}

// Blocked reports whether the given feature has an unsatisfied
// dependency.
func (g *FeatureGraph) Blocked(featureID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.blockedLocked(featureID)
}

func (g *FeatureGraph) blockedLocked(featureID string) bool {
	for _, depID := range g.edges[featureID] {
		dep, known := g.nodes[depID]
		if !known {
			return true
		}
		if dep.Status != models.StatusVerified && dep.Status != models.StatusArchived {
			return true
		}
	}
	return false
}

// Dependencies returns the ids the given feature depends on.
func (g *FeatureGraph) Dependencies(featureID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.edges[featureID]
}

// Dependents returns the ids of features that depend on the given one.
func (g *FeatureGraph) Dependents(featureID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == featureID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// Missing returns the dependency ids of the given feature that match no
// known feature. These keep the feature blocked until resolved.
func (g *FeatureGraph) Missing(featureID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var missing []string
	for _, depID := range g.edges[featureID] {
		if _, known := g.nodes[depID]; !known {
			missing = append(missing, depID)
		}
	}
	return missing
}

// Size returns the number of features in the graph.
func (g *FeatureGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
