package orchestrator

import (
	"errors"
	"sort"

	"github.com/ShayCichocki/automaker/pkg/models"
)

// tick runs one scheduling pass: list, filter, sort, and start candidates
// until the budget is full. Slot accounting lives in acquireSlot, so a
// tick racing another admitter cannot oversubscribe.
func (o *Orchestrator) tick() {
	features, err := o.store.List(o.projectPath)
	if err != nil {
		o.logger.Log("scheduling tick: list features: %v", err)
		return
	}

	o.mu.Lock()
	if !o.autoMode {
		o.mu.Unlock()
		return
	}
	runningSet := make(map[string]bool, len(o.running))
	for id := range o.running {
		runningSet[id] = true
	}
	o.mu.Unlock()

	candidates := selectCandidates(features, runningSet)
	for _, f := range candidates {
		if err := o.startRun(f.ID, runImplement, ""); err != nil {
			if errors.Is(err, ErrBudgetExhausted) {
				break
			}
			o.logger.Log("scheduling tick: start %s: %v", f.ID, err)
		}
	}
}

// selectCandidates applies the selection policy: drop features that are
// running, terminal, or dependency-blocked, then order by priority
// ascending (unset sorts as medium) and creation time ascending.
func selectCandidates(features []*models.Feature, running map[string]bool) []*models.Feature {
	statusByID := make(map[string]models.Status, len(features))
	for _, f := range features {
		statusByID[f.ID] = f.Status
	}

	var candidates []*models.Feature
	for _, f := range features {
		if running[f.ID] || f.Status.Terminal() {
			continue
		}
		if blockedByDependencies(f, statusByID) {
			continue
		}
		candidates = append(candidates, f)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].EffectivePriority(), candidates[j].EffectivePriority()
		if pi != pj {
			return pi < pj
		}
		ti := models.CreatedAtFromID(candidates[i].ID)
		tj := models.CreatedAtFromID(candidates[j].ID)
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// blockedByDependencies reports whether any dependency is not yet verified
// or archived. Unknown dependency ids block the feature.
func blockedByDependencies(f *models.Feature, statusByID map[string]models.Status) bool {
	for _, dep := range f.Dependencies {
		status, ok := statusByID[dep]
		if !ok {
			return true
		}
		if status != models.StatusVerified && status != models.StatusArchived {
			return true
		}
	}
	return false
}
