package orchestrator

import (
	"fmt"
	"testing"
	"time"

	"github.com/ShayCichocki/automaker/pkg/models"
)

// idAt builds a time-ordered feature id with a fixed suffix so creation
// order in tests is explicit.
func idAt(ms int64, suffix string) string {
	return fmt.Sprintf("%013d-%s", ms, suffix)
}

func TestSelectCandidatesOrdering(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	features := []*models.Feature{
		{ID: idAt(base+3000, "aaaa1111"), Status: models.StatusBacklog, Priority: models.PriorityLow},
		{ID: idAt(base+2000, "bbbb2222"), Status: models.StatusBacklog, Priority: models.PriorityHigh},
		{ID: idAt(base+1000, "cccc3333"), Status: models.StatusBacklog}, // unset = medium
		{ID: idAt(base, "dddd4444"), Status: models.StatusBacklog, Priority: models.PriorityMedium},
	}

	got := selectCandidates(features, nil)
	want := []string{
		idAt(base+2000, "bbbb2222"), // high
		idAt(base, "dddd4444"),      // medium, older
		idAt(base+1000, "cccc3333"), // unset sorts as medium, newer
		idAt(base+3000, "aaaa1111"), // low
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d", len(got), len(want))
	}
	for i, f := range got {
		if f.ID != want[i] {
			t.Errorf("candidate[%d] = %s, want %s", i, f.ID, want[i])
		}
	}
}

func TestSelectCandidatesFilters(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	runningID := idAt(base, "aaaa0000")
	features := []*models.Feature{
		{ID: runningID, Status: models.StatusInProgress},
		{ID: idAt(base+1, "bbbb0000"), Status: models.StatusWaitingApproval},
		{ID: idAt(base+2, "cccc0000"), Status: models.StatusVerified},
		{ID: idAt(base+3, "dddd0000"), Status: models.StatusArchived},
		{ID: idAt(base+4, "eeee0000"), Status: models.StatusBacklog},
		{ID: idAt(base+5, "ffff0000"), Status: models.StatusInProgress},
	}

	got := selectCandidates(features, map[string]bool{runningID: true})
	want := map[string]bool{
		idAt(base+4, "eeee0000"): true,
		// in_progress without a live session stays eligible
		idAt(base+5, "ffff0000"): true,
	}
	if len(got) != len(want) {
		t.Fatalf("got %d candidates, want %d: %v", len(got), len(want), got)
	}
	for _, f := range got {
		if !want[f.ID] {
			t.Errorf("unexpected candidate %s", f.ID)
		}
	}
}

func TestBlockedByDependencies(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	verified := idAt(base, "aaaa0000")
	archived := idAt(base+1, "bbbb0000")
	backlog := idAt(base+2, "cccc0000")
	inProgress := idAt(base+3, "dddd0000")

	statuses := map[string]models.Status{
		verified:   models.StatusVerified,
		archived:   models.StatusArchived,
		backlog:    models.StatusBacklog,
		inProgress: models.StatusInProgress,
	}

	tests := []struct {
		name    string
		deps    []string
		blocked bool
	}{
		{"no deps", nil, false},
		{"verified dep", []string{verified}, false},
		{"archived dep", []string{archived}, false},
		{"backlog dep", []string{backlog}, true},
		{"in_progress dep", []string{inProgress}, true},
		{"mixed, one unmet", []string{verified, backlog}, true},
		{"unknown dep id blocks", []string{"9999999999999-zzzz0000"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &models.Feature{ID: idAt(base+100, "eeee0000"), Status: models.StatusBacklog, Dependencies: tt.deps}
			if got := blockedByDependencies(f, statuses); got != tt.blocked {
				t.Errorf("blocked = %v, want %v", got, tt.blocked)
			}
		})
	}
}

func TestSupervisorOnePerKind(t *testing.T) {
	s := newSupervisor()

	_, finish, err := s.begin(taskSuggestions)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, _, err := s.begin(taskSuggestions); err == nil {
		t.Fatal("second begin of same kind should fail")
	} else if _, ok := err.(*ErrTaskRunning); !ok {
		t.Fatalf("error type = %T, want *ErrTaskRunning", err)
	}

	// Another kind is independent.
	_, finishRegen, err := s.begin(taskSpecRegen)
	if err != nil {
		t.Fatalf("begin other kind: %v", err)
	}
	finishRegen()

	finish()
	if _, finish2, err := s.begin(taskSuggestions); err != nil {
		t.Fatalf("begin after finish: %v", err)
	} else {
		finish2()
	}
}

func TestSupervisorStopCancelsContext(t *testing.T) {
	s := newSupervisor()
	ctx, finish, err := s.begin(taskAnalysis)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer finish()

	if !s.stop(taskAnalysis) {
		t.Fatal("stop returned false for a live task")
	}
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context not cancelled after stop")
	}
	if s.stop(taskSpecRegen) {
		t.Fatal("stop returned true for an idle kind")
	}
}
