package models

import (
	"encoding/json"
	"sort"
	"testing"
	"time"
)

func TestStatusValid(t *testing.T) {
	tests := []struct {
		status Status
		valid  bool
	}{
		{StatusBacklog, true},
		{StatusInProgress, true},
		{StatusWaitingApproval, true},
		{StatusVerified, true},
		{StatusArchived, true},
		{Status("done"), false},
		{Status(""), false},
	}

	for _, tt := range tests {
		if got := tt.status.Valid(); got != tt.valid {
			t.Errorf("Status(%q).Valid() = %v, want %v", tt.status, got, tt.valid)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []Status{StatusWaitingApproval, StatusVerified, StatusArchived}
	nonTerminal := []Status{StatusBacklog, StatusInProgress}

	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("Status(%q).Terminal() = false, want true", s)
		}
	}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("Status(%q).Terminal() = true, want false", s)
		}
	}
}

func TestNewFeatureIDOrdering(t *testing.T) {
	ids := make([]string, 5)
	for i := range ids {
		ids[i] = NewFeatureID()
		time.Sleep(2 * time.Millisecond)
	}

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("ids not lexicographically time-ordered: %v", ids)
		}
	}
}

func TestCreatedAtFromID(t *testing.T) {
	before := time.Now().Add(-time.Second)
	id := NewFeatureID()
	after := time.Now().Add(time.Second)

	created := CreatedAtFromID(id)
	if created.Before(before) || created.After(after) {
		t.Errorf("CreatedAtFromID(%q) = %v, outside [%v, %v]", id, created, before, after)
	}

	if !CreatedAtFromID("not-a-timestamp").IsZero() {
		t.Error("expected zero time for id without numeric prefix")
	}
	if !CreatedAtFromID("plainid").IsZero() {
		t.Error("expected zero time for id without separator")
	}
}

func TestEffectivePriority(t *testing.T) {
	f := &Feature{}
	if got := f.EffectivePriority(); got != PriorityMedium {
		t.Errorf("unset priority = %v, want medium", got)
	}
	f.Priority = PriorityHigh
	if got := f.EffectivePriority(); got != PriorityHigh {
		t.Errorf("priority = %v, want high", got)
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("1234567890abcdef"); got != "1234567890ab" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID of short id = %q", got)
	}
}

func TestImagePathUnmarshalString(t *testing.T) {
	var f Feature
	raw := `{"id":"f-1","description":"d","status":"backlog","imagePaths":["/tmp/a.png",{"path":"/tmp/b.jpg","meta":{"alt":"screenshot"}}]}`
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(f.ImagePaths) != 2 {
		t.Fatalf("got %d image paths, want 2", len(f.ImagePaths))
	}
	if f.ImagePaths[0].Path != "/tmp/a.png" {
		t.Errorf("first path = %q", f.ImagePaths[0].Path)
	}
	if f.ImagePaths[1].Path != "/tmp/b.jpg" || f.ImagePaths[1].Meta["alt"] != "screenshot" {
		t.Errorf("second path = %+v", f.ImagePaths[1])
	}

	// Bare paths round-trip as strings.
	out, err := json.Marshal(f.ImagePaths[0])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"/tmp/a.png"` {
		t.Errorf("marshal bare path = %s", out)
	}
}
