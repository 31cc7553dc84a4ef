package store

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ShayCichocki/automaker/pkg/models"
)

func newTestStore(t *testing.T) (*FeatureStore, string) {
	t.Helper()
	return NewFeatureStore(), t.TempDir()
}

func TestCreateAssignsIDAndDefaults(t *testing.T) {
	s, project := newTestStore(t)

	f, err := s.Create(project, &models.Feature{Description: "add dark mode"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if f.ID == "" {
		t.Fatal("expected assigned id")
	}
	if f.Status != models.StatusBacklog {
		t.Errorf("status = %q, want backlog", f.Status)
	}

	if _, err := os.Stat(FeatureRecordPath(project, f.ID)); err != nil {
		t.Errorf("record not written: %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	s, project := newTestStore(t)
	if _, err := s.Get(project, "missing"); err != ErrNotFound {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestListSortsByEmbeddedTimestamp(t *testing.T) {
	s, project := newTestStore(t)

	// Created out of order on purpose.
	ids := []string{
		"0000000000300-bbbb",
		"0000000000100-aaaa",
		"0000000000200-cccc",
	}
	for _, id := range ids {
		if _, err := s.Create(project, &models.Feature{ID: id, Description: id}); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	features, err := s.List(project)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(features) != 3 {
		t.Fatalf("got %d features, want 3", len(features))
	}
	want := []string{"0000000000100-aaaa", "0000000000200-cccc", "0000000000300-bbbb"}
	for i, f := range features {
		if f.ID != want[i] {
			t.Errorf("features[%d] = %s, want %s", i, f.ID, want[i])
		}
	}
}

func TestListSkipsMalformed(t *testing.T) {
	s, project := newTestStore(t)

	if _, err := s.Create(project, &models.Feature{ID: "0000000000100-good", Description: "ok"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	badDir := FeatureDir(project, "0000000000200-bad")
	if err := os.MkdirAll(badDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(badDir, "feature.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	features, err := s.List(project)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(features) != 1 || features[0].ID != "0000000000100-good" {
		t.Errorf("got %d features, want only the well-formed one", len(features))
	}
}

func TestUpdateMergesPartial(t *testing.T) {
	s, project := newTestStore(t)

	f, err := s.Create(project, &models.Feature{Description: "orig", Category: "ui"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	desc := "updated"
	status := models.StatusInProgress
	now := time.Now().UTC().Truncate(time.Second)
	started := &now
	updated, err := s.Update(project, f.ID, Partial{
		Description: &desc,
		Status:      &status,
		StartedAt:   &started,
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Description != "updated" || updated.Status != models.StatusInProgress {
		t.Errorf("merge failed: %+v", updated)
	}
	if updated.Category != "ui" {
		t.Errorf("untouched field changed: category = %q", updated.Category)
	}
	if updated.StartedAt == nil || !updated.StartedAt.Equal(now) {
		t.Errorf("startedAt = %v, want %v", updated.StartedAt, now)
	}

	// Clearing via pointer-to-nil.
	var cleared *time.Time
	updated, err = s.Update(project, f.ID, Partial{StartedAt: &cleared})
	if err != nil {
		t.Fatalf("Update clear: %v", err)
	}
	if updated.StartedAt != nil {
		t.Errorf("startedAt not cleared: %v", updated.StartedAt)
	}
}

func TestSetStatusClearsErrorWhenOmitted(t *testing.T) {
	s, project := newTestStore(t)

	f, err := s.Create(project, &models.Feature{Description: "x"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	msg := "agent crashed"
	if _, err := s.SetStatus(project, f.ID, models.StatusInProgress, nil, &msg); err != nil {
		t.Fatalf("SetStatus with error: %v", err)
	}
	got, _ := s.Get(project, f.ID)
	if got.Error != "agent crashed" {
		t.Errorf("error = %q", got.Error)
	}

	summary := "done"
	if _, err := s.SetStatus(project, f.ID, models.StatusVerified, &summary, nil); err != nil {
		t.Fatalf("SetStatus without error: %v", err)
	}
	got, _ = s.Get(project, f.ID)
	if got.Error != "" {
		t.Errorf("error not cleared: %q", got.Error)
	}
	if got.Summary != "done" || got.Status != models.StatusVerified {
		t.Errorf("record = %+v", got)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, project := newTestStore(t)

	f, _ := s.Create(project, &models.Feature{Description: "x"})
	if err := s.Delete(project, f.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(project, f.ID); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := s.Get(project, f.ID); err != ErrNotFound {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestAgentOutputAppendAndRead(t *testing.T) {
	s, project := newTestStore(t)
	f, _ := s.Create(project, &models.Feature{Description: "x"})

	if out, err := s.GetAgentOutput(project, f.ID); err != nil || out != "" {
		t.Fatalf("empty transcript = %q, %v", out, err)
	}

	for _, chunk := range []string{"# Run\n", "first\n", "second\n"} {
		if err := s.AppendAgentOutput(project, f.ID, chunk); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	out, err := s.GetAgentOutput(project, f.ID)
	if err != nil {
		t.Fatalf("GetAgentOutput: %v", err)
	}
	if out != "# Run\nfirst\nsecond\n" {
		t.Errorf("transcript = %q", out)
	}
}

func TestConcurrentUpdatesSerialize(t *testing.T) {
	s, project := newTestStore(t)
	f, _ := s.Create(project, &models.Feature{Description: "x"})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cat := strings.Repeat("c", n+1)
			if _, err := s.Update(project, f.ID, Partial{Category: &cat}); err != nil {
				t.Errorf("Update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(project, f.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// The final record must equal one of the writes applied last, never a
	// torn mix.
	if got.Description != "x" || !strings.HasPrefix(got.Category, "c") {
		t.Errorf("record corrupted: %+v", got)
	}
}

func TestImageRelocation(t *testing.T) {
	s, project := newTestStore(t)

	src := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(src, []byte("png"), 0644); err != nil {
		t.Fatal(err)
	}

	f, err := s.Create(project, &models.Feature{
		Description: "with image",
		ImagePaths:  []models.ImagePath{{Path: src}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wantDir := ImagesDir(project, f.ID)
	if filepath.Dir(f.ImagePaths[0].Path) != wantDir {
		t.Errorf("image not relocated: %s", f.ImagePaths[0].Path)
	}
	if _, err := os.Stat(f.ImagePaths[0].Path); err != nil {
		t.Errorf("relocated file missing: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("source file still present")
	}
}

func TestImageRelocationCollision(t *testing.T) {
	s, project := newTestStore(t)

	f, err := s.Create(project, &models.Feature{Description: "x"})
	if err != nil {
		t.Fatal(err)
	}

	imagesDir := ImagesDir(project, f.ID)
	if err := os.MkdirAll(imagesDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(imagesDir, "shot.png"), []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	src := filepath.Join(t.TempDir(), "shot.png")
	if err := os.WriteFile(src, []byte("new"), 0644); err != nil {
		t.Fatal(err)
	}

	paths := []models.ImagePath{{Path: src}}
	updated, err := s.Update(project, f.ID, Partial{ImagePaths: &paths})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if filepath.Base(updated.ImagePaths[0].Path) != "shot-1.png" {
		t.Errorf("collision suffix missing: %s", updated.ImagePaths[0].Path)
	}
}

func TestImageRelocationMissingSourceTolerated(t *testing.T) {
	s, project := newTestStore(t)

	f, err := s.Create(project, &models.Feature{
		Description: "x",
		ImagePaths:  []models.ImagePath{{Path: "/nonexistent/shot.png"}},
	})
	if err != nil {
		t.Fatalf("Create with missing image: %v", err)
	}
	if f.ImagePaths[0].Path != "/nonexistent/shot.png" {
		t.Errorf("missing image path rewritten: %s", f.ImagePaths[0].Path)
	}
}
