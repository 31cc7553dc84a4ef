package watch

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/automaker/internal/store"
)

func TestWatcherRequiresFeaturesDir(t *testing.T) {
	if _, err := New(t.TempDir(), func() {}); err == nil {
		t.Fatal("expected error for a project without a features directory")
	}
}

func TestWatcherDebouncesBursts(t *testing.T) {
	project := t.TempDir()
	featuresDir := store.FeaturesDir(project)
	if err := os.MkdirAll(featuresDir, 0755); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	w, err := NewWithDebounce(project, 50*time.Millisecond, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("NewWithDebounce: %v", err)
	}
	defer w.Close()

	// A burst of writes collapses into one refresh.
	for i := 0; i < 5; i++ {
		path := filepath.Join(featuresDir, "scratch.json")
		if err := os.WriteFile(path, []byte(`{}`), 0644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := fired.Load(); got != 1 {
		t.Fatalf("callback fired %d times, want 1", got)
	}
}

func TestWatcherSeesNewFeatureDirs(t *testing.T) {
	project := t.TempDir()
	featuresDir := store.FeaturesDir(project)
	if err := os.MkdirAll(featuresDir, 0755); err != nil {
		t.Fatal(err)
	}

	var fired atomic.Int32
	w, err := NewWithDebounce(project, 20*time.Millisecond, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("NewWithDebounce: %v", err)
	}
	defer w.Close()

	featureDir := filepath.Join(featuresDir, "1755000000000-abcd1234")
	if err := os.MkdirAll(featureDir, 0755); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("creating a feature directory did not trigger a refresh")
	}

	// Writes inside the new directory are watched too.
	before := fired.Load()
	if err := os.WriteFile(filepath.Join(featureDir, "feature.json"), []byte(`{"id":"x"}`), 0644); err != nil {
		t.Fatal(err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for fired.Load() == before && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if fired.Load() == before {
		t.Fatal("write inside a new feature directory did not trigger a refresh")
	}

	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
