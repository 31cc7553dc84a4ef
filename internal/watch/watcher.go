// Package watch notices out-of-band edits to a project's feature records
// and nudges board views to reload.
package watch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/automaker/internal/store"
)

// defaultDebounce coalesces bursts of file events into one refresh.
const defaultDebounce = 250 * time.Millisecond

// Watcher monitors a project's features directory and invokes a callback
// after edits settle. Feature directories created while watching are added
// to the watch set.
type Watcher struct {
	featuresDir string
	debounce    time.Duration
	onChange    func()

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

// New starts watching the project's features directory. The callback fires
// on the watcher's goroutine after events settle. Returns an error when the
// directory does not exist or the platform watcher cannot start.
func New(projectPath string, onChange func()) (*Watcher, error) {
	return NewWithDebounce(projectPath, defaultDebounce, onChange)
}

// NewWithDebounce is New with an explicit debounce window.
func NewWithDebounce(projectPath string, debounce time.Duration, onChange func()) (*Watcher, error) {
	featuresDir := store.FeaturesDir(projectPath)
	if _, err := os.Stat(featuresDir); err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		featuresDir: featuresDir,
		debounce:    debounce,
		onChange:    onChange,
		watcher:     fsw,
		done:        make(chan struct{}),
	}

	if err := fsw.Add(featuresDir); err != nil {
		fsw.Close()
		return nil, err
	}
	// fsnotify is not recursive; watch the per-feature directories too so
	// record rewrites inside them are seen.
	entries, err := os.ReadDir(featuresDir)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				fsw.Add(filepath.Join(featuresDir, entry.Name()))
			}
		}
	}

	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.watcher.Add(event.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
		case <-fire:
			timer = nil
			fire = nil
			w.onChange()
		case <-w.watcher.Errors:
			// Keep watching; a missed refresh is recoverable.
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	return w.watcher.Close()
}
