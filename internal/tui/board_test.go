package tui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/automaker/internal/orchestrator"
	"github.com/ShayCichocki/automaker/pkg/models"
)

type fakeBoard struct {
	features []*models.Feature
	status   orchestrator.AutoModeStatus
	ran      []string
	stopped  []string
	approved []string
}

func (b *fakeBoard) Features() ([]*models.Feature, error) { return b.features, nil }
func (b *fakeBoard) RunFeature(id string) error           { b.ran = append(b.ran, id); return nil }
func (b *fakeBoard) StopFeature(id string) error          { b.stopped = append(b.stopped, id); return nil }
func (b *fakeBoard) ApprovePlan(id string) error          { b.approved = append(b.approved, id); return nil }
func (b *fakeBoard) Status() orchestrator.AutoModeStatus  { return b.status }

func key(s string) tea.KeyMsg {
	switch s {
	case "left", "right", "up", "down":
		types := map[string]tea.KeyType{
			"left": tea.KeyLeft, "right": tea.KeyRight,
			"up": tea.KeyUp, "down": tea.KeyDown,
		}
		return tea.KeyMsg{Type: types[s]}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}

func testBoard() *fakeBoard {
	return &fakeBoard{
		features: []*models.Feature{
			{ID: "1755000000001-aaaa1111", Description: "first", Status: models.StatusBacklog},
			{ID: "1755000000002-bbbb2222", Description: "second", Status: models.StatusBacklog},
			{ID: "1755000000003-cccc3333", Description: "third", Status: models.StatusInProgress},
		},
	}
}

func TestBoardGroupsByStatus(t *testing.T) {
	app := New(testBoard())
	app.Update(RefreshMsg{})

	if got := len(app.byStatus[models.StatusBacklog]); got != 2 {
		t.Errorf("backlog column has %d cards, want 2", got)
	}
	if got := len(app.byStatus[models.StatusInProgress]); got != 1 {
		t.Errorf("in_progress column has %d cards, want 1", got)
	}

	view := app.View()
	for _, want := range []string{"Backlog (2)", "In Progress (1)", "first", "third"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestBoardNavigationAndRun(t *testing.T) {
	board := testBoard()
	app := New(board)
	app.Update(RefreshMsg{})

	// Select the second backlog card and run it.
	app.Update(key("down"))
	app.Update(key("r"))
	if len(board.ran) != 1 || board.ran[0] != "1755000000002-bbbb2222" {
		t.Fatalf("ran = %v", board.ran)
	}

	// Move to the in_progress column; the row clamps to its only card.
	app.Update(key("right"))
	app.Update(key("s"))
	if len(board.stopped) != 1 || board.stopped[0] != "1755000000003-cccc3333" {
		t.Fatalf("stopped = %v", board.stopped)
	}
}

func TestBoardEventRefreshesAndLogs(t *testing.T) {
	board := testBoard()
	app := New(board)
	app.Update(RefreshMsg{})

	board.features[0].Status = models.StatusInProgress
	board.status = orchestrator.AutoModeStatus{Running: []string{board.features[0].ID}}

	app.Update(EngineEventMsg{Event: orchestrator.Event{
		Type:      orchestrator.EventFeatureStarted,
		FeatureID: board.features[0].ID,
		Time:      time.Now(),
	}})

	if got := len(app.byStatus[models.StatusInProgress]); got != 2 {
		t.Errorf("in_progress column has %d cards after refresh, want 2", got)
	}
	if len(app.logs) == 0 {
		t.Fatal("event not logged")
	}
	if !strings.Contains(app.logs[0].text, "started") {
		t.Errorf("log text = %q", app.logs[0].text)
	}
	if !app.running[board.features[0].ID] {
		t.Error("running marker not set")
	}
}

func TestBoardLogPaneFollowsTail(t *testing.T) {
	app := New(testBoard())
	app.Update(RefreshMsg{})
	app.Update(tea.WindowSizeMsg{Width: 100, Height: 40})

	for i := 0; i < logPaneHeight+4; i++ {
		app.Update(EngineEventMsg{Event: orchestrator.Event{
			Type: orchestrator.EventError,
			Err:  fmt.Sprintf("problem %d", i),
			Time: time.Now(),
		}})
	}

	pane := app.renderLogs()
	if !strings.Contains(pane, fmt.Sprintf("problem %d", logPaneHeight+3)) {
		t.Errorf("log pane missing newest entry:\n%s", pane)
	}
	if strings.Contains(pane, "problem 0") {
		t.Errorf("log pane not scrolled to the tail:\n%s", pane)
	}
}

func TestBoardQuit(t *testing.T) {
	app := New(testBoard())
	_, cmd := app.Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
}
