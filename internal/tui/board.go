// Package tui renders the feature board: one column per status, live run
// markers, and a scrolling event log.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/automaker/internal/orchestrator"
	"github.com/ShayCichocki/automaker/pkg/models"
)

// Board is the slice of the engine the TUI depends on.
type Board interface {
	Features() ([]*models.Feature, error)
	RunFeature(id string) error
	StopFeature(id string) error
	ApprovePlan(id string) error
	Status() orchestrator.AutoModeStatus
}

// boardColumns fixes the column order on screen.
var boardColumns = []models.Status{
	models.StatusBacklog,
	models.StatusInProgress,
	models.StatusWaitingApproval,
	models.StatusVerified,
}

var columnTitles = map[models.Status]string{
	models.StatusBacklog:         "Backlog",
	models.StatusInProgress:      "In Progress",
	models.StatusWaitingApproval: "Waiting Approval",
	models.StatusVerified:        "Verified",
}

// EngineEventMsg wraps one orchestrator event for the board.
type EngineEventMsg struct {
	Event orchestrator.Event
}

// RefreshMsg asks the board to reload the feature list.
type RefreshMsg struct{}

// logEntry is one line of the event log.
type logEntry struct {
	time time.Time
	text string
	err  bool
}

const (
	maxLogEntries = 200
	logPaneHeight = 6
)

// App is the bubbletea model for the feature board.
type App struct {
	board Board

	features []*models.Feature
	byStatus map[models.Status][]*models.Feature
	running  map[string]bool

	column   int
	row      int
	logs     []logEntry
	logView  viewport.Model
	width    int
	height   int
	quitting bool
	errText  string
}

// New creates a board App backed by the given engine.
func New(board Board) *App {
	return &App{
		board:    board,
		byStatus: make(map[models.Status][]*models.Feature),
		running:  make(map[string]bool),
		logView:  viewport.New(80, logPaneHeight),
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return a.reload
}

// reload fetches the feature list.
func (a *App) reload() tea.Msg {
	return RefreshMsg{}
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.logView.Width = msg.Width

	case RefreshMsg:
		a.refreshFeatures()

	case EngineEventMsg:
		a.handleEvent(msg.Event)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		a.quitting = true
		return a, tea.Quit
	case "left", "h":
		if a.column > 0 {
			a.column--
			a.clampRow()
		}
	case "right", "l":
		if a.column < len(boardColumns)-1 {
			a.column++
			a.clampRow()
		}
	case "up", "k":
		if a.row > 0 {
			a.row--
		}
	case "down", "j":
		if a.row < len(a.currentColumn())-1 {
			a.row++
		}
	case "r":
		if f := a.selected(); f != nil {
			if err := a.board.RunFeature(f.ID); err != nil {
				a.errText = err.Error()
			}
		}
	case "s":
		if f := a.selected(); f != nil {
			if err := a.board.StopFeature(f.ID); err != nil {
				a.errText = err.Error()
			}
		}
	case "a":
		if f := a.selected(); f != nil {
			if err := a.board.ApprovePlan(f.ID); err != nil {
				a.errText = err.Error()
			}
		}
	}
	return a, nil
}

func (a *App) refreshFeatures() {
	features, err := a.board.Features()
	if err != nil {
		a.errText = err.Error()
		return
	}
	a.features = features
	a.byStatus = make(map[models.Status][]*models.Feature)
	for _, f := range features {
		a.byStatus[f.Status] = append(a.byStatus[f.Status], f)
	}

	status := a.board.Status()
	a.running = make(map[string]bool, len(status.Running))
	for _, id := range status.Running {
		a.running[id] = true
	}
	a.clampRow()
}

func (a *App) handleEvent(ev orchestrator.Event) {
	switch ev.Type {
	case orchestrator.EventFeatureStarted:
		a.log(ev.Time, fmt.Sprintf("started %s", models.ShortID(ev.FeatureID)), false)
	case orchestrator.EventFeatureCompleted:
		a.log(ev.Time, fmt.Sprintf("completed %s", models.ShortID(ev.FeatureID)), false)
	case orchestrator.EventFeatureErrored:
		a.log(ev.Time, fmt.Sprintf("failed %s: %s", models.ShortID(ev.FeatureID), ev.Err), true)
	case orchestrator.EventFeatureAborted:
		a.log(ev.Time, fmt.Sprintf("stopped %s", models.ShortID(ev.FeatureID)), false)
	case orchestrator.EventPlanApprovalRequired:
		a.log(ev.Time, fmt.Sprintf("plan ready for %s (press a to approve)", models.ShortID(ev.FeatureID)), false)
	case orchestrator.EventToolUse:
		a.log(ev.Time, fmt.Sprintf("%s > %s", models.ShortID(ev.FeatureID), ev.Tool), false)
	case orchestrator.EventError:
		a.log(ev.Time, ev.Err, true)
	case orchestrator.EventBoardRefresh:
		// fall through to a full reload below
	}

	switch ev.Type {
	case orchestrator.EventFeatureStarted, orchestrator.EventFeatureCompleted,
		orchestrator.EventFeatureErrored, orchestrator.EventFeatureAborted,
		orchestrator.EventPlanApprovalRequired, orchestrator.EventBoardRefresh:
		a.refreshFeatures()
	}
}

func (a *App) log(at time.Time, text string, isErr bool) {
	if at.IsZero() {
		at = time.Now()
	}
	a.logs = append(a.logs, logEntry{time: at, text: text, err: isErr})
	if len(a.logs) > maxLogEntries {
		a.logs = a.logs[len(a.logs)-maxLogEntries:]
	}

	var b strings.Builder
	for i, entry := range a.logs {
		if i > 0 {
			b.WriteString("\n")
		}
		line := fmt.Sprintf("%s %s", entry.time.Format("15:04:05"), entry.text)
		if entry.err {
			b.WriteString(errorMarkStyle.Render(line))
		} else {
			b.WriteString(logStyle.Render(line))
		}
	}
	a.logView.SetContent(b.String())
	a.logView.GotoBottom()
}

func (a *App) currentColumn() []*models.Feature {
	return a.byStatus[boardColumns[a.column]]
}

func (a *App) clampRow() {
	if n := len(a.currentColumn()); a.row >= n {
		a.row = n - 1
	}
	if a.row < 0 {
		a.row = 0
	}
}

func (a *App) selected() *models.Feature {
	col := a.currentColumn()
	if a.row < 0 || a.row >= len(col) {
		return nil
	}
	return col[a.row]
}

// View implements tea.Model.
func (a *App) View() string {
	if a.quitting {
		return ""
	}

	status := a.board.Status()
	header := titleStyle.Render("automaker")
	if status.AutoModeEnabled {
		header += footerStyle.Render(fmt.Sprintf("  auto-mode on, %d/%d running", len(status.Running), status.MaxConcurrency))
	}

	columns := make([]string, 0, len(boardColumns))
	colWidth := a.columnWidth()
	for i, st := range boardColumns {
		columns = append(columns, a.renderColumn(i, st, colWidth))
	}
	board := lipgloss.JoinHorizontal(lipgloss.Top, columns...)

	var parts []string
	parts = append(parts, header, board, a.renderLogs())
	if a.errText != "" {
		parts = append(parts, errorMarkStyle.Render(a.errText))
	}
	parts = append(parts, footerStyle.Render("←/→ columns · ↑/↓ cards · r run · s stop · a approve plan · q quit"))
	return strings.Join(parts, "\n")
}

func (a *App) columnWidth() int {
	if a.width == 0 {
		return 28
	}
	w := a.width/len(boardColumns) - 4
	if w < 16 {
		w = 16
	}
	return w
}

func (a *App) renderColumn(index int, status models.Status, width int) string {
	title := columnTitleStyle.Width(width).Render(fmt.Sprintf("%s (%d)", columnTitles[status], len(a.byStatus[status])))

	var cards []string
	for row, f := range a.byStatus[status] {
		cards = append(cards, a.renderCard(f, index == a.column && row == a.row, width))
	}
	if len(cards) == 0 {
		cards = append(cards, footerStyle.Render("—"))
	}

	body := strings.Join(cards, "\n")
	return columnStyle.Width(width + 2).Render(title + "\n" + body)
}

func (a *App) renderCard(f *models.Feature, selected bool, width int) string {
	mark := "  "
	switch {
	case a.running[f.ID]:
		mark = runningMarkStyle.Render("▶ ")
	case f.Error != "":
		mark = errorMarkStyle.Render("! ")
	}

	desc := f.Description
	if limit := width - 4; limit > 0 && len(desc) > limit {
		desc = desc[:limit-1] + "…"
	}

	line := mark + desc
	if selected {
		return selectedCardStyle.Width(width).Render(line)
	}
	return cardStyle.Render(line)
}

// renderLogs shows the tail of the event log in a scrollable pane.
func (a *App) renderLogs() string {
	if len(a.logs) == 0 {
		return ""
	}
	return a.logView.View()
}

// NewProgram creates a bubbletea program for the board. Callers feed it
// EngineEventMsg and RefreshMsg via Send.
func NewProgram(board Board) (*tea.Program, *App) {
	app := New(board)
	p := tea.NewProgram(app, tea.WithAltScreen())
	return p, app
}
