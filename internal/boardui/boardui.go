// Package boardui renders a phase board as an interactive kanban list:
// a bubbles/list of tasks on the left, a glamour-rendered detail pane for
// the selected task's body on the right. It's the terminal counterpart to
// `batty board <phase> --print-dir`, for operators who want to browse a
// board without leaving the terminal.
package boardui

import (
	"fmt"
	"os"
	"strings"

	glamour "charm.land/glamour/v2"
	"charm.land/glamour/v2/styles"
	"github.com/battysh/batty/internal/board"
	"github.com/battysh/batty/internal/dag"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	listPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	detailPaneStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("250")).Bold(true)
)

// taskItem adapts a board.Task to list.Item and bubbles' DefaultDelegate
// rendering (Title/Description/FilterValue).
type taskItem struct {
	task *board.Task
}

func (i taskItem) Title() string {
	return fmt.Sprintf("#%s %s", i.task.ID, i.task.Title)
}

func (i taskItem) Description() string {
	return fmt.Sprintf("%s · %s", statusLabel(i.task.Status), strings.Join(i.task.DependsOn, ","))
}

func (i taskItem) FilterValue() string { return i.task.ID + " " + i.task.Title }

func statusLabel(s dag.Status) string {
	switch s {
	case dag.StatusBacklog:
		return "backlog"
	case dag.StatusTodo:
		return "todo"
	case dag.StatusInProgress:
		return "in_progress"
	case dag.StatusCompleted:
		return "done"
	default:
		return string(s)
	}
}

// Model is the bubbletea Model for `batty board`.
type Model struct {
	phase    string
	list     list.Model
	renderer *glamour.TermRenderer
	width    int
	height   int
}

// New builds a board browser over tasks for the named phase.
func New(phase string, tasks []*board.Task) Model {
	items := make([]list.Item, 0, len(tasks))
	for _, t := range tasks {
		items = append(items, taskItem{task: t})
	}

	delegate := list.NewDefaultDelegate()
	l := list.New(items, delegate, 0, 0)
	l.Title = fmt.Sprintf("%s board", phase)
	l.SetShowHelp(true)

	wrapWidth := 80
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		wrapWidth = w / 2
	}
	autoStyle := styles.LightStyle
	if lipgloss.HasDarkBackground() {
		autoStyle = styles.DarkStyle
	}
	renderer, _ := glamour.NewTermRenderer(
		glamour.WithStandardStyle(autoStyle),
		glamour.WithWordWrap(wrapWidth),
	)

	return Model{phase: phase, list: l, renderer: renderer}
}

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.list.SetSize(m.width/2, m.height-2)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) View() string {
	listView := listPaneStyle.Render(m.list.View())

	detail := "select a task"
	if item, ok := m.list.SelectedItem().(taskItem); ok {
		body := item.task.Body
		if m.renderer != nil {
			if rendered, err := m.renderer.Render(body); err == nil {
				body = rendered
			}
		}
		detail = statusStyle.Render(item.Title()) + "\n\n" + body
	}
	detailView := detailPaneStyle.Render(detail)

	return lipgloss.JoinHorizontal(lipgloss.Top, listView, detailView)
}

// Run launches the interactive board browser and blocks until the
// operator quits it.
func Run(phase string, tasks []*board.Task) error {
	_, err := tea.NewProgram(New(phase, tasks), tea.WithAltScreen()).Run()
	return err
}
