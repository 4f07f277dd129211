// Package tui renders a teacher dashboard in the terminal.
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"rollcall/internal/dashboard"
)

// Dashboard is the part of the controller the terminal view drives.
type Dashboard interface {
	Snapshot() dashboard.Snapshot
	AddManual(ctx context.Context, name, number string) error
	Refresh(ctx context.Context) error
	Export(ctx context.Context, now time.Time) (dashboard.Export, error)
}

type tickMsg time.Time

type manualDoneMsg struct{ err error }

type exportDoneMsg struct {
	path string
	err  error
}

type refreshDoneMsg struct{ err error }

type focus int

const (
	focusNone focus = iota
	focusName
	focusNumber
)

// Model is the bubbletea model for the live view.
type Model struct {
	dash      Dashboard
	interval  time.Duration
	exportDir string
	now       func() time.Time

	snap   dashboard.Snapshot
	table  table.Model
	name   textinput.Model
	number textinput.Model
	focus  focus
	status string
	styles styles
}

// New creates the view. Exports are written to exportDir.
func New(dash Dashboard, interval time.Duration, exportDir string) Model {
	if interval <= 0 {
		interval = time.Second
	}
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "#", Width: 4},
			{Title: "Name", Width: 24},
			{Title: "Student No", Width: 12},
			{Title: "Check-in Time", Width: 20},
			{Title: "Source", Width: 8},
		}),
		table.WithHeight(12),
	)

	name := textinput.New()
	name.Placeholder = "Student name"
	name.CharLimit = 80
	name.Width = 30

	number := textinput.New()
	number.Placeholder = "Student number"
	number.CharLimit = 32
	number.Width = 16

	return Model{
		dash:      dash,
		interval:  interval,
		exportDir: exportDir,
		now:       time.Now,
		table:     t,
		name:      name,
		number:    number,
		styles:    defaultStyles(),
	}
}

func (m Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Init starts the refresh ticker.
func (m Model) Init() tea.Cmd {
	return tea.Batch(func() tea.Msg { return tickMsg(time.Now()) }, textinput.Blink)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.sync()
		return m, m.tick()

	case manualDoneMsg:
		if msg.err != nil {
			m.status = dashboard.DisplayMessage(msg.err)
			return m, nil
		}
		m.status = "Entry added"
		m.name.SetValue("")
		m.number.SetValue("")
		m.blur()
		m.sync()
		return m, nil

	case exportDoneMsg:
		if msg.err != nil {
			m.status = "Export failed: " + dashboard.DisplayMessage(msg.err)
		} else {
			m.status = "Saved " + msg.path
		}
		return m, nil

	case refreshDoneMsg:
		if msg.err != nil {
			m.status = "Refresh failed: " + dashboard.DisplayMessage(msg.err)
		}
		m.sync()
		return m, nil

	case tea.KeyMsg:
		if m.focus != focusNone {
			return m.updateForm(msg)
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "m":
			m.focus = focusName
			return m, m.name.Focus()
		case "r":
			return m, m.refresh()
		case "e":
			m.status = "Exporting..."
			return m, m.export()
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) updateForm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.blur()
		return m, nil
	case "tab", "shift+tab":
		if m.focus == focusName {
			m.focus = focusNumber
			m.name.Blur()
			return m, m.number.Focus()
		}
		m.focus = focusName
		m.number.Blur()
		return m, m.name.Focus()
	case "enter":
		name, number := m.name.Value(), m.number.Value()
		m.status = "Adding..."
		return m, func() tea.Msg {
			return manualDoneMsg{err: m.dash.AddManual(context.Background(), name, number)}
		}
	case "ctrl+c":
		return m, tea.Quit
	}

	var cmd tea.Cmd
	if m.focus == focusName {
		m.name, cmd = m.name.Update(msg)
	} else {
		m.number, cmd = m.number.Update(msg)
	}
	return m, cmd
}

func (m *Model) blur() {
	m.focus = focusNone
	m.name.Blur()
	m.number.Blur()
}

func (m *Model) sync() {
	m.snap = m.dash.Snapshot()
	rows := make([]table.Row, 0, len(m.snap.Roster))
	for i, r := range m.snap.Roster {
		rows = append(rows, table.Row{strconv.Itoa(i + 1), r.StudentName, r.StudentNumber, r.DisplayTime, r.Source})
	}
	m.table.SetRows(rows)
}

func (m Model) refresh() tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{err: m.dash.Refresh(context.Background())}
	}
}

func (m Model) export() tea.Cmd {
	dir, now := m.exportDir, m.now()
	return func() tea.Msg {
		out, err := m.dash.Export(context.Background(), now)
		if err != nil {
			return exportDoneMsg{err: err}
		}
		path, err := Save(dir, out)
		return exportDoneMsg{path: path, err: err}
	}
}

// Save writes an export into dir under its generated file name.
func Save(dir string, out dashboard.Export) (string, error) {
	if dir == "" {
		dir = "."
	}
	path := filepath.Join(dir, out.Filename)
	if err := os.WriteFile(path, out.Data, 0o644); err != nil {
		return "", fmt.Errorf("save export: %w", err)
	}
	return path, nil
}

// View renders the dashboard.
func (m Model) View() string {
	s := m.snap
	var b strings.Builder

	b.WriteString(m.styles.Header.Render(fmt.Sprintf("Rollcall  %s  ·  %s", s.Presenter, s.Course)))
	b.WriteString("\n\n")

	if s.Session == nil {
		switch {
		case s.Creating:
			b.WriteString(m.styles.Status.Render("Creating session..."))
		case !s.LoggedIn:
			b.WriteString(m.styles.Error.Render("Logged out"))
		default:
			b.WriteString(m.styles.Label.Render("No active session"))
		}
		b.WriteString("\n")
	} else {
		countdown := m.styles.Countdown.Render(s.Countdown)
		if s.Expired {
			countdown = m.styles.Expired.Render(s.Countdown + "  attendance closed")
		}
		b.WriteString(m.styles.Box.Render(strings.Join([]string{
			m.styles.Label.Render("Session   ") + s.Session.ID,
			m.styles.Label.Render("Closes at ") + s.Session.ExpiresAtDisplay,
			countdown,
		}, "\n")))
		b.WriteString("\n\n")

		title := fmt.Sprintf("Attendance (%d)", len(s.Roster))
		if s.Loading {
			title += "  refreshing..."
		}
		b.WriteString(m.styles.Label.Render(title))
		b.WriteString("\n")
		b.WriteString(m.table.View())
		b.WriteString("\n")
	}

	if s.Error != "" {
		b.WriteString(m.styles.Error.Render(s.Error))
		b.WriteString("\n")
	}

	if m.focus != focusNone {
		b.WriteString("\n")
		b.WriteString(m.name.View())
		b.WriteString("  ")
		b.WriteString(m.number.View())
		b.WriteString("\n")
		b.WriteString(m.styles.Help.Render("tab switch field · enter add · esc cancel"))
	} else {
		b.WriteString(m.styles.Help.Render("m add manually · r refresh · e export · q quit"))
	}
	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(m.styles.Status.Render(m.status))
	}
	b.WriteString("\n")
	return b.String()
}
