package tui

import "github.com/charmbracelet/lipgloss"

var (
	accent      = lipgloss.Color("#2563EB")
	muted       = lipgloss.Color("#7B8794")
	destructive = lipgloss.Color("#E53935")
	success     = lipgloss.Color("#8BC34A")
)

type styles struct {
	Header    lipgloss.Style
	Label     lipgloss.Style
	Countdown lipgloss.Style
	Expired   lipgloss.Style
	Error     lipgloss.Style
	Status    lipgloss.Style
	Help      lipgloss.Style
	Box       lipgloss.Style
}

func defaultStyles() styles {
	return styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFFFF")).Background(accent).Padding(0, 1),
		Label:     lipgloss.NewStyle().Foreground(muted),
		Countdown: lipgloss.NewStyle().Bold(true).Foreground(success),
		Expired:   lipgloss.NewStyle().Bold(true).Foreground(destructive),
		Error:     lipgloss.NewStyle().Foreground(destructive),
		Status:    lipgloss.NewStyle().Italic(true).Foreground(muted),
		Help:      lipgloss.NewStyle().Foreground(muted),
		Box:       lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(muted).Padding(0, 1),
	}
}
