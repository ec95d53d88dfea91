// Package ui holds the terminal views: the chat page over a session
// controller and the annotation page over the labeling tool.
package ui

import "github.com/charmbracelet/lipgloss"

var (
	colorPrimary = lipgloss.Color("#2196F3")
	colorAccent  = lipgloss.Color("#8BC34A")
	colorMuted   = lipgloss.Color("#8a94a6")
	colorDanger  = lipgloss.Color("#e53935")
	colorWarning = lipgloss.Color("#FFC107")
)

// Styles groups the lipgloss styles shared by both pages.
type Styles struct {
	Header    lipgloss.Style
	Me        lipgloss.Style
	Bot       lipgloss.Style
	Typing    lipgloss.Style
	Failed    lipgloss.Style
	Meta      lipgloss.Style
	Status    lipgloss.Style
	Help      lipgloss.Style
	Token     lipgloss.Style
	Pending   lipgloss.Style
	Candidate lipgloss.Style
	Selected  lipgloss.Style
}

func DefaultStyles() Styles {
	return Styles{
		Header:    lipgloss.NewStyle().Bold(true).Foreground(colorPrimary).MarginBottom(1),
		Me:        lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
		Bot:       lipgloss.NewStyle().Bold(true).Foreground(colorPrimary),
		Typing:    lipgloss.NewStyle().Italic(true).Foreground(colorMuted),
		Failed:    lipgloss.NewStyle().Foreground(colorDanger),
		Meta:      lipgloss.NewStyle().Faint(true).Foreground(colorMuted).PaddingLeft(2),
		Status:    lipgloss.NewStyle().Foreground(colorWarning),
		Help:      lipgloss.NewStyle().Faint(true),
		Token:     lipgloss.NewStyle().Padding(0, 1),
		Pending:   lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true).Foreground(colorAccent),
		Candidate: lipgloss.NewStyle().Padding(0, 1).Reverse(true).Foreground(colorPrimary),
		Selected:  lipgloss.NewStyle().Bold(true).Foreground(colorAccent),
	}
}
