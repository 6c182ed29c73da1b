// Package watch implements the live monitoring dashboard TUI. It polls
// the daemon's API for status and recent results.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes all styling for the watch TUI.
type Theme struct {
	StatusOK    lipgloss.Style
	StatusError lipgloss.Style
	StatusAlert lipgloss.Style

	Border    lipgloss.Style
	Title     lipgloss.Style
	Header    lipgloss.Style
	Dim       lipgloss.Style
	Highlight lipgloss.Style
}

func NewDefaultTheme() Theme {
	green := lipgloss.Color("#2E7D32")

	return Theme{
		StatusOK:    lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusError: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		StatusAlert: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF8800")).Bold(true),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(green),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
	}
}
