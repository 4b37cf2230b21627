package report

import "github.com/charmbracelet/lipgloss"

// Adaptive color definitions for light/dark terminal support
var (
	colorGreen  = lipgloss.AdaptiveColor{Light: "#006400", Dark: "#00ff00"}
	colorRed    = lipgloss.AdaptiveColor{Light: "#8b0000", Dark: "#ff0000"}
	colorYellow = lipgloss.AdaptiveColor{Light: "#b8860b", Dark: "#ffff00"}
	colorGray   = lipgloss.AdaptiveColor{Light: "#555555", Dark: "#888888"}
	colorCyan   = lipgloss.AdaptiveColor{Light: "#008b8b", Dark: "#00ffff"}
)

// Style definitions, shared with the live dashboard
var (
	StyleTitle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(colorGreen)

	StyleError = lipgloss.NewStyle().
			Foreground(colorRed)

	StyleWarning = lipgloss.NewStyle().
			Foreground(colorYellow)

	StyleSubtle = lipgloss.NewStyle().
			Foreground(colorGray)

	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1)

	styleCell = lipgloss.NewStyle().
			Padding(0, 1)

	styleBorder = lipgloss.NewStyle().
			Foreground(colorGray)
)

// StatusStyle picks the color for a run status
func StatusStyle(status string) lipgloss.Style {
	switch status {
	case "completed":
		return StyleSuccess
	case "failed", "stale":
		return StyleError
	default:
		return StyleWarning
	}
}
