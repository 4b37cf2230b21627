package tui

import tea "github.com/charmbracelet/bubbletea"

// handleKeyPress stops the run on quit keys. A second press is ignored while
// in-flight calls finish.
func (m Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc", "ctrl+c":
		if m.stopping || m.report != nil {
			return m, nil
		}
		m.stopping = true
		return m, stopRun(m.runner)
	}
	return m, nil
}
