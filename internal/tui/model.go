package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/studiowebux/difyload/internal/stresstest"
)

// PollInterval is how often the dashboard refreshes its statistics
const PollInterval = 500 * time.Millisecond

// Runner is the running load test the dashboard observes
type Runner interface {
	GetStats() *stresstest.Stats
	Done() <-chan struct{}
	Wait() *stresstest.Report
	Stop() *stresstest.Report
}

// Model is the dashboard state
type Model struct {
	runner   Runner
	title    string
	stats    *stresstest.Stats
	progress progress.Model
	width    int
	stopping bool
	report   *stresstest.Report
}

type pollMsg time.Time

type finishedMsg struct {
	report *stresstest.Report
}

// New creates a dashboard for a started runner
func New(runner Runner, title string) Model {
	return Model{
		runner:   runner,
		title:    title,
		stats:    stresstest.NewStats(),
		progress: progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		width:    80,
	}
}

// Init starts polling and waits for the run to end on its own
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.poll(), waitForFinish(m.runner))
}

// Update processes messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.progress.Width = max(min(msg.Width-24, 60), 10)
		return m, nil

	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case pollMsg:
		if m.report != nil {
			return m, nil
		}
		m.stats = m.runner.GetStats()
		return m, m.poll()

	case finishedMsg:
		if m.report == nil {
			m.report = msg.report
			m.stats = m.runner.GetStats()
		}
		return m, tea.Quit
	}

	return m, nil
}

// Report returns the final report, nil while the run is in progress
func (m Model) Report() *stresstest.Report {
	return m.report
}

// poll schedules the next statistics refresh
func (m Model) poll() tea.Cmd {
	return tea.Tick(PollInterval, func(t time.Time) tea.Msg {
		return pollMsg(t)
	})
}

// waitForFinish resolves once the run stops, by duration or by Stop
func waitForFinish(runner Runner) tea.Cmd {
	return func() tea.Msg {
		<-runner.Done()
		return finishedMsg{report: runner.Wait()}
	}
}

func stopRun(runner Runner) tea.Cmd {
	return func() tea.Msg {
		return finishedMsg{report: runner.Stop()}
	}
}

// Run shows the dashboard until the run ends and returns its report
func Run(runner Runner, title string, opts ...tea.ProgramOption) (*stresstest.Report, error) {
	final, err := tea.NewProgram(New(runner, title), opts...).Run()
	if err != nil {
		return nil, err
	}
	if m, ok := final.(Model); ok && m.report != nil {
		return m.report, nil
	}
	// the program was killed before the run finished
	return runner.Stop(), nil
}
