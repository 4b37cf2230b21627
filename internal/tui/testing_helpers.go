package tui

import (
	"sync"
	"time"

	"github.com/studiowebux/difyload/internal/stresstest"
)

// fakeRunner is a Runner whose statistics and lifecycle are set by the test
type fakeRunner struct {
	mu       sync.Mutex
	stats    *stresstest.Stats
	report   *stresstest.Report
	done     chan struct{}
	once     sync.Once
	stops    int
	getStats int
}

func newFakeRunner() *fakeRunner {
	stats := stresstest.NewStats()
	stats.TargetUsers = 10
	stats.ActiveUsers = 4
	stats.Duration = time.Minute
	stats.Elapsed = 15 * time.Second
	stats.AddResult(100, false, false)
	stats.AddResult(300, false, true)

	return &fakeRunner{
		stats:  stats,
		report: &stresstest.Report{Status: stresstest.StatusCompleted},
		done:   make(chan struct{}),
	}
}

func (f *fakeRunner) GetStats() *stresstest.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getStats++
	return f.stats.Clone()
}

func (f *fakeRunner) Done() <-chan struct{} {
	return f.done
}

func (f *fakeRunner) Wait() *stresstest.Report {
	<-f.done
	return f.report
}

func (f *fakeRunner) Stop() *stresstest.Report {
	f.mu.Lock()
	f.stops++
	f.report.Status = stresstest.StatusCancelled
	f.mu.Unlock()
	f.finish()
	return f.report
}

func (f *fakeRunner) finish() {
	f.once.Do(func() { close(f.done) })
}
