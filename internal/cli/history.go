package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/studiowebux/difyload/internal/report"
	"github.com/studiowebux/difyload/internal/scenario"
	"github.com/studiowebux/difyload/internal/stresstest"
	"github.com/studiowebux/difyload/internal/testfiles"
)

// HistoryOptions selects the run history and how to print it
type HistoryOptions struct {
	DBPath       string
	OutputFormat string
	Stdout       io.Writer
}

func (o HistoryOptions) out() io.Writer {
	stdout, _ := writers(RunOptions{Stdout: o.Stdout})
	return stdout
}

// ListRuns prints the most recent runs, optionally for one scenario
func ListRuns(opts HistoryOptions, scenarioName string, limit int) error {
	manager, err := openManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	runs, err := manager.ListRuns(scenarioName, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	output, err := formatOutput(runs, opts.OutputFormat, func() string {
		return report.RunList(runs)
	})
	if err != nil {
		return err
	}
	fmt.Fprint(opts.out(), output)
	return nil
}

// runDetails is the machine-readable form of a stored run
type runDetails struct {
	Run       *stresstest.Run              `json:"run" yaml:"run"`
	Stale     bool                         `json:"stale,omitempty" yaml:"stale,omitempty"`
	Endpoints []stresstest.EndpointSummary `json:"endpoints" yaml:"endpoints"`
	Samples   []*stresstest.Metric         `json:"samples,omitempty" yaml:"samples,omitempty"`
}

// ShowRun prints a stored run with its per-endpoint summary, and every
// stored sample when samples is set
func ShowRun(opts HistoryOptions, id int64, samples bool) error {
	manager, err := openManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	run, err := manager.GetRun(id)
	if err != nil {
		return err
	}
	endpoints, err := manager.GetEndpointSummary(id)
	if err != nil {
		return fmt.Errorf("failed to summarize run %d: %w", id, err)
	}

	details := runDetails{Run: run, Stale: run.IsStale(time.Now()), Endpoints: endpoints}
	if samples {
		details.Samples, err = manager.GetMetrics(id)
		if err != nil {
			return fmt.Errorf("failed to load samples of run %d: %w", id, err)
		}
	}

	output, err := formatOutput(details, opts.OutputFormat, func() string {
		text := report.RunDetails(run, endpoints)
		if samples {
			text += "\n" + report.StyleTitle.Render("Samples") + "\n" + report.SampleTable(details.Samples)
		}
		return text
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(opts.out(), output)
	return nil
}

// DeleteRun removes a run and its samples
func DeleteRun(opts HistoryOptions, id int64) error {
	manager, err := openManager(opts.DBPath)
	if err != nil {
		return err
	}
	defer manager.Close()

	if err := manager.DeleteRun(id); err != nil {
		return err
	}
	fmt.Fprintf(opts.out(), "Deleted run #%d\n", id)
	return nil
}

// Scenarios prints the task weights of every domain
func Scenarios(w io.Writer) {
	var tables []report.TaskWeights
	for _, def := range scenario.Definitions() {
		label := fmt.Sprintf("%s (%s host", def.Name, def.Surface)
		if def.KeyVar != "" {
			label += ", " + def.KeyVar
		}
		label += fmt.Sprintf(", wait %s-%s)", def.WaitMin, def.WaitMax)

		tasks := make(map[string]int)
		for _, task := range def.New(scenario.Deps{}).Tasks() {
			tasks[task.Name] = task.Weight
		}
		tables = append(tables, report.TaskWeights{Domain: label, Tasks: tasks})
	}
	fmt.Fprint(w, report.WeightTable(tables))
}

// GenerateFiles writes the upload fixtures into dir
func GenerateFiles(w io.Writer, dir string) error {
	paths, err := testfiles.Generate(dir)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintf(w, "Wrote %s\n", p)
	}
	return nil
}
