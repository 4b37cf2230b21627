package scenario

import (
	"context"
	"net/http"
	"net/url"

	"github.com/studiowebux/difyload/internal/chain"
	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/poller"
	"github.com/studiowebux/difyload/internal/stream"
	"github.com/studiowebux/difyload/internal/types"
)

// Workflow exercises the workflow run, log and stop endpoints of a workflow app
type Workflow struct {
	base
	run types.WorkflowRunHandle
}

// NewWorkflow creates the workflow domain for one virtual user
func NewWorkflow(deps Deps) *Workflow {
	return &Workflow{base: newBase("workflow", deps)}
}

// Run returns the current run handle
func (w *Workflow) Run() types.WorkflowRunHandle {
	return w.run
}

// Tasks returns the workflow operation weights
func (w *Workflow) Tasks() []Task {
	return []Task{
		{Name: "run_blocking", Weight: 3, Run: w.RunBlocking},
		{Name: "run_streaming", Weight: 2, Run: w.RunStreaming},
		{Name: "status", Weight: 2, Run: w.Status},
		{Name: "logs", Weight: 2, Run: w.Logs},
		{Name: "stop", Weight: 1, Run: w.Stop},
	}
}

// PerformAll runs the workflow once and, when a run id came back, queries it
func (w *Workflow) PerformAll(ctx context.Context) error {
	return w.protect(ctx, w.performAll)
}

func (w *Workflow) performAll(ctx context.Context) error {
	if err := w.RunBlocking(ctx); err != nil {
		return err
	}
	if w.run.WorkflowRunID == "" {
		return nil
	}

	steps := []func(context.Context) error{w.Status}
	if w.env.UserCount()%2 == 0 {
		steps = append(steps, w.RunStreaming)
	}
	steps = append(steps, w.Logs, w.RunWithFile)
	if w.env.UserCount() > 10 {
		steps = append(steps, w.Stop)
	}
	return runSteps(ctx, steps...)
}

func (w *Workflow) runPayload(mode string, inputs map[string]any) map[string]any {
	return map[string]any{
		"inputs":        inputs,
		"response_mode": mode,
		"user":          w.user(),
	}
}

// RunBlocking runs the workflow and waits for the result. When the run is
// still in progress the run status is monitored until it finishes.
func (w *Workflow) RunBlocking(ctx context.Context) error {
	data, ok, err := w.sendOK(ctx, executor.Request{
		Name:   "/workflows/run/simple",
		Method: http.MethodPost,
		Path:   "/workflows/run",
		JSON:   w.runPayload("blocking", map[string]any{"query": "Simple workflow test"}),
	}, "run_simple_workflow")
	if err != nil || !ok {
		return err
	}

	w.run.WorkflowRunID = chain.Lookup(data, "workflow_run_id")
	w.run.TaskID = chain.Lookup(data, "task_id")

	if status := chain.Lookup(data, "data.status"); status != "" && !poller.IsTerminal(status) {
		w.MonitorCompletion(ctx)
	}
	return nil
}

// RunStreaming runs the workflow in streaming mode and captures the run and
// task ids from the event stream
func (w *Workflow) RunStreaming(ctx context.Context) error {
	call, err := w.client.Send(ctx, executor.Request{
		Name:   "/workflows/run/streaming",
		Method: http.MethodPost,
		Path:   "/workflows/run",
		JSON:   w.runPayload("streaming", map[string]any{"query": "Streaming workflow test"}),
		Stream: true,
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if call.StatusCode != http.StatusOK {
		return nil
	}

	// a stream without ids leaves no run to follow
	captured := stream.Parse(call.Stream(), stream.WorkflowEvents)
	w.run.WorkflowRunID = captured.First
	w.run.TaskID = captured.Second
	return nil
}

// RunWithFile uploads the document fixture and runs the workflow with it
func (w *Workflow) RunWithFile(ctx context.Context) error {
	fileID, err := w.upload(ctx, types.FileDocument)
	if err != nil || fileID == "" {
		return err
	}

	_, err = w.send(ctx, executor.Request{
		Name:   "/workflows/run/with_file",
		Method: http.MethodPost,
		Path:   "/workflows/run",
		JSON: w.runPayload("blocking", map[string]any{
			"file": map[string]any{
				"type":            "document",
				"transfer_method": "local_file",
				"upload_file_id":  fileID,
			},
		}),
	}, "run_workflow_with_file")
	return err
}

// Status fetches the last run
func (w *Workflow) Status(ctx context.Context) error {
	if w.run.WorkflowRunID == "" {
		return nil
	}
	_, err := w.send(ctx, executor.Request{
		Name:   "/workflows/status",
		Method: http.MethodGet,
		Path:   "/workflows/run/" + url.PathEscape(w.run.WorkflowRunID),
	}, "get_workflow_status")
	return err
}

// Logs lists recent successful runs
func (w *Workflow) Logs(ctx context.Context) error {
	_, err := w.send(ctx, executor.Request{
		Name:   "/workflows/logs",
		Method: http.MethodGet,
		Path:   "/workflows/logs",
		Query: url.Values{
			"page":    {"1"},
			"limit":   {"20"},
			"keyword": {""},
			"status":  {"succeeded"},
		},
	}, "get_workflow_logs")
	return err
}

// Stop stops the running task and forgets the task id on success
func (w *Workflow) Stop(ctx context.Context) error {
	if w.run.TaskID == "" {
		return nil
	}
	call, err := w.client.Send(ctx, executor.Request{
		Name:   "/workflows/stop",
		Method: http.MethodPost,
		Path:   "/workflows/tasks/" + url.PathEscape(w.run.TaskID) + "/stop",
		JSON:   map[string]any{"user": w.user()},
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if call.StatusCode == http.StatusOK {
		w.run.ClearTask()
	}
	return nil
}

// MonitorCompletion polls the last run until it reaches a terminal status
func (w *Workflow) MonitorCompletion(ctx context.Context) poller.Result {
	if w.run.WorkflowRunID == "" {
		return poller.TimedOut
	}
	return w.poll(ctx, executor.Request{
		Name:   "/workflows/monitor",
		Method: http.MethodGet,
		Path:   "/workflows/run/" + url.PathEscape(w.run.WorkflowRunID),
	}, "monitor_workflow", "status")
}
