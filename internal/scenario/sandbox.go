package scenario

import (
	"context"
	"fmt"
	"net/http"

	"github.com/studiowebux/difyload/internal/chain"
	"github.com/studiowebux/difyload/internal/executor"
)

// DefaultSandboxPath is the code execution endpoint of the sandbox service
const DefaultSandboxPath = "/sandbox/run"

// CodeCase is a snippet sent to the sandbox
type CodeCase struct {
	Name          string
	Code          string
	EnableNetwork bool
}

var (
	simpleCode = CodeCase{
		Name: "simple_execution",
		Code: `def main() -> dict:
    return {"result": "Hello World"}
print(main())`,
	}

	cpuBoundCode = CodeCase{
		Name: "cpu_intensive",
		Code: `def main() -> dict:
    result = 0
    for i in range(1000):
        result += i
    return {"result": str(result)}
print(main())`,
	}

	memoryBoundCode = CodeCase{
		Name: "memory_intensive",
		Code: `def main() -> dict:
    large_list = list(range(1000))
    return {"result": str(len(large_list))}
print(main())`,
	}

	networkCode = CodeCase{
		Name: "network_operation",
		Code: `import json
def main() -> dict:
    data = {"test": "data"}
    return json.dumps(data)
print(main())`,
		EnableNetwork: true,
	}
)

// Sandbox exercises the code execution service. Calls are independent.
type Sandbox struct {
	base
	path string
}

// NewSandbox creates the sandbox domain for one virtual user
func NewSandbox(deps Deps) *Sandbox {
	deps = deps.withDefaults()
	return &Sandbox{
		base: newBase("sandbox", deps),
		path: deps.SandboxPath,
	}
}

// Tasks returns the sandbox operation weights
func (s *Sandbox) Tasks() []Task {
	return []Task{
		{Name: "run_simple", Weight: 3, Run: s.RunSimple},
		{Name: "run_cpu_bound", Weight: 2, Run: s.RunCPUBound},
		{Name: "run_memory_bound", Weight: 2, Run: s.RunMemoryBound},
		{Name: "run_network_enabled", Weight: 1, Run: s.RunNetworkEnabled},
	}
}

// PerformAll runs every snippet once
func (s *Sandbox) PerformAll(ctx context.Context) error {
	return s.protect(ctx, func(ctx context.Context) error {
		return runSteps(ctx, s.RunSimple, s.RunCPUBound, s.RunMemoryBound, s.RunNetworkEnabled)
	})
}

// RunSimple executes a trivial snippet
func (s *Sandbox) RunSimple(ctx context.Context) error {
	return s.Execute(ctx, simpleCode)
}

// RunCPUBound executes a loop
func (s *Sandbox) RunCPUBound(ctx context.Context) error {
	return s.Execute(ctx, cpuBoundCode)
}

// RunMemoryBound executes a snippet that allocates a list
func (s *Sandbox) RunMemoryBound(ctx context.Context) error {
	return s.Execute(ctx, memoryBoundCode)
}

// RunNetworkEnabled executes a snippet with network access enabled
func (s *Sandbox) RunNetworkEnabled(ctx context.Context) error {
	return s.Execute(ctx, networkCode)
}

// Execute sends a snippet to the sandbox. The call succeeds only when the
// sandbox reports code 0 and no execution error.
func (s *Sandbox) Execute(ctx context.Context, tc CodeCase) error {
	call, err := s.client.Send(ctx, executor.Request{
		Name:   "/sandbox/run_" + tc.Name,
		Method: http.MethodPost,
		Path:   s.path,
		JSON: map[string]any{
			"language":       "python3",
			"code":           tc.Code,
			"preload":        "",
			"enable_network": tc.EnableNetwork,
		},
	})
	if err != nil {
		return err
	}
	defer call.Close()

	op := "sandbox_" + tc.Name
	if call.Err() != nil {
		call.Handle(op)
		return nil
	}
	if call.StatusCode != http.StatusOK {
		call.Failure(fmt.Sprintf("Request failed: %d", call.StatusCode))
		return nil
	}

	data, ok := call.Handle(op)
	if !ok {
		return nil
	}
	if code := chain.Lookup(data, "code"); code != "0" {
		call.Failure("Execution failed: " + chain.Lookup(data, "message"))
		return nil
	}
	if execErr := chain.Lookup(data, "data.error"); execErr != "" {
		call.Failure("Execution error: " + execErr)
		return nil
	}
	return nil
}
