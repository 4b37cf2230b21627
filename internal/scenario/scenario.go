package scenario

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"

	"go.uber.org/zap"

	"github.com/studiowebux/difyload/internal/chain"
	"github.com/studiowebux/difyload/internal/executor"
	"github.com/studiowebux/difyload/internal/poller"
	"github.com/studiowebux/difyload/internal/testfiles"
	"github.com/studiowebux/difyload/internal/types"
)

// Task is one weighted operation of a domain
type Task struct {
	Name   string
	Weight int
	Run    func(ctx context.Context) error
}

// Domain is the behavior of one kind of virtual user
type Domain interface {
	Name() string
	// Tasks returns the weighted operation table
	Tasks() []Task
	// PerformAll runs the composite sequence. Failures are recorded, never returned.
	PerformAll(ctx context.Context) error
	// Perform runs a single task with the same failure handling as PerformAll
	Perform(ctx context.Context, task Task) error
}

// Environment exposes the run state that guards depend on
type Environment interface {
	// UserCount returns the number of virtual users spawned so far
	UserCount() int
}

// StaticEnvironment is an Environment with a fixed user count
type StaticEnvironment int

// UserCount returns the fixed count
func (e StaticEnvironment) UserCount() int {
	return int(e)
}

// Mode selects how a virtual user spends a turn
type Mode string

const (
	ModeSequence Mode = "sequence" // PerformAll every turn
	ModeWeighted Mode = "weighted" // one weighted pick from Tasks every turn
)

// ParseMode validates a mode name; empty means sequence
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeSequence:
		return ModeSequence, nil
	case ModeWeighted:
		return ModeWeighted, nil
	default:
		return "", fmt.Errorf("unknown mode %q (expected %s or %s)", s, ModeSequence, ModeWeighted)
	}
}

// Pick chooses a task with probability proportional to its weight. It
// reports false when no task has a positive weight.
func Pick(tasks []Task, rng *rand.Rand) (Task, bool) {
	total := 0
	for _, t := range tasks {
		if t.Weight > 0 {
			total += t.Weight
		}
	}
	if total == 0 {
		return Task{}, false
	}

	n := rng.IntN(total)
	for _, t := range tasks {
		if t.Weight <= 0 {
			continue
		}
		if n < t.Weight {
			return t, true
		}
		n -= t.Weight
	}
	return Task{}, false
}

// Deps are the collaborators of a domain
type Deps struct {
	Client      *executor.Client
	Env         Environment
	Logger      *zap.Logger
	Files       testfiles.Set
	Budget      poller.Budget
	SandboxPath string
}

func (d Deps) withDefaults() Deps {
	if d.Env == nil {
		d.Env = StaticEnvironment(0)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Files.Dir == "" {
		d.Files = testfiles.NewSet("")
	}
	if d.Budget == (poller.Budget{}) {
		d.Budget = poller.DefaultBudget()
	}
	if d.SandboxPath == "" {
		d.SandboxPath = DefaultSandboxPath
	}
	return d
}

// base carries what every domain shares
type base struct {
	name   string
	client *executor.Client
	env    Environment
	logger *zap.Logger
	files  testfiles.Set
	budget poller.Budget
}

func newBase(name string, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		name:   name,
		client: deps.Client,
		env:    deps.Env,
		logger: deps.Logger.With(zap.String("domain", name)),
		files:  deps.Files,
		budget: deps.Budget,
	}
}

// Name returns the domain keyword
func (b *base) Name() string {
	return b.name
}

// Perform runs one task, recovering and recording its failure
func (b *base) Perform(ctx context.Context, task Task) error {
	return b.protect(ctx, task.Run)
}

func (b *base) user() string {
	return b.client.Session().UserID()
}

// protect runs fn and turns an error or panic into an ERROR sample named
// "<domain>_tasks". The virtual user always continues. A stop request is
// not a failure.
func (b *base) protect(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err == nil {
			return
		}
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			err = nil
			return
		}
		b.logger.Warn("scenario failed", zap.Error(err))
		b.client.RecordError(b.name+"_tasks", err)
		err = nil
	}()
	return fn(ctx)
}

// send performs a request and classifies the response for op
func (b *base) send(ctx context.Context, req executor.Request, op string) (any, error) {
	call, err := b.client.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	defer call.Close()

	data, _ := call.Handle(op)
	return data, nil
}

// sendOK performs a request and decodes the body only on 200. Other
// statuses keep the default outcome.
func (b *base) sendOK(ctx context.Context, req executor.Request, op string) (any, bool, error) {
	call, err := b.client.Send(ctx, req)
	if err != nil {
		return nil, false, err
	}
	defer call.Close()

	if call.StatusCode != http.StatusOK {
		return nil, false, nil
	}
	data, ok := call.Handle(op)
	return data, ok, nil
}

// upload sends a fixture to /files/upload and returns the server id. A
// missing fixture is a no-op.
func (b *base) upload(ctx context.Context, category types.FileCategory) (string, error) {
	file, ok := b.files.Lookup(category)
	if !ok {
		return "", nil
	}

	op := "file_upload_" + string(category)
	call, err := b.client.Send(ctx, executor.Request{
		Name:   "/files/upload-" + string(category),
		Method: http.MethodPost,
		Path:   "/files/upload",
		Form: &executor.Form{
			Fields:      map[string]string{"user": b.user(), "type": string(category)},
			FileField:   "file",
			FileName:    file.Name,
			FilePath:    file.Path,
			ContentType: file.MIMEType,
		},
	})
	if err != nil {
		return "", err
	}
	defer call.Close()

	if call.StatusCode != http.StatusCreated {
		if call.Err() != nil {
			call.Handle(op)
		} else {
			call.Failure(fmt.Sprintf("Upload failed: %d", call.StatusCode))
		}
		return "", nil
	}

	data, ok := call.Handle(op)
	if !ok {
		return "", nil
	}
	return chain.Lookup(data, "id"), nil
}

// poll waits for an asynchronous job using the domain's budget. The status
// request is recorded under name and classified as op.
func (b *base) poll(ctx context.Context, req executor.Request, op, statusExpr string) poller.Result {
	return poller.Poll(ctx, b.budget, func(ctx context.Context) (string, bool) {
		data, err := b.send(ctx, req, op)
		if err != nil || data == nil {
			return "", false
		}
		return chain.Lookup(data, statusExpr), true
	})
}

// nullable turns an unset id into JSON null
func nullable(id string) any {
	if id == "" {
		return nil
	}
	return id
}
