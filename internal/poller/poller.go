// Package poller waits for an asynchronous job on the platform to reach a
// terminal state.
package poller

import (
	"context"
	"errors"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Result is the outcome of a poll
type Result int

const (
	TimedOut  Result = iota // budget exhausted before a terminal state
	Succeeded               // a success state was observed
	Failed                  // a terminal state other than success was observed
)

func (r Result) String() string {
	switch r {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "timed out"
	}
}

const (
	DefaultInterval    = 1 * time.Second
	DefaultMaxAttempts = 10
	DefaultTimeout     = 30 * time.Second
)

// Budget bounds a poll. Both limits apply; whichever is reached first ends it.
type Budget struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultBudget returns a budget of 10 attempts one second apart, capped at 30 seconds
func DefaultBudget() Budget {
	return Budget{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
	}
}

// StatusCheck queries the job status once. ok is false when the query itself
// failed (transport error, error status, unreadable body).
type StatusCheck func(ctx context.Context) (status string, ok bool)

var terminal = map[string]Result{
	"succeeded": Succeeded,
	"completed": Succeeded,
	"failed":    Failed,
	"stopped":   Failed,
}

// IsTerminal reports whether status ends a job
func IsTerminal(status string) bool {
	_, ok := terminal[status]
	return ok
}

// errAttemptsExhausted ends a poll once the attempt budget is used up
var errAttemptsExhausted = errors.New("poll attempts exhausted")

// Poll calls check until it reports a terminal status or the budget runs out.
// A failed check uses up an attempt but never ends the poll. Poll does not
// sleep past the budget's timeout or after the last attempt, and returns
// TimedOut when ctx is done.
func Poll(ctx context.Context, b Budget, check StatusCheck) Result {
	if b.Interval <= 0 {
		b.Interval = DefaultInterval
	}

	result := TimedOut
	attempts := 0
	condition := func(ctx context.Context) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		attempts++
		if status, ok := check(ctx); ok {
			if r, done := terminal[status]; done {
				result = r
				return true, nil
			}
		}
		if b.MaxAttempts > 0 && attempts >= b.MaxAttempts {
			return false, errAttemptsExhausted
		}
		return false, nil
	}

	var err error
	if b.Timeout > 0 {
		err = wait.PollUntilContextTimeout(ctx, b.Interval, b.Timeout, true, condition)
	} else {
		err = wait.PollUntilContextCancel(ctx, b.Interval, true, condition)
	}
	if errors.Is(err, errAttemptsExhausted) || wait.Interrupted(err) {
		return TimedOut
	}
	return result
}
