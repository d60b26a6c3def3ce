// Package batch runs many commands concurrently against targets and
// aggregates their outcomes into one deterministic, submission-ordered
// result.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/muster/internal/bridge"
	"github.com/mattjoyce/muster/internal/log"
)

// Invoker executes a single command against a target. Satisfied by
// bridge.Runner implementations.
type Invoker interface {
	Invoke(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error)
}

// Executor runs batches in-process with bounded concurrency.
type Executor struct {
	invoker     Invoker
	maxInFlight int
	timeout     time.Duration
	logger      *slog.Logger
}

// NewExecutor creates an executor. maxInFlight caps concurrently running
// commands; timeout applies per command.
func NewExecutor(invoker Invoker, maxInFlight int, timeout time.Duration) *Executor {
	if maxInFlight <= 0 {
		maxInFlight = 8
	}
	return &Executor{
		invoker:     invoker,
		maxInFlight: maxInFlight,
		timeout:     timeout,
		logger:      log.WithComponent("batch"),
	}
}

// Execute runs all commands and returns exactly one result per command, in
// submission order. Per-command failures are captured in the results and
// never abort the rest of the batch; the returned error is reserved for the
// batch mechanism itself (here: being asked to run with a dead context).
func (e *Executor) Execute(ctx context.Context, commands []Command) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ExecutionError{Stage: "spawn", Err: err}
	}

	// Slots are preallocated by submission index before any dispatch, so
	// completion order cannot influence result order.
	results := make([]Result, len(commands))

	g := new(errgroup.Group)
	g.SetLimit(e.maxInFlight)

	for i, cmd := range commands {
		i, cmd := i, cmd
		g.Go(func() error {
			results[i] = e.runOne(ctx, i, cmd)
			return nil
		})
	}
	// Workers never return errors; failures live inside the result slots.
	_ = g.Wait()

	e.logger.Debug("batch complete", "commands", len(commands))
	return results, nil
}

func (e *Executor) runOne(ctx context.Context, index int, cmd Command) Result {
	start := time.Now()
	res := Result{Index: index}

	// Cancellation only skips commands that have not started yet.
	if err := ctx.Err(); err != nil {
		res.Outcome = OutcomeCancelled
		res.Detail = "batch cancelled before command started"
		return res
	}

	out, err := e.invoker.Invoke(ctx, cmd.Target, cmd.Text, e.timeout)
	res.Elapsed = time.Since(start)

	switch {
	case err == nil && out.ExitCode == 0:
		res.Outcome = OutcomeSuccess
		res.Stdout = out.Stdout
		res.Stderr = out.Stderr
	case err == nil:
		res.Outcome = OutcomeFailed
		res.Stdout = out.Stdout
		res.Stderr = out.Stderr
		res.ExitCode = out.ExitCode
	case errors.Is(err, bridge.ErrInvokeTimeout):
		res.Outcome = OutcomeTimedOut
		res.ExitCode = -1
		res.Detail = fmt.Sprintf("command exceeded %s and was terminated", e.timeout)
	case errors.Is(err, context.Canceled):
		res.Outcome = OutcomeCancelled
		res.ExitCode = -1
		res.Detail = "batch cancelled"
	default:
		res.Outcome = OutcomeSpawnFail
		res.ExitCode = -1
		res.Detail = err.Error()
	}
	return res
}
