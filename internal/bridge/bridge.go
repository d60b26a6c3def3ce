// Package bridge is the boundary to externally addressable targets. All
// process I/O against targets (one-shot command invocations, long-running
// capture processes, artifact transfer, liveness listing) goes through a
// Runner so the rest of the service never touches os/exec directly.
package bridge

import (
	"context"
	"errors"
	"time"
)

// Signal selects the termination escalation level for a capture process.
type Signal int

const (
	// SignalInterrupt asks the capture process to stop and finalize its
	// output file.
	SignalInterrupt Signal = iota
	// SignalKill terminates the process without finalization.
	SignalKill
)

var (
	// ErrSpawn reports that a target-bound process could not be started.
	ErrSpawn = errors.New("failed to spawn target process")
	// ErrInvokeTimeout reports a command that exceeded its timeout and was
	// forcibly terminated.
	ErrInvokeTimeout = errors.New("command timed out")
)

// InvokeResult is the captured outcome of a one-shot command.
type InvokeResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Process is a live capture process owned by exactly one registry entry.
type Process interface {
	// Signal delivers the given signal. Interrupt is best-effort graceful.
	Signal(sig Signal) error
	// Wait blocks until the process exits or the timeout elapses. The first
	// return value reports whether it exited.
	Wait(timeout time.Duration) (bool, error)
	// Pid returns the local process id, for logging.
	Pid() int
}

// Runner executes work against targets.
type Runner interface {
	// Invoke runs a one-shot command against target and captures its output.
	// A non-zero exit status is reported inside InvokeResult, not as an
	// error; errors are reserved for spawn failures and timeouts.
	Invoke(ctx context.Context, target, command string, timeout time.Duration) (*InvokeResult, error)

	// SpawnCapture starts a continuous capture process writing to remotePath
	// on the target.
	SpawnCapture(target, remotePath string) (Process, error)

	// Pull copies remotePath from the target to localPath.
	Pull(ctx context.Context, target, remotePath, localPath string) error

	// Remove deletes remotePath from the target.
	Remove(ctx context.Context, target, remotePath string) error

	// ListTargets returns the currently reachable target ids.
	ListTargets(ctx context.Context) ([]string, error)
}
