package batch

import (
	"fmt"
	"time"
)

// Command is one unit of a batch: a command line directed at a target.
// Immutable once submitted.
type Command struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// Outcome classifies one command's result.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeFailed     Outcome = "failed"
	OutcomeTimedOut   Outcome = "timed_out"
	OutcomeSpawnFail  Outcome = "spawn_failed"
	OutcomeCancelled  Outcome = "cancelled"
)

// Result is the captured outcome of one command. Index is the submission
// index; the result slice is always index-aligned regardless of completion
// order.
type Result struct {
	Index    int     `json:"index"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	ExitCode int     `json:"exit_code"`
	Outcome  Outcome `json:"outcome"`
	// Detail carries the failure description for non-exit failures
	// (timeout, spawn failure), empty otherwise.
	Detail string `json:"detail,omitempty"`
	// Elapsed is how long the command ran.
	Elapsed time.Duration `json:"elapsed"`
}

// ExecutionError reports a failure of the batch mechanism itself, as opposed
// to any individual command. When it is returned there is no partial result.
type ExecutionError struct {
	Stage string // "spawn", "encode", "decode", "wait"
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("batch execution failed at %s: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
