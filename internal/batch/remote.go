package batch

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/mattjoyce/muster/internal/log"
	"github.com/mattjoyce/muster/internal/wire"
)

// RemoteExecutor runs batches through a spawned exec-host subprocess speaking
// the wire envelope. It exists for compatibility with external harnesses that
// already talk the envelope; in-process callers use Executor directly.
//
// A failure to spawn or to decode the host's response fails the whole call
// with *ExecutionError and yields no partial results. Per-command failures
// come back inside the decoded records.
type RemoteExecutor struct {
	// argv is the host command, e.g. {"/usr/bin/muster", "exec-host"}.
	argv []string
	// bridgeBinary prefixes target-addressed commands on the host side.
	bridgeBinary string
	logger       *slog.Logger
}

func NewRemoteExecutor(argv []string, bridgeBinary string) *RemoteExecutor {
	return &RemoteExecutor{
		argv:         argv,
		bridgeBinary: bridgeBinary,
		logger:       log.WithComponent("batch.remote"),
	}
}

// Execute sends the batch across the process boundary and returns
// submission-ordered results.
func (r *RemoteExecutor) Execute(ctx context.Context, commands []Command) ([]Result, error) {
	lines := make([]string, len(commands))
	for i, cmd := range commands {
		lines[i] = r.commandLine(cmd)
	}

	var req bytes.Buffer
	if err := wire.EncodeRequest(&req, lines); err != nil {
		return nil, &ExecutionError{Stage: "encode", Err: err}
	}

	if len(r.argv) == 0 {
		return nil, &ExecutionError{Stage: "spawn", Err: fmt.Errorf("no exec-host command configured")}
	}
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Stdin = &req
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Debug("spawning exec host", "argv", strings.Join(r.argv, " "), "commands", len(commands))
	if err := cmd.Run(); err != nil {
		return nil, &ExecutionError{
			Stage: "spawn",
			Err:   fmt.Errorf("%v: %s", err, strings.TrimSpace(stderr.String())),
		}
	}

	records, err := wire.DecodeResponse(&stdout, len(commands))
	if err != nil {
		return nil, &ExecutionError{Stage: "decode", Err: err}
	}

	results := make([]Result, len(records))
	for i, rec := range records {
		results[i] = Result{
			Index:    i,
			Stdout:   rec.Stdout,
			Stderr:   rec.Stderr,
			ExitCode: rec.ExitCode,
			Outcome:  OutcomeSuccess,
		}
		if rec.ExitCode != 0 {
			results[i].Outcome = OutcomeFailed
		}
	}
	return results, nil
}

func (r *RemoteExecutor) commandLine(cmd Command) string {
	if cmd.Target == "" {
		return cmd.Text
	}
	return fmt.Sprintf("%s -s %s %s", r.bridgeBinary, cmd.Target, cmd.Text)
}
