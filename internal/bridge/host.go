package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// HostRunner invokes command lines directly on the host: the first token is
// the program. Used by the exec-host side of the batch envelope, where
// command lines already carry their own target addressing.
type HostRunner struct{}

func NewHostRunner() HostRunner { return HostRunner{} }

func (HostRunner) Invoke(ctx context.Context, target, command string, timeout time.Duration) (*InvokeResult, error) {
	parts, err := SplitCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w: %v", ErrSpawn, err)
	}
	if len(parts) == 0 {
		return &InvokeResult{}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, parts[0], parts[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	if cctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s: %w", command, ErrInvokeTimeout)
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("%s: %w: %v", command, ErrSpawn, err)
		}
	}

	return &InvokeResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
	}, nil
}
