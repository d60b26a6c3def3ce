package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/muster/internal/log"
)

// ExecRunner drives targets through a bridge CLI binary (adb-compatible
// argument conventions: -s <target> selects the target).
type ExecRunner struct {
	binary string
}

// NewExecRunner creates a runner that shells out to binary.
func NewExecRunner(binary string) *ExecRunner {
	return &ExecRunner{binary: binary}
}

// Invoke runs `binary -s target <command...>` with a hard timeout. On timeout
// the process is killed and ErrInvokeTimeout is returned.
func (r *ExecRunner) Invoke(ctx context.Context, target, command string, timeout time.Duration) (*InvokeResult, error) {
	args, err := SplitCommand(command)
	if err != nil {
		return nil, fmt.Errorf("parse command: %w", err)
	}
	if target != "" {
		args = append([]string{"-s", target}, args...)
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, r.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()
	// Parent cancellation also kills the child; it must not masquerade as a
	// per-command timeout or as the child's own exit status.
	if cerr := ctx.Err(); cerr != nil {
		return nil, fmt.Errorf("%s: %w", command, cerr)
	}
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

// SpawnCapture starts `binary -s target shell screenrecord <remotePath>`.
// The returned Process is the only handle to the child; callers must drive it
// to exit via Signal/Wait.
func (r *ExecRunner) SpawnCapture(target, remotePath string) (Process, error) {
	cmd := exec.Command(r.binary, "-s", target, "shell", "screenrecord", remotePath)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	p := &execProcess{
		cmd:    cmd,
		runner: r,
		target: target,
		done:   make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// Pull copies remotePath from the target into localPath.
func (r *ExecRunner) Pull(ctx context.Context, target, remotePath, localPath string) error {
	cmd := exec.CommandContext(ctx, r.binary, "-s", target, "pull", remotePath, localPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("pull %s: %v: %s", remotePath, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Remove deletes remotePath on the target.
func (r *ExecRunner) Remove(ctx context.Context, target, remotePath string) error {
	cmd := exec.CommandContext(ctx, r.binary, "-s", target, "shell", "rm", "-f", remotePath)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("remove %s: %v", remotePath, err)
	}
	return nil
}

// ListTargets parses `binary devices` output. Only targets in the ready state
// are returned.
func (r *ExecRunner) ListTargets(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, r.binary, "devices")
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	return ParseTargetList(string(out)), nil
}

// ParseTargetList extracts ready target ids from `devices` output lines of the
// form "<id>\tdevice".
func ParseTargetList(out string) []string {
	var targets []string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[1] == "device" {
			targets = append(targets, fields[0])
		}
	}
	return targets
}

// execProcess wraps a spawned capture child. cmd.Wait is called exactly once,
// by the goroutine started in SpawnCapture.
type execProcess struct {
	cmd     *exec.Cmd
	runner  *ExecRunner
	target  string
	done    chan struct{}
	waitErr error

	interruptOnce sync.Once
}

func (p *execProcess) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

func (p *execProcess) Signal(sig Signal) error {
	switch sig {
	case SignalInterrupt:
		// The capture process on the target finalizes its file on SIGINT.
		// Interrupt the remote side first, then the local client.
		p.interruptOnce.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			cmd := exec.CommandContext(ctx, p.runner.binary, "-s", p.target, "shell", "pkill", "-SIGINT", "screenrecord")
			if err := cmd.Run(); err != nil {
				log.WithTarget(p.target).Warn("remote capture interrupt failed", "error", err)
			}
		})
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil && !processGone(err) {
				return fmt.Errorf("interrupt capture: %w", err)
			}
		}
		return nil
	case SignalKill:
		if p.cmd.Process != nil {
			if err := p.cmd.Process.Kill(); err != nil && !processGone(err) {
				return fmt.Errorf("kill capture: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown signal %d", sig)
	}
}

func (p *execProcess) Wait(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		var exitErr *exec.ExitError
		if p.waitErr != nil && !errors.As(p.waitErr, &exitErr) {
			return true, p.waitErr
		}
		// Non-zero exit is normal for an interrupted capture.
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

func processGone(err error) bool {
	return errors.Is(err, syscall.ESRCH) || strings.Contains(err.Error(), "process already finished")
}
