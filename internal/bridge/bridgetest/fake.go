// Package bridgetest provides an in-memory Runner for exercising executor and
// session logic without a real bridge binary.
package bridgetest

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mattjoyce/muster/internal/bridge"
)

// FakeProcess is a capture process that exits when interrupted or killed,
// or when the test calls Exit.
type FakeProcess struct {
	// IgnoreInterrupt makes the process survive SignalInterrupt, forcing
	// callers through their kill escalation.
	IgnoreInterrupt bool

	mu          sync.Mutex
	exited      bool
	interrupted bool
	killed      bool
	done        chan struct{}
}

func NewFakeProcess() *FakeProcess {
	return &FakeProcess{done: make(chan struct{})}
}

func (p *FakeProcess) Pid() int { return 4242 }

func (p *FakeProcess) Signal(sig bridge.Signal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch sig {
	case bridge.SignalInterrupt:
		p.interrupted = true
		if !p.IgnoreInterrupt {
			p.exitLocked()
		}
	case bridge.SignalKill:
		p.killed = true
		p.exitLocked()
	}
	return nil
}

func (p *FakeProcess) Wait(timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.done:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// Exit simulates the process ending on its own.
func (p *FakeProcess) Exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked()
}

func (p *FakeProcess) exitLocked() {
	if !p.exited {
		p.exited = true
		close(p.done)
	}
}

func (p *FakeProcess) Interrupted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interrupted
}

func (p *FakeProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *FakeProcess) Exited() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exited
}

// SpawnedCapture records one SpawnCapture call.
type SpawnedCapture struct {
	Target     string
	RemotePath string
	Proc       *FakeProcess
}

// PullCall records one Pull call.
type PullCall struct {
	Target string
	Remote string
	Local  string
}

// FakeRunner implements bridge.Runner in memory.
type FakeRunner struct {
	// InvokeFn, when set, handles Invoke calls entirely.
	InvokeFn func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error)
	// InvokeDelay simulates command latency. A delay beyond the invoke
	// timeout yields bridge.ErrInvokeTimeout, like the real runner.
	InvokeDelay time.Duration
	// SpawnFn, when set, handles SpawnCapture calls entirely.
	SpawnFn func(target, remotePath string) (bridge.Process, error)
	// SpawnErr fails SpawnCapture when set.
	SpawnErr error
	// IgnoreInterrupt is applied to every spawned FakeProcess.
	IgnoreInterrupt bool
	// PullErr fails Pull when set.
	PullErr error

	mu      sync.Mutex
	targets []string
	spawned []*SpawnedCapture
	pulls   []PullCall
	removes []string
}

func NewFakeRunner(targets ...string) *FakeRunner {
	return &FakeRunner{targets: targets}
}

func (r *FakeRunner) Invoke(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
	if r.InvokeFn != nil {
		return r.InvokeFn(ctx, target, command, timeout)
	}
	if r.InvokeDelay > 0 {
		wait := r.InvokeDelay
		timedOut := false
		if wait > timeout {
			wait = timeout
			timedOut = true
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
		if timedOut {
			return nil, fmt.Errorf("%s: %w", command, bridge.ErrInvokeTimeout)
		}
	}
	return &bridge.InvokeResult{Stdout: "ok: " + command}, nil
}

func (r *FakeRunner) SpawnCapture(target, remotePath string) (bridge.Process, error) {
	if r.SpawnFn != nil {
		return r.SpawnFn(target, remotePath)
	}
	if r.SpawnErr != nil {
		return nil, r.SpawnErr
	}
	proc := NewFakeProcess()
	proc.IgnoreInterrupt = r.IgnoreInterrupt

	r.mu.Lock()
	r.spawned = append(r.spawned, &SpawnedCapture{Target: target, RemotePath: remotePath, Proc: proc})
	r.mu.Unlock()
	return proc, nil
}

func (r *FakeRunner) Pull(ctx context.Context, target, remotePath, localPath string) error {
	if r.PullErr != nil {
		return r.PullErr
	}
	if err := os.WriteFile(localPath, []byte("capture:"+remotePath), 0o644); err != nil {
		return err
	}
	r.mu.Lock()
	r.pulls = append(r.pulls, PullCall{Target: target, Remote: remotePath, Local: localPath})
	r.mu.Unlock()
	return nil
}

func (r *FakeRunner) Remove(ctx context.Context, target, remotePath string) error {
	r.mu.Lock()
	r.removes = append(r.removes, remotePath)
	r.mu.Unlock()
	return nil
}

func (r *FakeRunner) ListTargets(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.targets))
	copy(out, r.targets)
	return out, nil
}

// SetTargets replaces the live target set, simulating connects/disconnects.
func (r *FakeRunner) SetTargets(targets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = targets
}

func (r *FakeRunner) Spawned() []*SpawnedCapture {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*SpawnedCapture, len(r.spawned))
	copy(out, r.spawned)
	return out
}

func (r *FakeRunner) Pulls() []PullCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]PullCall, len(r.pulls))
	copy(out, r.pulls)
	return out
}

func (r *FakeRunner) Removes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.removes))
	copy(out, r.removes)
	return out
}
