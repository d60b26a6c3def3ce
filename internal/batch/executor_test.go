package batch

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/muster/internal/bridge"
	"github.com/mattjoyce/muster/internal/bridge/bridgetest"
)

func TestExecuteOrderMatchesSubmissionOrder(t *testing.T) {
	// Property: results are index-aligned no matter what order commands
	// complete in. Randomized per-command latency shuffles completion order.
	const n = 40
	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
		return &bridge.InvokeResult{Stdout: command}, nil
	}

	exec := NewExecutor(runner, 8, time.Second)

	commands := make([]Command, n)
	for i := range commands {
		commands[i] = Command{Target: "t1", Text: fmt.Sprintf("echo %d", i)}
	}

	results, err := exec.Execute(context.Background(), commands)
	require.NoError(t, err)
	require.Len(t, results, n)

	for i, res := range results {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, fmt.Sprintf("echo %d", i), res.Stdout)
		assert.Equal(t, OutcomeSuccess, res.Outcome)
	}
}

func TestExecuteBoundsInFlight(t *testing.T) {
	const limit = 3
	var inFlight, maxSeen atomic.Int32

	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxSeen.Load()
			if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &bridge.InvokeResult{}, nil
	}

	exec := NewExecutor(runner, limit, time.Second)
	commands := make([]Command, 20)
	for i := range commands {
		commands[i] = Command{Text: "true"}
	}

	_, err := exec.Execute(context.Background(), commands)
	require.NoError(t, err)
	assert.LessOrEqual(t, maxSeen.Load(), int32(limit))
}

func TestExecuteTimeoutIsolated(t *testing.T) {
	// Command #2 exceeds its timeout; #1 and #3 succeed with captured
	// stdout. The call itself returns normally.
	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		if command == "slow" {
			return nil, fmt.Errorf("slow: %w", bridge.ErrInvokeTimeout)
		}
		return &bridge.InvokeResult{Stdout: "out:" + command}, nil
	}

	exec := NewExecutor(runner, 4, 50*time.Millisecond)
	results, err := exec.Execute(context.Background(), []Command{
		{Target: "t1", Text: "fast1"},
		{Target: "t1", Text: "slow"},
		{Target: "t1", Text: "fast2"},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, "out:fast1", results[0].Stdout)
	assert.Equal(t, OutcomeTimedOut, results[1].Outcome)
	assert.Contains(t, results[1].Detail, "terminated")
	assert.Equal(t, OutcomeSuccess, results[2].Outcome)
	assert.Equal(t, "out:fast2", results[2].Stdout)
}

func TestExecuteSpawnFailureCaptured(t *testing.T) {
	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		return nil, fmt.Errorf("%w: no such binary", bridge.ErrSpawn)
	}

	exec := NewExecutor(runner, 4, time.Second)
	results, err := exec.Execute(context.Background(), []Command{{Text: "nope"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSpawnFail, results[0].Outcome)
	assert.Equal(t, -1, results[0].ExitCode)
}

func TestExecuteNonZeroExitIsFailedNotError(t *testing.T) {
	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		return &bridge.InvokeResult{Stderr: "denied", ExitCode: 13}, nil
	}

	exec := NewExecutor(runner, 4, time.Second)
	results, err := exec.Execute(context.Background(), []Command{{Text: "restricted"}})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Equal(t, 13, results[0].ExitCode)
	assert.Equal(t, "denied", results[0].Stderr)
}

func TestExecuteDeadContextIsMechanismFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(bridgetest.NewFakeRunner(), 4, time.Second)
	_, err := exec.Execute(ctx, []Command{{Text: "true"}})
	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
}

func TestExecuteEveryCommandYieldsExactlyOneResult(t *testing.T) {
	runner := bridgetest.NewFakeRunner()
	exec := NewExecutor(runner, 2, time.Second)

	for _, n := range []int{0, 1, 7, 33} {
		commands := make([]Command, n)
		for i := range commands {
			commands[i] = Command{Text: fmt.Sprintf("cmd-%d", i)}
		}
		results, err := exec.Execute(context.Background(), commands)
		require.NoError(t, err)
		assert.Len(t, results, n)
	}
}
