package batch

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/muster/internal/bridge"
	"github.com/mattjoyce/muster/internal/bridge/bridgetest"
	"github.com/mattjoyce/muster/internal/wire"
)

func TestRunHostRoundTrip(t *testing.T) {
	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		return &bridge.InvokeResult{Stdout: "ran " + command}, nil
	}
	exec := NewExecutor(runner, 4, time.Second)

	var req bytes.Buffer
	require.NoError(t, wire.EncodeRequest(&req, []string{"adb -s t1 shell id", "adb -s t2 shell id"}))

	var resp bytes.Buffer
	require.NoError(t, RunHost(context.Background(), &req, &resp, exec))

	records, err := wire.DecodeResponse(&resp, 2)
	require.NoError(t, err)
	assert.Equal(t, "ran adb -s t1 shell id", records[0].Stdout)
	assert.Equal(t, "ran adb -s t2 shell id", records[1].Stdout)
	assert.Equal(t, 0, records[0].ExitCode)
}

func TestRunHostReservedByteOutputSubstituted(t *testing.T) {
	runner := bridgetest.NewFakeRunner()
	runner.InvokeFn = func(ctx context.Context, target, command string, timeout time.Duration) (*bridge.InvokeResult, error) {
		if strings.Contains(command, "binary") {
			return &bridge.InvokeResult{Stdout: "x" + wire.RecordSep + "y"}, nil
		}
		return &bridge.InvokeResult{Stdout: "clean"}, nil
	}
	exec := NewExecutor(runner, 4, time.Second)

	var req bytes.Buffer
	require.NoError(t, wire.EncodeRequest(&req, []string{"cat binary", "echo ok"}))

	var resp bytes.Buffer
	require.NoError(t, RunHost(context.Background(), &req, &resp, exec))

	records, err := wire.DecodeResponse(&resp, 2)
	require.NoError(t, err)

	// The unrepresentable record is reported as a failure without
	// corrupting its neighbour.
	assert.Equal(t, -1, records[0].ExitCode)
	assert.Contains(t, records[0].Stderr, "not representable")
	assert.Equal(t, "clean", records[1].Stdout)
	assert.Equal(t, 0, records[1].ExitCode)
}

func TestRunHostMalformedRequest(t *testing.T) {
	exec := NewExecutor(bridgetest.NewFakeRunner(), 4, time.Second)
	var resp bytes.Buffer
	err := RunHost(context.Background(), strings.NewReader("not-a-count\n"), &resp, exec)
	require.Error(t, err)
	assert.ErrorIs(t, err, wire.ErrMalformedPayload)
}

func TestRemoteExecutorSpawnFailure(t *testing.T) {
	// A host process that cannot be spawned fails the whole call with
	// ExecutionError and yields no partial results.
	remote := NewRemoteExecutor([]string{"/nonexistent/muster", "exec-host"}, "adb")
	results, err := remote.Execute(context.Background(), []Command{{Target: "t1", Text: "shell id"}})
	assert.Nil(t, results)

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "spawn", execErr.Stage)
}

func TestRemoteExecutorCommandLine(t *testing.T) {
	remote := NewRemoteExecutor(nil, "adb")
	assert.Equal(t, "adb -s t1 shell id", remote.commandLine(Command{Target: "t1", Text: "shell id"}))
	assert.Equal(t, "ls /tmp", remote.commandLine(Command{Text: "ls /tmp"}))
}
