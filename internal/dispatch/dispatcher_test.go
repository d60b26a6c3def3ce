package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestSubmitRunsTask(t *testing.T) {
	p := New(2, 8)
	p.Start()
	defer p.Stop()

	ran := make(chan struct{})
	h, err := p.Submit(context.Background(), func(ctx context.Context) error {
		close(ran)
		return nil
	})
	require.NoError(t, err)

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task never ran")
	}

	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, StateCompleted, h.State())
}

func TestFailedTaskState(t *testing.T) {
	p := New(1, 4)
	p.Start()
	defer p.Stop()

	boom := errors.New("boom")
	h, err := p.Submit(context.Background(), func(ctx context.Context) error {
		return boom
	})
	require.NoError(t, err)

	err = h.Wait(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, h.State())
}

func TestTrySubmitSaturated(t *testing.T) {
	p := New(1, 1)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	block := func(ctx context.Context) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	// Occupy the single worker, then fill the single queue slot.
	running, err := p.Submit(context.Background(), block)
	require.NoError(t, err)
	var queued *Handle
	require.Eventually(t, func() bool {
		h, err := p.TrySubmit(context.Background(), block)
		if err == nil {
			queued = h
			return true
		}
		return false
	}, 2*time.Second, 5*time.Millisecond)

	_, err = p.TrySubmit(context.Background(), block)
	assert.ErrorIs(t, err, ErrPoolSaturated)

	close(release)
	require.NoError(t, running.Wait(context.Background()))
	require.NoError(t, queued.Wait(context.Background()))
}

func TestCancelQueuedTaskNeverRuns(t *testing.T) {
	p := New(1, 4)
	p.Start()
	defer p.Stop()

	release := make(chan struct{})
	blocker, err := p.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	var ran sync.Once
	didRun := false
	h, err := p.Submit(context.Background(), func(ctx context.Context) error {
		ran.Do(func() { didRun = true })
		return nil
	})
	require.NoError(t, err)

	h.Cancel()
	close(release)

	require.NoError(t, blocker.Wait(context.Background()))
	err = h.Wait(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StateCancelled, h.State())
	assert.False(t, didRun, "cancelled queued task must not run")
}

func TestCancelRunningTask(t *testing.T) {
	p := New(1, 4)
	p.Start()
	defer p.Stop()

	started := make(chan struct{})
	h, err := p.Submit(context.Background(), func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)

	<-started
	h.Cancel()

	assert.Error(t, h.Wait(context.Background()))
	assert.Equal(t, StateCancelled, h.State())
}

func TestStopCancelsQueued(t *testing.T) {
	p := New(1, 8)
	p.Start()

	release := make(chan struct{})
	_, err := p.Submit(context.Background(), func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	require.NoError(t, err)

	var handles []*Handle
	for i := 0; i < 4; i++ {
		h, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
		require.NoError(t, err)
		handles = append(handles, h)
	}

	close(release)
	p.Stop()

	for _, h := range handles {
		st := h.State()
		assert.Contains(t, []State{StateCompleted, StateCancelled}, st)
	}
}

func TestDoneChannelDeliversAsync(t *testing.T) {
	p := New(2, 8)
	p.Start()
	defer p.Stop()

	h, err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	select {
	case <-h.Done():
		assert.Equal(t, StateCompleted, h.State())
	case <-time.After(2 * time.Second):
		t.Fatal("done channel never closed")
	}
}
