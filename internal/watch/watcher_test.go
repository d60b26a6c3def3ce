package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/muster/internal/bridge/bridgetest"
	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/record"
	"github.com/mattjoyce/muster/internal/watch/mocks"
)

func TestWatcherStopsLostTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hub := events.NewHub(32)
	stopper := mocks.NewMockStopper(ctrl)

	stopped := make(chan string, 1)
	stopper.EXPECT().
		Stop(gomock.Any(), "t1").
		DoAndReturn(func(ctx context.Context, target string) ([]record.Artifact, error) {
			stopped <- target
			return []record.Artifact{{Target: target, SegmentIndex: 1}}, nil
		})

	w := NewWatcher(hub, stopper)
	w.Start()
	defer w.Stop()

	hub.Publish(events.KindTargetLost, "t1", nil)

	select {
	case target := <-stopped:
		assert.Equal(t, "t1", target)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher never stopped the lost target")
	}
}

func TestWatcherIgnoresOtherEvents(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hub := events.NewHub(32)
	stopper := mocks.NewMockStopper(ctrl)
	// No EXPECT: any Stop call fails the test.

	w := NewWatcher(hub, stopper)
	w.Start()

	hub.Publish(events.KindTargetFound, "t1", nil)
	hub.Publish(events.KindRecordingStart, "t1", nil)
	hub.Publish(events.KindBatchCompleted, "", nil)

	time.Sleep(50 * time.Millisecond)
	w.Stop()
}

func TestWatcherToleratesDuplicateLossAndErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	hub := events.NewHub(32)
	stopper := mocks.NewMockStopper(ctrl)

	var mu sync.Mutex
	calls := 0
	stopper.EXPECT().
		Stop(gomock.Any(), "t1").
		DoAndReturn(func(ctx context.Context, target string) ([]record.Artifact, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n == 1 {
				return nil, errors.New("already tearing down")
			}
			return nil, nil
		}).
		Times(2)

	w := NewWatcher(hub, stopper)
	w.Start()

	hub.Publish(events.KindTargetLost, "t1", nil)
	hub.Publish(events.KindTargetLost, "t1", nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 2
	}, 2*time.Second, 10*time.Millisecond)
	w.Stop()
}

func TestTrackerPublishesFoundAndLost(t *testing.T) {
	runner := bridgetest.NewFakeRunner("a", "b")
	hub := events.NewHub(64)
	tracker := NewTracker(runner, hub, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		tracker.Run(ctx)
	}()

	kinds := func(kind events.Kind) map[string]bool {
		seen := make(map[string]bool)
		for _, ev := range hub.SnapshotSince(0) {
			if ev.Kind == kind {
				seen[ev.Target] = true
			}
		}
		return seen
	}

	require.Eventually(t, func() bool {
		found := kinds(events.KindTargetFound)
		return found["a"] && found["b"]
	}, 2*time.Second, 10*time.Millisecond)

	// b disconnects, c appears.
	runner.SetTargets("a", "c")

	require.Eventually(t, func() bool {
		return kinds(events.KindTargetLost)["b"] && kinds(events.KindTargetFound)["c"]
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

type failingLister struct {
	mu      sync.Mutex
	targets []string
	fail    bool
}

func (l *failingLister) ListTargets(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail {
		return nil, errors.New("bridge not responding")
	}
	return append([]string(nil), l.targets...), nil
}

func TestTrackerKeepsKnownSetOnListingError(t *testing.T) {
	lister := &failingLister{targets: []string{"a"}}
	hub := events.NewHub(64)
	tracker := NewTracker(lister, hub, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tracker.Run(ctx)

	require.Eventually(t, func() bool {
		for _, ev := range hub.SnapshotSince(0) {
			if ev.Kind == events.KindTargetFound && ev.Target == "a" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// A failing poll must not declare the fleet lost.
	lister.mu.Lock()
	lister.fail = true
	lister.mu.Unlock()

	time.Sleep(100 * time.Millisecond)
	for _, ev := range hub.SnapshotSince(0) {
		assert.NotEqual(t, events.KindTargetLost, ev.Kind)
	}
}
