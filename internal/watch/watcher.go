// Package watch keeps the recording registry honest about target liveness.
// A Tracker polls the bridge for the connected target set and publishes
// found/lost events; a Watcher reacts to lost targets by stopping their
// recordings.
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/log"
	"github.com/mattjoyce/muster/internal/record"
)

//go:generate mockgen -source=watcher.go -destination=mocks/mock_stopper.go -package=mocks

// Stopper ends a target's recording. Stop must be idempotent: the watcher
// may fire for targets with no active session and may see the same loss
// more than once.
type Stopper interface {
	Stop(ctx context.Context, target string) ([]record.Artifact, error)
}

// stopTimeout bounds one disconnect-triggered stop. It has to cover the
// interrupt grace, a kill, and the artifact pull.
const stopTimeout = 2 * time.Minute

// Watcher subscribes to the hub and stops recordings for lost targets. Each
// stop runs on its own goroutine so one slow teardown never delays another
// target's handling.
type Watcher struct {
	hub     *events.Hub
	stopper Stopper
	logger  *slog.Logger

	cancel func()
	wg     sync.WaitGroup
}

func NewWatcher(hub *events.Hub, stopper Stopper) *Watcher {
	return &Watcher{
		hub:     hub,
		stopper: stopper,
		logger:  log.WithComponent("watch"),
	}
}

// Start begins consuming hub events until Stop is called.
func (w *Watcher) Start() {
	ch, cancel := w.hub.Subscribe()
	w.cancel = cancel

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for ev := range ch {
			if ev.Kind != events.KindTargetLost {
				continue
			}
			w.wg.Add(1)
			go w.handleLost(ev.Target)
		}
	}()
}

// Stop unsubscribes and waits for in-flight teardowns.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *Watcher) handleLost(target string) {
	defer w.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	w.logger.Info("target lost, stopping recording", "target", target)
	artifacts, err := w.stopper.Stop(ctx, target)
	if err != nil {
		w.logger.Error("stop after target loss failed", "target", target, "error", err)
		return
	}
	if len(artifacts) > 0 {
		w.logger.Info("salvaged segments from lost target", "target", target, "segments", len(artifacts))
	}
}
