package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/log"
)

// TargetLister is the slice of the bridge the tracker needs.
type TargetLister interface {
	ListTargets(ctx context.Context) ([]string, error)
}

// Tracker polls the bridge for the connected target set and publishes
// found/lost events for the delta. A listing error is logged and the last
// known set is kept; a transient bridge hiccup must not report the whole
// fleet as lost.
type Tracker struct {
	lister   TargetLister
	hub      *events.Hub
	interval time.Duration
	logger   *slog.Logger

	mu    sync.Mutex
	known map[string]bool
}

func NewTracker(lister TargetLister, hub *events.Hub, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Tracker{
		lister:   lister,
		hub:      hub,
		interval: interval,
		logger:   log.WithComponent("tracker"),
		known:    make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. The first poll seeds the known set and
// publishes found events for everything already connected.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll(ctx)
		}
	}
}

// Known reports whether target was present in the last successful poll.
func (t *Tracker) Known(target string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.known[target]
}

func (t *Tracker) poll(ctx context.Context) {
	listCtx, cancel := context.WithTimeout(ctx, t.interval)
	defer cancel()

	targets, err := t.lister.ListTargets(listCtx)
	if err != nil {
		t.logger.Warn("target listing failed", "error", err)
		return
	}

	t.mu.Lock()
	known := t.known
	current := make(map[string]bool, len(targets))
	for _, id := range targets {
		current[id] = true
	}
	t.known = current
	t.mu.Unlock()

	for _, id := range targets {
		if !known[id] {
			t.logger.Info("target found", "target", id)
			t.hub.Publish(events.KindTargetFound, id, nil)
		}
	}
	for id := range known {
		if !current[id] {
			t.logger.Info("target lost", "target", id)
			t.hub.Publish(events.KindTargetLost, id, nil)
		}
	}
}
