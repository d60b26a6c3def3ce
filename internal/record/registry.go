// Package record manages segmented capture sessions per target. The capture
// mechanism caps one continuous process's duration, so sessions are split
// into segments that are preemptively rolled below the cap.
package record

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/muster/internal/bridge"
	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/log"
)

// Registry maps target ids to their recording sessions. It is constructed at
// startup, injected into everything that records, and drained at shutdown.
// Invariant: at most one non-terminal session per target.
type Registry struct {
	cfg    Config
	runner bridge.Runner
	hub    *events.Hub
	sink   SegmentSink
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

// NewRegistry creates an empty registry. hub and sink may be nil.
func NewRegistry(runner bridge.Runner, cfg Config, hub *events.Hub, sink SegmentSink) *Registry {
	return &Registry{
		cfg:      cfg,
		runner:   runner,
		hub:      hub,
		sink:     sink,
		logger:   log.WithComponent("record"),
		sessions: make(map[string]*session),
	}
}

// Start begins a segmented recording for target. Insert-if-absent: if a
// non-terminal session exists the call fails with ErrAlreadyRecording and the
// existing session is untouched. Two concurrent starts for the same target
// yield exactly one session.
func (r *Registry) Start(ctx context.Context, target, name string) (*HandleRef, error) {
	if target == "" {
		return nil, fmt.Errorf("target id is empty")
	}

	s := newSession(target, name, r.cfg, r.runner, r.hub, r.sink, log.WithTarget(target))

	r.mu.Lock()
	if existing, ok := r.sessions[target]; ok {
		if !existing.State().Terminal() {
			r.mu.Unlock()
			return nil, fmt.Errorf("target %s: %w", target, ErrAlreadyRecording)
		}
		// Terminal leftovers are reaped on the next start.
	}
	r.sessions[target] = s
	r.mu.Unlock()

	if err := s.spawnSegment(); err != nil {
		s.finish(StateFailed, err.Error())
		r.remove(target, s)
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	s.setState(StateRecording)
	go s.run()

	if r.hub != nil {
		r.hub.Publish(events.KindRecordingStart, target, map[string]any{"name": name})
	}
	r.logger.Info("recording started", "target", target)
	return s.handleRef(), nil
}

// Stop ends the recording for target and returns its collected artifacts.
// Idempotent: stopping an absent or already-terminal target is a no-op
// success, which lets callers race disconnection events safely.
func (r *Registry) Stop(ctx context.Context, target string) ([]Artifact, error) {
	r.mu.Lock()
	s, ok := r.sessions[target]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}

	if s.State().Terminal() {
		r.remove(target, s)
		return s.Artifacts(), nil
	}

	s.requestStop()
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.remove(target, s)
	return s.Artifacts(), nil
}

// State returns the session state for target, StateIdle if none.
func (r *Registry) State(target string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[target]
	if !ok {
		return StateIdle
	}
	return s.State()
}

// Status returns the point-in-time status for target.
func (r *Registry) Status(target string) (Status, bool) {
	r.mu.Lock()
	s, ok := r.sessions[target]
	r.mu.Unlock()
	if !ok {
		return Status{Target: target, State: StateIdle}, false
	}
	return s.status(), true
}

// Snapshot returns the status of every known session.
func (r *Registry) Snapshot() []Status {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]Status, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.status())
	}
	return out
}

// Active returns the number of non-terminal sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sessions {
		if !s.State().Terminal() {
			n++
		}
	}
	return n
}

// Drain stops every session; used at shutdown. Sessions stop concurrently,
// distinct targets never wait on one another.
func (r *Registry) Drain(ctx context.Context) {
	r.mu.Lock()
	targets := make([]string, 0, len(r.sessions))
	for t := range r.sessions {
		targets = append(targets, t)
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		target := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Stop(ctx, target); err != nil {
				r.logger.Error("drain stop failed", "target", target, "error", err)
			}
		}()
	}
	wg.Wait()
}

// remove deletes the entry only if it still holds the same session, so a
// newer session for the target is never clobbered.
func (r *Registry) remove(target string, s *session) {
	r.mu.Lock()
	if cur, ok := r.sessions[target]; ok && cur == s {
		delete(r.sessions, target)
	}
	r.mu.Unlock()
}
