package record

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/muster/internal/bridge"
	"github.com/mattjoyce/muster/internal/events"
)

// pullTimeout bounds artifact retrieval after a segment ends.
const pullTimeout = 30 * time.Second

// session supervises one target's segmented capture. All mutation happens on
// the session's own control goroutine or under mu; the capture process
// reference is owned exclusively by the session.
type session struct {
	target string
	name   string
	cfg    Config
	runner bridge.Runner
	hub    *events.Hub
	sink   SegmentSink
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	segIndex  int
	proc      bridge.Process
	remote    string
	segStart  time.Time
	startedAt time.Time
	artifacts []Artifact
	failure   string

	stopOnce sync.Once
	doneOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newSession(target, name string, cfg Config, runner bridge.Runner, hub *events.Hub, sink SegmentSink, logger *slog.Logger) *session {
	if name == "" {
		name = "capture"
	}
	return &session{
		target:    target,
		name:      sanitizeName(name),
		cfg:       cfg,
		runner:    runner,
		hub:       hub,
		sink:      sink,
		logger:    logger,
		state:     StateStarting,
		startedAt: time.Now(),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// spawnSegment starts the next capture process for this target.
func (s *session) spawnSegment() error {
	s.mu.Lock()
	s.segIndex++
	idx := s.segIndex
	s.remote = fmt.Sprintf("/sdcard/%s_%s_seg%03d.mp4", s.name, s.target, idx)
	remote := s.remote
	s.mu.Unlock()

	proc, err := s.runner.SpawnCapture(s.target, remote)
	if err != nil {
		return fmt.Errorf("spawn capture segment %d: %w", idx, err)
	}

	s.mu.Lock()
	s.proc = proc
	s.segStart = time.Now()
	s.mu.Unlock()

	s.logger.Info("capture segment started", "segment", idx, "remote", remote, "pid", proc.Pid())
	return nil
}

// run is the session control loop: one timer-driven flow per active session,
// no polling. It owns every state transition after Starting.
func (s *session) run() {
	defer s.markDone()

	for {
		proc := s.currentProc()
		segExit := watchExit(proc, s.cfg.SegmentCap+s.cfg.StopGrace)

		rollTimer := time.NewTimer(s.cfg.SegmentCap - s.cfg.SegmentMargin)

		select {
		case <-s.stopCh:
			rollTimer.Stop()
			s.setState(StateStopping)
			s.endSegment(proc)
			s.finish(StateCompleted, "")
			return

		case <-rollTimer.C:
			// Preemptive rollover: the mechanism's hard cap must never be
			// reached by a running segment.
			s.setState(StateSegmentExpiring)
			s.endSegment(proc)

			if err := s.spawnSegment(); err != nil {
				s.finish(StateFailed, err.Error())
				return
			}
			s.setState(StateRecording)
			s.publish(events.KindRecordingRoll, map[string]any{"segment": s.SegmentIndex()})

		case <-segExit:
			rollTimer.Stop()
			// The process ended without us asking: the target is gone or the
			// capture died. Partial output is still retrieved.
			s.setState(StateFinalizing)
			s.appendArtifact(s.collectArtifact())
			s.finish(StateFailed, "target disconnected mid-capture")
			return
		}
	}
}

// requestStop asks the control loop to stop; safe to call any number of times.
func (s *session) requestStop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// endSegment terminates the current process (interrupt, bounded grace,
// forceful kill) and always attempts artifact retrieval afterward.
func (s *session) endSegment(proc bridge.Process) {
	if err := proc.Signal(bridge.SignalInterrupt); err != nil {
		s.logger.Warn("interrupt failed", "error", err)
	}
	exited, err := proc.Wait(s.cfg.StopGrace)
	if err != nil {
		s.logger.Warn("wait after interrupt failed", "error", err)
	}
	if !exited {
		s.logger.Warn("capture did not exit within grace period, killing", "grace", s.cfg.StopGrace)
		if err := proc.Signal(bridge.SignalKill); err != nil {
			s.logger.Error("kill failed", "error", err)
		}
		if _, err := proc.Wait(s.cfg.StopGrace); err != nil {
			s.logger.Error("wait after kill failed", "error", err)
		}
	}

	s.setState(StateFinalizing)
	s.appendArtifact(s.collectArtifact())
}

// collectArtifact pulls the finished segment to the artifact dir, checksums
// it, and removes the remote copy. Retrieval failure is recorded on the
// artifact, never silently dropped.
func (s *session) collectArtifact() Artifact {
	s.mu.Lock()
	idx := s.segIndex
	remote := s.remote
	segStart := s.segStart
	s.mu.Unlock()

	art := Artifact{
		Target:       s.target,
		SegmentIndex: idx,
		StartedAt:    segStart,
		EndedAt:      time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), pullTimeout)
	defer cancel()

	local := filepath.Join(s.cfg.ArtifactDir, filepath.Base(remote))
	if err := os.MkdirAll(s.cfg.ArtifactDir, 0o755); err != nil {
		art.RetrievalError = fmt.Sprintf("create artifact dir: %v", err)
		return art
	}
	if err := s.runner.Pull(ctx, s.target, remote, local); err != nil {
		art.RetrievalError = err.Error()
		s.logger.Error("artifact retrieval failed", "segment", idx, "error", err)
		return art
	}

	art.Path = local
	if info, err := os.Stat(local); err == nil {
		art.SizeBytes = info.Size()
	}
	if sum, err := checksumFile(local); err == nil {
		art.Checksum = sum
	}

	if err := s.runner.Remove(ctx, s.target, remote); err != nil {
		s.logger.Warn("remote cleanup failed", "remote", remote, "error", err)
	}

	s.logger.Info("segment artifact collected", "segment", idx, "path", local, "bytes", art.SizeBytes)
	return art
}

func (s *session) appendArtifact(a Artifact) {
	s.mu.Lock()
	s.artifacts = append(s.artifacts, a)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveSegment(a); err != nil {
			s.logger.Error("persist segment failed", "segment", a.SegmentIndex, "error", err)
		}
	}
}

// finish moves the session to a terminal state and unblocks every stop
// waiter. It is also reached on the spawn-failure path where run() never
// starts, so closing done cannot be left to run's defer alone.
func (s *session) finish(st State, failure string) {
	s.mu.Lock()
	s.state = st
	s.failure = failure
	s.mu.Unlock()

	if st == StateFailed {
		s.logger.Error("recording failed", "reason", failure)
		s.publish(events.KindRecordingFailed, map[string]any{"reason": failure})
	} else {
		s.logger.Info("recording completed", "segments", len(s.Artifacts()))
		s.publish(events.KindRecordingStop, map[string]any{"segments": len(s.Artifacts())})
	}
	s.markDone()
}

func (s *session) markDone() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *session) publish(kind events.Kind, data map[string]any) {
	if s.hub != nil {
		s.hub.Publish(kind, s.target, data)
	}
}

func (s *session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) SegmentIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.segIndex
}

func (s *session) currentProc() bridge.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *session) Artifacts() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Artifact, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

func (s *session) status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Target:       s.target,
		State:        s.state,
		SegmentIndex: s.segIndex,
		Segments:     len(s.artifacts),
		StartedAt:    s.startedAt,
		Elapsed:      time.Since(s.startedAt),
	}
}

func (s *session) handleRef() *HandleRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &HandleRef{
		Target:       s.target,
		SegmentIndex: s.segIndex,
		State:        s.state,
		StartedAt:    s.startedAt,
	}
}

// watchExit delivers once when proc exits. The bound is the hard cap plus
// grace: by contract no capture process outlives the cap.
func watchExit(proc bridge.Process, bound time.Duration) <-chan struct{} {
	ch := make(chan struct{}, 1)
	go func() {
		if exited, _ := proc.Wait(bound); exited {
			ch <- struct{}{}
		}
	}()
	return ch
}

func checksumFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, name)
}
