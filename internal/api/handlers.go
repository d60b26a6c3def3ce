package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mattjoyce/muster/internal/batch"
	"github.com/mattjoyce/muster/internal/events"
	"github.com/mattjoyce/muster/internal/log"
	"github.com/mattjoyce/muster/internal/record"
	"github.com/mattjoyce/muster/internal/store"
)

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
		ActiveRecordings: s.recorder.Active(),
		PoolWorkers:      s.config.PoolWorkers,
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleBatch handles POST /batch. The whole batch runs before the response
// is written; results come back in submission order.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Commands) == 0 {
		s.writeError(w, http.StatusBadRequest, "commands must not be empty")
		return
	}
	for i, cmd := range req.Commands {
		if cmd.Text == "" {
			s.writeError(w, http.StatusBadRequest, "commands["+strconv.Itoa(i)+"].text must not be empty")
			return
		}
	}

	started := time.Now()
	results, err := s.executor.Execute(r.Context(), req.Commands)
	if err != nil {
		// A mechanism failure yields no partial results.
		var execErr *batch.ExecutionError
		if errors.As(err, &execErr) {
			respondJSON(w, http.StatusBadGateway, ErrorResponse{Error: execErr.Error(), Stage: execErr.Stage})
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	elapsed := time.Since(started)

	batchID := uuid.NewString()
	logger := log.WithBatch(batchID)
	logger.Info("batch completed", "commands", len(req.Commands), "duration_ms", elapsed.Milliseconds())
	if s.history != nil {
		summary := summarize(batchID, results, started, elapsed)
		if _, err := s.history.LogBatch(r.Context(), summary); err != nil {
			logger.Error("batch history write failed", "error", err)
		}
	}
	if s.hub != nil {
		s.hub.Publish(events.KindBatchCompleted, "", map[string]any{
			"batch_id": batchID,
			"commands": len(req.Commands),
		})
	}

	respondJSON(w, http.StatusOK, BatchResponse{
		BatchID:    batchID,
		Results:    results,
		DurationMs: elapsed.Milliseconds(),
	})
}

// handleRecentBatches handles GET /batches.
func (s *Server) handleRecentBatches(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "batch history is disabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	batches, err := s.history.RecentBatches(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, batches)
}

// handleRecordStart handles POST /record/{target}/start.
func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	var req RecordStartRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	ref, err := s.recorder.Start(r.Context(), target, req.Name)
	if err != nil {
		if errors.Is(err, record.ErrAlreadyRecording) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		if errors.Is(err, record.ErrStartFailed) {
			s.writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, ref)
}

// handleRecordStop handles POST /record/{target}/stop. Stopping an idle
// target is a success with Stopped=false.
func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")

	artifacts, err := s.recorder.Stop(r.Context(), target)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, RecordStopResponse{
		Target:    target,
		Stopped:   len(artifacts) > 0,
		Artifacts: artifacts,
	})
}

// handleRecordSnapshot handles GET /record.
func (s *Server) handleRecordSnapshot(w http.ResponseWriter, r *http.Request) {
	snapshot := s.recorder.Snapshot()
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Target < snapshot[j].Target })
	respondJSON(w, http.StatusOK, snapshot)
}

// handleRecordStatus handles GET /record/{target}.
func (s *Server) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "target")
	status, _ := s.recorder.Status(target)
	respondJSON(w, http.StatusOK, status)
}

// handleTargets handles GET /targets.
func (s *Server) handleTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.targets.ListTargets(r.Context())
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	sort.Strings(targets)
	respondJSON(w, http.StatusOK, TargetsResponse{Targets: targets})
}

// handleSegments handles GET /segments/{target}.
func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusNotFound, "segment history is disabled")
		return
	}
	target := chi.URLParam(r, "target")
	segments, err := s.history.ListSegments(r.Context(), target)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, SegmentsResponse{Target: target, Segments: segments})
}

func summarize(id string, results []batch.Result, started time.Time, elapsed time.Duration) store.BatchSummary {
	summary := store.BatchSummary{
		ID:        id,
		Commands:  len(results),
		StartedAt: started,
		Duration:  elapsed,
	}
	for _, res := range results {
		switch res.Outcome {
		case batch.OutcomeSuccess:
			summary.Succeeded++
		case batch.OutcomeTimedOut:
			summary.TimedOut++
		case batch.OutcomeSpawnFail:
			summary.SpawnFailed++
		default:
			summary.Failed++
		}
	}
	return summary
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
