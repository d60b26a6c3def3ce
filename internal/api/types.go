package api

import (
	"github.com/mattjoyce/muster/internal/batch"
	"github.com/mattjoyce/muster/internal/record"
)

// BatchRequest is the JSON body for POST /batch.
type BatchRequest struct {
	Commands []batch.Command `json:"commands"`
}

// BatchResponse is returned on batch completion. Results are index-aligned
// with the submitted commands.
type BatchResponse struct {
	BatchID    string         `json:"batch_id"`
	Results    []batch.Result `json:"results"`
	DurationMs int64          `json:"duration_ms"`
}

// RecordStartRequest is the JSON body for POST /record/{target}/start.
type RecordStartRequest struct {
	Name string `json:"name,omitempty"`
}

// RecordStopResponse is returned by POST /record/{target}/stop.
type RecordStopResponse struct {
	Target    string            `json:"target"`
	Stopped   bool              `json:"stopped"`
	Artifacts []record.Artifact `json:"artifacts,omitempty"`
}

// TargetsResponse is returned by GET /targets.
type TargetsResponse struct {
	Targets []string `json:"targets"`
}

// SegmentsResponse is returned by GET /segments/{target}.
type SegmentsResponse struct {
	Target   string            `json:"target"`
	Segments []record.Artifact `json:"segments"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
	Stage string `json:"stage,omitempty"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	ActiveRecordings int    `json:"active_recordings"`
	PoolWorkers      int    `json:"pool_workers,omitempty"`
}
