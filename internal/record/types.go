package record

import (
	"errors"
	"time"
)

// State is the lifecycle state of a target's recording session.
type State string

const (
	StateIdle            State = "idle"
	StateStarting        State = "starting"
	StateRecording       State = "recording"
	StateStopping        State = "stopping"
	StateSegmentExpiring State = "segment_expiring"
	StateFinalizing      State = "finalizing"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

var (
	// ErrAlreadyRecording is returned when a start races an existing
	// non-terminal session for the same target. The existing session is
	// never replaced.
	ErrAlreadyRecording = errors.New("recording already active for this target")
	// ErrStartFailed is returned when the first capture segment cannot be
	// spawned.
	ErrStartFailed = errors.New("failed to start recording")
)

// Artifact describes one pulled segment file. Segments from forcefully
// terminated processes are still collected; RetrievalError is set when the
// pull itself failed and the artifact content is unavailable.
type Artifact struct {
	Target         string    `json:"target"`
	SegmentIndex   int       `json:"segment_index"`
	Path           string    `json:"path,omitempty"`
	SizeBytes      int64     `json:"size_bytes"`
	Checksum       string    `json:"checksum,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	RetrievalError string    `json:"retrieval_error,omitempty"`
}

// HandleRef is the caller-visible view of a live session.
type HandleRef struct {
	Target       string    `json:"target"`
	SegmentIndex int       `json:"segment_index"`
	State        State     `json:"state"`
	StartedAt    time.Time `json:"started_at"`
}

// Status is a point-in-time view used by state queries.
type Status struct {
	Target       string        `json:"target"`
	State        State         `json:"state"`
	SegmentIndex int           `json:"segment_index"`
	Segments     int           `json:"segments"`
	StartedAt    time.Time     `json:"started_at"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Config holds the session timing and artifact parameters. All values are
// explicit; Validate in the config package guarantees margin < cap.
type Config struct {
	// SegmentCap is the hard ceiling the capture mechanism enforces on one
	// continuous process.
	SegmentCap time.Duration
	// SegmentMargin is how far below the cap segments are preemptively
	// rolled, so no segment ever reaches the ceiling.
	SegmentMargin time.Duration
	// StopGrace bounds the wait between the interrupt signal and forceful
	// termination.
	StopGrace time.Duration
	// ArtifactDir receives pulled segment files.
	ArtifactDir string
}

// SegmentSink persists finished segment artifacts.
type SegmentSink interface {
	SaveSegment(a Artifact) error
}
