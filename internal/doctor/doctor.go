// Package doctor validates muster configuration and the host environment
// before the daemon starts.
package doctor

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mattjoyce/muster/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// Doctor validates a loaded configuration against the host it will run on.
type Doctor struct {
	cfg *config.Config
}

func New(cfg *config.Config) *Doctor {
	return &Doctor{cfg: cfg}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate() *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateBridge(r)
	d.validateTimings(r)
	d.validateArtifactDir(r)
	d.validateAPIConfig(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.Service.LockPath == "" {
		d.addError(r, "service", "service.lock_path", "lock_path is required")
	}
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Pool.QueueDepth < 0 {
		d.addError(r, "service", "pool.queue_depth", "queue_depth cannot be negative")
	}
}

// validateBridge checks that the bridge binary is actually reachable; a
// missing binary means every target operation would fail at spawn time.
func (d *Doctor) validateBridge(r *Result) {
	binary := d.cfg.Bridge.Binary
	if binary == "" {
		d.addError(r, "bridge", "bridge.binary", "bridge.binary is required")
		return
	}
	if _, err := exec.LookPath(binary); err != nil {
		d.addError(r, "bridge", "bridge.binary",
			fmt.Sprintf("bridge binary %q not found: %v", binary, err))
	}
}

func (d *Doctor) validateTimings(r *Result) {
	rec := d.cfg.Recording
	if rec.SegmentCap <= 0 {
		d.addError(r, "recording", "recording.segment_cap", "segment_cap must be positive")
	}
	if rec.SegmentMargin <= 0 {
		d.addError(r, "recording", "recording.segment_margin", "segment_margin must be positive")
	}
	if rec.SegmentMargin >= rec.SegmentCap {
		d.addError(r, "recording", "recording.segment_margin",
			"segment_margin must be smaller than segment_cap or segments can never roll in time")
	}
	if rec.StopGrace <= 0 {
		d.addError(r, "recording", "recording.stop_grace", "stop_grace must be positive")
	}
	if d.cfg.Batch.CommandTimeout <= 0 {
		d.addError(r, "batch", "batch.command_timeout", "command_timeout must be positive")
	}
	if d.cfg.Batch.MaxInFlight <= 0 {
		d.addError(r, "batch", "batch.max_in_flight", "max_in_flight must be positive")
	}
}

// validateArtifactDir probes that the artifact directory can be created and
// written to, so pull failures at runtime are not just permission mistakes.
func (d *Doctor) validateArtifactDir(r *Result) {
	dir := d.cfg.Recording.ArtifactDir
	if dir == "" {
		d.addError(r, "recording", "recording.artifact_dir", "artifact_dir is required")
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		d.addError(r, "recording", "recording.artifact_dir",
			fmt.Sprintf("cannot create artifact_dir %q: %v", dir, err))
		return
	}
	probe := filepath.Join(dir, ".muster-doctor")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		d.addError(r, "recording", "recording.artifact_dir",
			fmt.Sprintf("artifact_dir %q is not writable: %v", dir, err))
		return
	}
	_ = os.Remove(probe)
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	}
	if d.cfg.API.Key == "" {
		d.addWarning(r, "api", "api.key", "API enabled but no key configured; requests are unauthenticated")
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
