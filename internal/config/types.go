package config

import "time"

// Config represents the complete muster configuration.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	Pool      PoolConfig      `yaml:"pool"`
	Batch     BatchConfig     `yaml:"batch"`
	Recording RecordingConfig `yaml:"recording"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	LockPath string `yaml:"lock_path"`
}

// BridgeConfig defines how the target bridge binary is invoked.
type BridgeConfig struct {
	// Binary is the bridge executable used to reach targets (resolved via PATH
	// if not absolute).
	Binary string `yaml:"binary"`
}

// PoolConfig defines worker pool settings for the task dispatcher.
type PoolConfig struct {
	// Size is the number of workers. Zero means host concurrency.
	Size int `yaml:"size"`
	// QueueDepth is the admission queue capacity for non-blocking submits.
	QueueDepth int `yaml:"queue_depth"`
}

// BatchConfig defines batch command execution settings.
type BatchConfig struct {
	// MaxInFlight caps concurrently executing commands within one batch.
	MaxInFlight int `yaml:"max_in_flight"`
	// CommandTimeout applies per command; a command exceeding it is killed and
	// reported as timed out.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// RecordingConfig defines capture session settings.
type RecordingConfig struct {
	// SegmentCap is the hard ceiling the capture mechanism enforces on one
	// continuous process. Segments must never run past it.
	SegmentCap time.Duration `yaml:"segment_cap"`
	// SegmentMargin is how far below SegmentCap a segment is preemptively
	// rolled over.
	SegmentMargin time.Duration `yaml:"segment_margin"`
	// StopGrace is how long to wait after the interrupt signal before killing.
	StopGrace time.Duration `yaml:"stop_grace"`
	// ArtifactDir is where pulled segment files land.
	ArtifactDir string `yaml:"artifact_dir"`
}

// StateConfig defines state storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// Key is a single bearer token; empty disables auth.
	Key string `yaml:"key"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "muster",
			LogLevel: "info",
			LockPath: "./data/muster.lock",
		},
		Bridge: BridgeConfig{
			Binary: "adb",
		},
		Pool: PoolConfig{
			Size:       0, // host concurrency
			QueueDepth: 64,
		},
		Batch: BatchConfig{
			MaxInFlight:    8,
			CommandTimeout: 30 * time.Second,
		},
		Recording: RecordingConfig{
			SegmentCap:    180 * time.Second,
			SegmentMargin: 10 * time.Second,
			StopGrace:     5 * time.Second,
			ArtifactDir:   "./data/artifacts",
		},
		State: StateConfig{
			Path: "./data/muster.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8674",
		},
	}
}
