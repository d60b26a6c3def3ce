package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file. Values start from
// Defaults(); the file overrides them. ${VAR} references are expanded from the
// environment before parsing.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	expanded := expandEnvVars(string(data))

	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", absPath, err)
	}
	return cfg, nil
}

// expandEnvVars replaces ${VAR} references with environment values.
// Unset variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// Validate checks cross-field constraints. All timeouts must be explicit and
// finite; the segment margin must leave room below the cap.
func (c *Config) Validate() error {
	if c.Bridge.Binary == "" {
		return fmt.Errorf("bridge.binary is required")
	}
	if c.Pool.Size < 0 {
		return fmt.Errorf("pool.size must not be negative")
	}
	if c.Pool.QueueDepth <= 0 {
		return fmt.Errorf("pool.queue_depth must be positive")
	}
	if c.Batch.MaxInFlight <= 0 {
		return fmt.Errorf("batch.max_in_flight must be positive")
	}
	if c.Batch.CommandTimeout <= 0 {
		return fmt.Errorf("batch.command_timeout must be positive")
	}
	if c.Recording.SegmentCap <= 0 {
		return fmt.Errorf("recording.segment_cap must be positive")
	}
	if c.Recording.SegmentMargin <= 0 {
		return fmt.Errorf("recording.segment_margin must be positive")
	}
	if c.Recording.SegmentMargin >= c.Recording.SegmentCap {
		return fmt.Errorf("recording.segment_margin must be below recording.segment_cap")
	}
	if c.Recording.StopGrace <= 0 {
		return fmt.Errorf("recording.stop_grace must be positive")
	}
	if c.Recording.ArtifactDir == "" {
		return fmt.Errorf("recording.artifact_dir is required")
	}
	if c.State.Path == "" {
		return fmt.Errorf("state.path is required")
	}
	if c.API.Enabled && c.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api.enabled is true")
	}
	return nil
}
