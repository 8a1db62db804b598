// Package config handles configuration loading and validation for tether.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Registry RegistryConfig `yaml:"registry"`
	Commands CommandsConfig `yaml:"commands"`
	DataDir  string         `yaml:"-"` // set by caller, not from config file
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	// PortStart..PortEnd is the range scanned for a free port at startup.
	PortStart int `yaml:"port_start"`
	PortEnd   int `yaml:"port_end"`
	// MaxBodyBytes caps request body size; oversized bodies are rejected
	// with 413 before dispatch.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	// RateLimit enables per-client request throttling.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig throttles inbound requests per client address.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// BridgeConfig holds execution bridge settings.
type BridgeConfig struct {
	// SubmitTimeout bounds how long a producer waits for its result.
	SubmitTimeout time.Duration `yaml:"submit_timeout"`
	// DrainMaxJobs bounds how many jobs one host tick may execute.
	DrainMaxJobs int `yaml:"drain_max_jobs"`
	// TickInterval drives the in-process host loop in serve mode.
	TickInterval time.Duration `yaml:"tick_interval"`
}

// WorkflowConfig holds undo engine settings.
type WorkflowConfig struct {
	// SnapshotCap bounds snapshots per task; captures past the cap are
	// dropped and counted rather than growing without bound.
	SnapshotCap int `yaml:"snapshot_cap"`
}

// RegistryConfig holds multi-instance discovery settings.
type RegistryConfig struct {
	// Path to the shared registry file. Empty means ~/.tether/registry.json.
	Path string `yaml:"path"`
	// Heartbeat is the last-seen refresh interval.
	Heartbeat time.Duration `yaml:"heartbeat"`
	// StaleAfter prunes entries whose liveness cannot be determined and
	// whose heartbeat is older than this. Generous by design so an editor
	// reload does not evict a live instance.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// CommandsConfig filters which registered commands the listener exposes.
// Patterns use doublestar glob syntax against the command name.
type CommandsConfig struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			PortStart:    8090,
			PortEnd:      8099,
			MaxBodyBytes: 1 << 20,
			RateLimit: RateLimitConfig{
				Enabled: false,
				RPS:     30,
				Burst:   60,
			},
		},
		Bridge: BridgeConfig{
			SubmitTimeout: 60 * time.Minute,
			DrainMaxJobs:  64,
			TickInterval:  16 * time.Millisecond,
		},
		Workflow: WorkflowConfig{
			SnapshotCap: 500,
		},
		Registry: RegistryConfig{
			Heartbeat:  30 * time.Second,
			StaleAfter: 10 * time.Minute,
		},
	}
}

// Load reads configPath (if it exists), merges it over defaults, and
// validates the result. dataDir is injected by the caller.
func Load(configPath, dataDir string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.DataDir = dataDir

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}

			// Re-set dataDir since Unmarshal may have cleared it
			cfg.DataDir = dataDir
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills zero values left by a sparse config file.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()
	if c.Server.PortStart == 0 {
		c.Server.PortStart = defaults.Server.PortStart
	}
	if c.Server.PortEnd == 0 {
		c.Server.PortEnd = defaults.Server.PortEnd
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = defaults.Server.MaxBodyBytes
	}
	if c.Server.RateLimit.RPS == 0 {
		c.Server.RateLimit.RPS = defaults.Server.RateLimit.RPS
	}
	if c.Server.RateLimit.Burst == 0 {
		c.Server.RateLimit.Burst = defaults.Server.RateLimit.Burst
	}
	if c.Bridge.SubmitTimeout == 0 {
		c.Bridge.SubmitTimeout = defaults.Bridge.SubmitTimeout
	}
	if c.Bridge.DrainMaxJobs == 0 {
		c.Bridge.DrainMaxJobs = defaults.Bridge.DrainMaxJobs
	}
	if c.Bridge.TickInterval == 0 {
		c.Bridge.TickInterval = defaults.Bridge.TickInterval
	}
	if c.Workflow.SnapshotCap == 0 {
		c.Workflow.SnapshotCap = defaults.Workflow.SnapshotCap
	}
	if c.Registry.Heartbeat == 0 {
		c.Registry.Heartbeat = defaults.Registry.Heartbeat
	}
	if c.Registry.StaleAfter == 0 {
		c.Registry.StaleAfter = defaults.Registry.StaleAfter
	}
	if c.Registry.Path == "" {
		c.Registry.Path = DefaultRegistryPath()
	}
}

// DefaultRegistryPath returns the well-known shared registry file location.
func DefaultRegistryPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".tether", "registry.json")
}

// HistoryPath returns the undo history file location inside the data dir.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.json")
}

// PortFilePath returns where the last bound port is remembered between runs.
func (c *Config) PortFilePath() string {
	return filepath.Join(c.DataDir, "last_port")
}
