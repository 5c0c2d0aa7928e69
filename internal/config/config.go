// Package config loads the World Kernel's per-subsystem settings from
// the environment, the way infrastructure/config's typed loader
// helpers do for the teacher's services: thin Env*OrDefault wrappers
// plus a Config struct per subsystem, each normalized independently.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvOrDefault returns the trimmed value of key, or def if unset/blank.
func EnvOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// EnvIntOrDefault parses key as an int, or returns def if unset/invalid.
func EnvIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

// EnvInt64OrDefault parses key as an int64, or returns def if unset/invalid.
func EnvInt64OrDefault(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

// EnvBoolOrDefault parses key as a bool, or returns def if unset/invalid.
func EnvBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

// EnvDurationOrDefault parses key with time.ParseDuration, or returns
// def if unset/invalid.
func EnvDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}

// LoggingConfig controls the kernel process's structured logging.
type LoggingConfig struct {
	Service string
	Level   string
	Format  string
}

func (c *LoggingConfig) normalize() {
	if c.Service == "" {
		c.Service = "worldkernel"
	}
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// JournalConfig mirrors internal/journal.Config's hot/cold rotation
// thresholds so they can be set from the environment without the
// config package importing internal/journal (avoiding an import cycle
// with packages journal itself depends on).
type JournalConfig struct {
	HotMaxRecords       int
	ColdSegmentMaxLines int
}

func (c *JournalConfig) normalize() {
	if c.HotMaxRecords <= 0 {
		c.HotMaxRecords = 4096
	}
	if c.ColdSegmentMaxLines <= 0 {
		c.ColdSegmentMaxLines = 256
	}
}

// SandboxConfig holds the default per-call resource limits applied to
// modules that don't declare tighter limits of their own in their
// manifest, per spec.md §4.7's max_gas/max_mem_bytes/etc.
type SandboxConfig struct {
	MaxGas         int64
	MaxMemBytes    int64
	MaxOutputBytes int64
	MaxEffects     int
	MaxEmits       int
}

func (c *SandboxConfig) normalize() {
	if c.MaxGas <= 0 {
		c.MaxGas = 10_000_000
	}
	if c.MaxMemBytes <= 0 {
		c.MaxMemBytes = 64 * 1024 * 1024
	}
	if c.MaxOutputBytes <= 0 {
		c.MaxOutputBytes = 1024 * 1024
	}
	if c.MaxEffects <= 0 {
		c.MaxEffects = 32
	}
	if c.MaxEmits <= 0 {
		c.MaxEmits = 32
	}
}

// SequencerConfig carries the subset of internal/sequencer.Config that
// is naturally environment-driven (identity and lease TTL); signer
// material and batch/mempool tuning are wired by the host process
// since they aren't simple scalars.
type SequencerConfig struct {
	WorldID    string
	NodeID     string
	LeaseTTLMs int64
}

func (c *SequencerConfig) normalize() {
	if c.WorldID == "" {
		c.WorldID = "w1"
	}
	if c.NodeID == "" {
		c.NodeID = "sequencer-1"
	}
	if c.LeaseTTLMs <= 0 {
		c.LeaseTTLMs = 5000
	}
}

// StorageConfig points at the on-disk roots the CLI and host process
// use for content-addressed blobs and snapshot files, per spec.md §6's
// Files section.
type StorageConfig struct {
	CASRoot       string
	SnapshotsRoot string
}

func (c *StorageConfig) normalize() {
	if c.CASRoot == "" {
		c.CASRoot = "data/cas"
	}
	if c.SnapshotsRoot == "" {
		c.SnapshotsRoot = "data/snapshots"
	}
}

// MetricsConfig controls the optional Prometheus exporter.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

func (c *MetricsConfig) normalize() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
}

// Config is the World Kernel process's full configuration, one struct
// per subsystem, each independently normalized.
type Config struct {
	Logging   LoggingConfig
	Journal   JournalConfig
	Sandbox   SandboxConfig
	Sequencer SequencerConfig
	Storage   StorageConfig
	Metrics   MetricsConfig
}

// Normalize fills every subsystem's zero-valued fields with defaults,
// the way applications/jam.Config.Normalize does for a single struct.
func (c *Config) Normalize() {
	c.Logging.normalize()
	c.Journal.normalize()
	c.Sandbox.normalize()
	c.Sequencer.normalize()
	c.Storage.normalize()
	c.Metrics.normalize()
}

// Load reads Config from the process environment, filling unset
// fields with the package defaults.
func Load() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Service: EnvOrDefault("WORLDKERNEL_SERVICE", "worldkernel"),
			Level:   EnvOrDefault("LOG_LEVEL", "info"),
			Format:  EnvOrDefault("LOG_FORMAT", "text"),
		},
		Journal: JournalConfig{
			HotMaxRecords:       EnvIntOrDefault("JOURNAL_HOT_MAX_RECORDS", 4096),
			ColdSegmentMaxLines: EnvIntOrDefault("JOURNAL_COLD_SEGMENT_MAX_LINES", 256),
		},
		Sandbox: SandboxConfig{
			MaxGas:         EnvInt64OrDefault("SANDBOX_MAX_GAS", 10_000_000),
			MaxMemBytes:    EnvInt64OrDefault("SANDBOX_MAX_MEM_BYTES", 64*1024*1024),
			MaxOutputBytes: EnvInt64OrDefault("SANDBOX_MAX_OUTPUT_BYTES", 1024*1024),
			MaxEffects:     EnvIntOrDefault("SANDBOX_MAX_EFFECTS", 32),
			MaxEmits:       EnvIntOrDefault("SANDBOX_MAX_EMITS", 32),
		},
		Sequencer: SequencerConfig{
			WorldID:    EnvOrDefault("SEQUENCER_WORLD_ID", "w1"),
			NodeID:     EnvOrDefault("SEQUENCER_NODE_ID", "sequencer-1"),
			LeaseTTLMs: EnvInt64OrDefault("SEQUENCER_LEASE_TTL_MS", 5000),
		},
		Storage: StorageConfig{
			CASRoot:       EnvOrDefault("WORLDKERNEL_CAS_ROOT", "data/cas"),
			SnapshotsRoot: EnvOrDefault("WORLDKERNEL_SNAPSHOTS_ROOT", "data/snapshots"),
		},
		Metrics: MetricsConfig{
			Enabled: EnvBoolOrDefault("METRICS_ENABLED", false),
			Addr:    EnvOrDefault("METRICS_ADDR", ":9090"),
		},
	}
	cfg.Normalize()
	return cfg
}
