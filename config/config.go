package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WALConfig holds Write-Ahead Log specific configurations.
type WALConfig struct {
	Dir                 string `yaml:"dir"`
	SyncMode            string `yaml:"sync_mode"` // "always" or "disabled"
	MaxSegmentSizeBytes int64  `yaml:"max_segment_size_bytes"`
	MaxSegmentAge       string `yaml:"max_segment_age"` // "0" disables age-based rotation
	PreallocateSegments bool   `yaml:"preallocate_segments"`
}

// MinioConfig holds connection settings for a MinIO / S3-compatible store.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// ObjectStoreConfig holds object-store replication configurations.
type ObjectStoreConfig struct {
	Enabled bool `yaml:"enabled"`
	// Backend selects the store implementation: "memory", "local" or "minio".
	Backend           string      `yaml:"backend"`
	LocalRoot         string      `yaml:"local_root"` // for the "local" backend
	Minio             MinioConfig `yaml:"minio"`
	SyncInterval      string      `yaml:"sync_interval"`
	Compression       string      `yaml:"compression"` // "none", "snappy", "lz4", "zstd"
	UploadConcurrency int         `yaml:"upload_concurrency"`
}

// GitConfig holds git manifest replication configurations. An empty repo_path
// leaves git sync unconfigured.
type GitConfig struct {
	RepoPath     string `yaml:"repo_path"`
	Push         bool   `yaml:"push"`
	RemoteName   string `yaml:"remote_name"`
	AuthorName   string `yaml:"author_name"`
	AuthorEmail  string `yaml:"author_email"`
	SyncInterval string `yaml:"sync_interval"`
}

// PrunerConfig holds retention reconciliation configurations.
type PrunerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ListenAddress    string `yaml:"listen_address"`
	PProfEnabled     bool   `yaml:"pprof_enabled"`
	MetricsEnabled   bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled bool   `yaml:"monitor_ui_enabled"`
}

type SelfMonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// Config is the top-level configuration struct.
type Config struct {
	WAL            WALConfig            `yaml:"wal"`
	ObjectStore    ObjectStoreConfig    `yaml:"object_store"`
	Git            GitConfig            `yaml:"git"`
	Pruner         PrunerConfig         `yaml:"pruner"`
	Logging        LoggingConfig        `yaml:"logging"`
	Debug          DebugConfig          `yaml:"debug"`
	SelfMonitoring SelfMonitoringConfig `yaml:"self_monitoring"`
	Tracing        TracingConfig        `yaml:"tracing"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		WAL: WALConfig{
			Dir:                 "./data/wal",
			SyncMode:            "always",
			MaxSegmentSizeBytes: 128 * 1024 * 1024, // 128 MiB
			MaxSegmentAge:       "0",
			PreallocateSegments: false,
		},
		ObjectStore: ObjectStoreConfig{
			Enabled:           true,
			Backend:           "local",
			LocalRoot:         "./data/remote",
			SyncInterval:      "30s",
			Compression:       "snappy",
			UploadConcurrency: 4,
			Minio: MinioConfig{
				Endpoint: "localhost:9000",
				Bucket:   "walvault",
				Prefix:   "walvault",
				UseSSL:   false,
			},
		},
		Git: GitConfig{
			RepoPath:     "",
			Push:         false,
			RemoteName:   "origin",
			AuthorName:   "walvault",
			AuthorEmail:  "walvault@localhost",
			SyncInterval: "60s",
		},
		Pruner: PrunerConfig{
			Enabled:  true,
			Interval: "60s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "walvault.log",
		},
		Debug: DebugConfig{
			Enabled:          true,
			ListenAddress:    "0.0.0.0:6060",
			PProfEnabled:     true,
			MetricsEnabled:   true,
			MonitorUIEnabled: true,
		},
		SelfMonitoring: SelfMonitoringConfig{
			Enabled:  true,
			Interval: "15s",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	// Read all data from the reader
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	// If data is empty, return defaults.
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
