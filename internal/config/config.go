// Package config loads the broker's typed startup configuration from
// JSON, YAML, or environment variable overrides.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ClusterConfig holds §4.8/§6 cluster router settings.
type ClusterConfig struct {
	ShardCount               int           `json:"shard_count" yaml:"shard_count"`
	VirtualNodes             int           `json:"virtual_nodes" yaml:"virtual_nodes"`
	HeartbeatInterval        time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatFlapProbability float64       `json:"heartbeat_flap_prob" yaml:"heartbeat_flap_prob"`
	MinReplicationAcks       int           `json:"min_replication_acks" yaml:"min_replication_acks"`
}

// MetricsConfig holds §6 metrics sampler settings.
type MetricsConfig struct {
	WindowMs    int64 `json:"window_ms" yaml:"window_ms"`
	LatencyRing int   `json:"latency_ring" yaml:"latency_ring"`
}

// SchedulerConfig holds §6 scheduler tick settings.
type SchedulerConfig struct {
	TickMs int64 `json:"tick_ms" yaml:"tick_ms"`
}

// DeadLetterConfig holds §6 dead-letter monitor settings.
type DeadLetterConfig struct {
	MonitorIntervalMs int64 `json:"monitor_interval_ms" yaml:"monitor_interval_ms"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`
	ServiceName string  `json:"service_name" yaml:"service_name"`
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// PostgresConfig holds the optional WAL-mirror Postgres DSN.
type PostgresConfig struct {
	DSN string `json:"dsn" yaml:"dsn"`
}

// Config is the central configuration struct embedding every
// component config.
type Config struct {
	Cluster    ClusterConfig    `json:"cluster" yaml:"cluster"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics"`
	Scheduler  SchedulerConfig  `json:"scheduler" yaml:"scheduler"`
	DeadLetter DeadLetterConfig `json:"dead_letter" yaml:"dead_letter"`
	Tracing    TracingConfig    `json:"tracing" yaml:"tracing"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Postgres   PostgresConfig   `json:"postgres" yaml:"postgres"`
}

// DefaultConfig returns a Config with the defaults named throughout
// §4 and §6.
func DefaultConfig() *Config {
	return &Config{
		Cluster: ClusterConfig{
			ShardCount:               1,
			VirtualNodes:             128,
			HeartbeatInterval:        10 * time.Second,
			HeartbeatFlapProbability: 0,
			MinReplicationAcks:       0,
		},
		Metrics: MetricsConfig{
			WindowMs:    60_000,
			LatencyRing: 512,
		},
		Scheduler: SchedulerConfig{
			TickMs: 0, // 0 means "sleep until next due task", the scheduler's own default
		},
		DeadLetter: DeadLetterConfig{
			MonitorIntervalMs: 60_000,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Exporter:    "otlp-http",
			Endpoint:    "localhost:4318",
			ServiceName: "helianthus",
			SampleRate:  1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Postgres: PostgresConfig{
			DSN: "",
		},
	}
}

// LoadFromFile loads configuration from a JSON file, starting from
// DefaultConfig and overlaying whatever fields the file specifies.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromYAML loads configuration from a YAML file, starting from
// DefaultConfig and overlaying whatever fields the file specifies.
func LoadFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to cfg.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("HELIANTHUS_SHARD_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.ShardCount = n
		}
	}
	if v := os.Getenv("HELIANTHUS_VIRTUAL_NODES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.VirtualNodes = n
		}
	}
	if v := os.Getenv("HELIANTHUS_HEARTBEAT_FLAP_PROB"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cluster.HeartbeatFlapProbability = f
		}
	}
	if v := os.Getenv("HELIANTHUS_MIN_REPLICATION_ACKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Cluster.MinReplicationAcks = n
		}
	}
	if v := os.Getenv("HELIANTHUS_METRICS_WINDOW_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Metrics.WindowMs = n
		}
	}
	if v := os.Getenv("HELIANTHUS_METRICS_LATENCY_RING"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Metrics.LatencyRing = n
		}
	}
	if v := os.Getenv("HELIANTHUS_SCHEDULER_TICK_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Scheduler.TickMs = n
		}
	}
	if v := os.Getenv("HELIANTHUS_DLQ_MONITOR_INTERVAL_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.DeadLetter.MonitorIntervalMs = n
		}
	}
	if v := os.Getenv("HELIANTHUS_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = parseBool(v)
	}
	if v := os.Getenv("HELIANTHUS_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("HELIANTHUS_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("HELIANTHUS_TRACING_SAMPLE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracing.SampleRate = f
		}
	}
	if v := os.Getenv("HELIANTHUS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HELIANTHUS_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("HELIANTHUS_PG_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
