// Package config provides configuration loading for assessd.
//
// Configuration is assembled from defaults, an optional YAML file, and
// ASSESSD_* environment variables, then validated once at load time.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Breakpoint reviewer channels.
const (
	ChannelMemory   = "memory"
	ChannelNATS     = "nats"
	ChannelHTTP     = "http"
	ChannelTemporal = "temporal"
)

// Invocation record stores.
const (
	RecordStoreNone   = "none"
	RecordStoreMemory = "memory"
	RecordStoreSQLite = "sqlite"
)

// Config holds the complete assessd configuration.
type Config struct {
	Orchestrator  OrchestratorConfig  `koanf:"orchestrator"`
	Dispatch      DispatchConfig      `koanf:"dispatch"`
	Breakpoint    BreakpointConfig    `koanf:"breakpoint"`
	NATS          NATSConfig          `koanf:"nats"`
	Temporal      TemporalConfig      `koanf:"temporal"`
	Server        ServerConfig        `koanf:"server"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// OrchestratorConfig controls run execution.
type OrchestratorConfig struct {
	// MaxParallelism caps concurrent dispatches in a parallel phase that
	// declares no limit of its own. Zero means unbounded.
	MaxParallelism int  `koanf:"max_parallelism"`
	ArchiveRuns    bool `koanf:"archive_runs"`
}

// DispatchConfig controls task dispatch.
type DispatchConfig struct {
	DefaultTimeout Duration `koanf:"default_timeout"`
	RatePerSecond  float64  `koanf:"rate_per_second"` // 0 disables throttling
	Burst          int      `koanf:"burst"`
	RecordStore    string   `koanf:"record_store"`
	RecordPath     string   `koanf:"record_path"`
}

// BreakpointConfig controls breakpoint suspension.
type BreakpointConfig struct {
	// Timeout of zero waits for a resolution indefinitely.
	Timeout Duration `koanf:"timeout"`
	Channel string   `koanf:"channel"`
	// ScrubSecrets runs published context and reviewer comments through
	// the secret detector. SecretAllowList patterns are never redacted.
	ScrubSecrets    bool     `koanf:"scrub_secrets"`
	SecretAllowList []string `koanf:"secret_allow_list"`
	// Retain is how many settled breakpoints stay visible through the API.
	Retain int `koanf:"retain"`
}

// NATSConfig holds NATS connection settings for the executor and reviewer transports.
type NATSConfig struct {
	URL                     string `koanf:"url"`
	Token                   Secret `koanf:"token"`
	TaskSubjectPrefix       string `koanf:"task_subject_prefix"`
	BreakpointSubjectPrefix string `koanf:"breakpoint_subject_prefix"`
}

// TemporalConfig holds settings for the durable review workflow.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	Endpoint        string  `koanf:"endpoint"`
	Protocol        string  `koanf:"protocol"`
	Insecure        bool    `koanf:"insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig selects log level and encoding.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxParallelism: 0,
			ArchiveRuns:    true,
		},
		Dispatch: DispatchConfig{
			DefaultTimeout: Duration(5 * time.Minute),
			RatePerSecond:  0,
			Burst:          1,
			RecordStore:    RecordStoreMemory,
		},
		Breakpoint: BreakpointConfig{
			Timeout:      0,
			Channel:      ChannelHTTP,
			ScrubSecrets: true,
			Retain:       256,
		},
		NATS: NATSConfig{
			URL:                     "nats://127.0.0.1:4222",
			TaskSubjectPrefix:       "assessd.tasks",
			BreakpointSubjectPrefix: "breakpoints",
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "assessd-reviews",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: false,
			ServiceName:     "assessd",
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			SampleRate:      1.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Orchestrator.MaxParallelism < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.max_parallelism must be >= 0, got %d", c.Orchestrator.MaxParallelism))
	}

	if c.Dispatch.DefaultTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("dispatch.default_timeout must be positive"))
	}
	if c.Dispatch.RatePerSecond < 0 {
		errs = append(errs, fmt.Errorf("dispatch.rate_per_second must be >= 0, got %v", c.Dispatch.RatePerSecond))
	}
	if c.Dispatch.RatePerSecond > 0 && c.Dispatch.Burst < 1 {
		errs = append(errs, errors.New("dispatch.burst must be >= 1 when throttling is enabled"))
	}
	switch c.Dispatch.RecordStore {
	case RecordStoreNone, RecordStoreMemory:
	case RecordStoreSQLite:
		if c.Dispatch.RecordPath == "" {
			errs = append(errs, errors.New("dispatch.record_path is required for the sqlite record store"))
		}
	default:
		errs = append(errs, fmt.Errorf("dispatch.record_store must be one of none|memory|sqlite, got %q", c.Dispatch.RecordStore))
	}

	switch c.Breakpoint.Channel {
	case ChannelMemory, ChannelNATS, ChannelHTTP, ChannelTemporal:
	default:
		errs = append(errs, fmt.Errorf("breakpoint.channel must be one of memory|nats|http|temporal, got %q", c.Breakpoint.Channel))
	}

	if c.Breakpoint.Retain < 0 {
		errs = append(errs, fmt.Errorf("breakpoint.retain must be >= 0, got %d", c.Breakpoint.Retain))
	}

	if c.Breakpoint.Channel == ChannelNATS && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required for the nats breakpoint channel"))
	}
	if c.NATS.TaskSubjectPrefix == "" {
		errs = append(errs, errors.New("nats.task_subject_prefix cannot be empty"))
	}
	if c.NATS.BreakpointSubjectPrefix == "" {
		errs = append(errs, errors.New("nats.breakpoint_subject_prefix cannot be empty"))
	}

	if c.Breakpoint.Channel == ChannelTemporal {
		if c.Temporal.HostPort == "" {
			errs = append(errs, errors.New("temporal.host_port is required for the temporal breakpoint channel"))
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, errors.New("temporal.task_queue is required for the temporal breakpoint channel"))
		}
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	if c.Observability.EnableTelemetry {
		if c.Observability.ServiceName == "" {
			errs = append(errs, errors.New("service name required when telemetry is enabled"))
		}
		if c.Observability.Protocol != "grpc" && c.Observability.Protocol != "http/protobuf" {
			errs = append(errs, fmt.Errorf("observability.protocol must be grpc or http/protobuf, got %q", c.Observability.Protocol))
		}
	}
	if c.Observability.SampleRate < 0 || c.Observability.SampleRate > 1 {
		errs = append(errs, fmt.Errorf("observability.sample_rate must be between 0 and 1, got %v", c.Observability.SampleRate))
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}
