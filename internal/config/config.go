// Package config provides configuration loading for braind.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables, with hardcoded defaults underneath.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/yseeku/braind/internal/action"
)

// Config holds the complete braind configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Store         StoreConfig         `koanf:"store"`
	NATS          NATSConfig          `koanf:"nats"`
	Kernel        KernelConfig        `koanf:"kernel"`
	Executor      ExecutorConfig      `koanf:"executor"`
	Override      OverrideConfig      `koanf:"override"`
	Feedback      FeedbackConfig      `koanf:"feedback"`
	Memory        MemoryConfig        `koanf:"memory"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int           `koanf:"http_port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool   `koanf:"enable_telemetry"`
	ServiceName     string `koanf:"service_name"`
	OTLPEndpoint    string `koanf:"otlp_endpoint"`
}

// StoreConfig selects and parameterizes the persistence backend.
type StoreConfig struct {
	// Backend is "sqlite" or "memory".
	Backend string `koanf:"backend"`

	// DataDir holds the SQLite database file.
	DataDir string `koanf:"data_dir"`
}

// NATSConfig holds the cycle-ingestion and alert transport settings.
type NATSConfig struct {
	Enabled            bool   `koanf:"enabled"`
	URL                string `koanf:"url"`
	Token              Secret `koanf:"token"`
	CycleSubjectPrefix string `koanf:"cycle_subject_prefix"`
	AlertSubjectPrefix string `koanf:"alert_subject_prefix"`
}

// KernelConfig holds the constraint checker policy.
type KernelConfig struct {
	ProtectedTargets []string `koanf:"protected_targets"`
	MinReasonLength  int      `koanf:"min_reason_length"`
	BanRatePerHour   int      `koanf:"ban_rate_per_hour"`
}

// ExecutorConfig holds the action executor policy.
type ExecutorConfig struct {
	DefaultThreshold   float64 `koanf:"default_threshold"`
	ThresholdStep      float64 `koanf:"threshold_step"`
	DefaultBanSeverity string  `koanf:"default_ban_severity"`
}

// OverrideConfig holds the review workflow policy.
type OverrideConfig struct {
	MinJustificationLength int `koanf:"min_justification_length"`
}

// FeedbackConfig holds the effectiveness scoring policy.
type FeedbackConfig struct {
	MinSampleSize int `koanf:"min_sample_size"`
}

// MemoryConfig holds the memory store policy.
type MemoryConfig struct {
	DefaultRecallLimit int `koanf:"default_recall_limit"`
}

// Load loads configuration from environment variables with defaults.
// LoadWithFile layers a YAML file underneath; this path is env-only.
func Load() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvInt("SERVER_PORT", 9090),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			EnableTelemetry: getEnvBool("OTEL_ENABLE", true),
			ServiceName:     getEnvString("OTEL_SERVICE_NAME", "braind"),
			OTLPEndpoint:    getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		},
		Store: StoreConfig{
			Backend: getEnvString("STORE_BACKEND", "sqlite"),
			DataDir: getEnvString("STORE_DATA_DIR", defaultDataDir()),
		},
		NATS: NATSConfig{
			Enabled:            getEnvBool("NATS_ENABLED", false),
			URL:                getEnvString("NATS_URL", "nats://localhost:4222"),
			Token:              Secret(os.Getenv("NATS_TOKEN")),
			CycleSubjectPrefix: getEnvString("NATS_CYCLE_SUBJECT_PREFIX", "brain.cycle"),
			AlertSubjectPrefix: getEnvString("NATS_ALERT_SUBJECT_PREFIX", "brain.alerts"),
		},
		Kernel: KernelConfig{
			MinReasonLength: getEnvInt("KERNEL_MIN_REASON_LENGTH", 10),
			BanRatePerHour:  getEnvInt("KERNEL_BAN_RATE_PER_HOUR", 3),
		},
		Executor: ExecutorConfig{
			DefaultThreshold:   getEnvFloat("EXECUTOR_DEFAULT_THRESHOLD", 75),
			ThresholdStep:      getEnvFloat("EXECUTOR_THRESHOLD_STEP", 5),
			DefaultBanSeverity: getEnvString("EXECUTOR_DEFAULT_BAN_SEVERITY", string(action.SeverityMedium)),
		},
		Override: OverrideConfig{
			MinJustificationLength: getEnvInt("OVERRIDE_MIN_JUSTIFICATION_LENGTH", 10),
		},
		Feedback: FeedbackConfig{
			MinSampleSize: getEnvInt("FEEDBACK_MIN_SAMPLE_SIZE", 5),
		},
		Memory: MemoryConfig{
			DefaultRecallLimit: getEnvInt("MEMORY_DEFAULT_RECALL_LIMIT", 10),
		},
	}

	return cfg
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	switch c.Store.Backend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q (must be sqlite or memory)", c.Store.Backend)
	}
	if c.Store.Backend == "sqlite" && c.Store.DataDir == "" {
		return errors.New("data dir required for sqlite backend")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		return errors.New("NATS URL required when NATS is enabled")
	}

	switch action.Severity(c.Executor.DefaultBanSeverity) {
	case action.SeverityLow, action.SeverityMedium, action.SeverityHigh, action.SeverityCritical:
	default:
		return fmt.Errorf("unknown default ban severity %q", c.Executor.DefaultBanSeverity)
	}
	if c.Executor.ThresholdStep <= 0 {
		return errors.New("threshold step must be positive")
	}

	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return home + "/.local/share/braind"
}

// Helper functions for environment variable parsing

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}
