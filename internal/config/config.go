// Package config provides configuration for the fleet service.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the fleet service configuration. Values are read from
// FLEET_-prefixed environment variables, except the VLA block which keeps
// the VLA_ prefix used by the inference stack.
type Config struct {
	// Server settings
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"`
	InternalAddr string `envconfig:"INTERNAL_ADDR" default:":8081"`

	// Database
	DatabasePath string `envconfig:"DB_PATH" default:"fleet.db"`

	// Auth settings
	APIKey string `envconfig:"API_KEY"` // empty disables API auth

	// Static dashboard bundle and robot description files
	UIDir   string `envconfig:"UI_DIR"`
	URDFDir string `envconfig:"URDF_DIR" default:"urdf"`

	// WebSocket settings
	PingInterval   time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	WriteTimeout   time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	ReadTimeout    time.Duration `envconfig:"WS_READ_TIMEOUT" default:"60s"`
	MaxMessageSize int64         `envconfig:"WS_MAX_MESSAGE_SIZE" default:"65536"`

	// Fleet settings
	OfflineAfter   time.Duration `envconfig:"OFFLINE_AFTER" default:"30s"`
	CommandTimeout time.Duration `envconfig:"COMMAND_TIMEOUT" default:"60s"`
	TelemetryRing  int           `envconfig:"TELEMETRY_RING" default:"120"`
	ProbeInterval  time.Duration `envconfig:"PROBE_INTERVAL" default:"30s"`

	// External services
	IsaacURL      string        `envconfig:"ISAAC_URL" default:"http://localhost:9080"`
	IsaacTimeout  time.Duration `envconfig:"ISAAC_TIMEOUT" default:"30s"`
	IsaacPoll     time.Duration `envconfig:"ISAAC_POLL" default:"5s"`
	MLflowURL     string        `envconfig:"MLFLOW_URL" default:"http://localhost:5000"`
	MLflowTimeout time.Duration `envconfig:"MLFLOW_TIMEOUT" default:"15s"`

	// Policy and alerting
	PolicyPath string `envconfig:"POLICY_PATH"` // empty uses the built-in policy
	RulesPath  string `envconfig:"RULES_PATH"`  // alert rules YAML, hot-reloaded

	// Kafka event journal (disabled when no brokers are set)
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"fleet-events"`

	// Logging
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	VLA VLAConfig
}

// VLAConfig holds settings for the in-process VLA inference engine.
type VLAConfig struct {
	ModelType        string        `envconfig:"MODEL_TYPE" default:"pi0"`
	ModelVariant     string        `envconfig:"MODEL_VARIANT"`
	Device           string        `envconfig:"DEVICE" default:"cpu"`
	ActionChunkSize  int           `envconfig:"ACTION_CHUNK_SIZE" default:"50"`
	MaxBatchSize     int           `envconfig:"MAX_BATCH_SIZE" default:"8"`
	DenoisingSteps   int           `envconfig:"DENOISING_STEPS" default:"10"`
	PredictTimeout   time.Duration `envconfig:"PREDICT_TIMEOUT" default:"10s"`
	PreloadOnStartup bool          `envconfig:"PRELOAD" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("fleet", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := envconfig.Process("vla", &cfg.VLA); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidModelTypes lists the VLA model types the engine can serve.
var ValidModelTypes = []string{"pi0", "pi0_6", "openvla", "groot"}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var problems []string

	if c.HTTPAddr == "" {
		problems = append(problems, "HTTP_ADDR must not be empty")
	}
	if c.DatabasePath == "" {
		problems = append(problems, "DB_PATH must not be empty")
	}
	if c.OfflineAfter <= 0 {
		problems = append(problems, "OFFLINE_AFTER must be positive")
	}
	if c.CommandTimeout <= 0 {
		problems = append(problems, "COMMAND_TIMEOUT must be positive")
	}
	if c.TelemetryRing <= 0 {
		problems = append(problems, "TELEMETRY_RING must be positive")
	}

	validModel := false
	for _, m := range ValidModelTypes {
		if c.VLA.ModelType == m {
			validModel = true
			break
		}
	}
	if !validModel {
		problems = append(problems, fmt.Sprintf("VLA_MODEL_TYPE %q is not one of %s",
			c.VLA.ModelType, strings.Join(ValidModelTypes, ", ")))
	}
	if c.VLA.ActionChunkSize <= 0 {
		problems = append(problems, "VLA_ACTION_CHUNK_SIZE must be positive")
	}
	if c.VLA.MaxBatchSize <= 0 {
		problems = append(problems, "VLA_MAX_BATCH_SIZE must be positive")
	}

	if len(problems) > 0 {
		return errors.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// JournalEnabled reports whether the Kafka journal should be started.
func (c *Config) JournalEnabled() bool {
	return len(c.KafkaBrokers) > 0
}
