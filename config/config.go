package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/freekieb7/embedweb/validation"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigFile        = "EMBEDWEB_CONFIG"
	EnvHost              = "EMBEDWEB_HOST"
	EnvPort              = "EMBEDWEB_PORT"
	EnvLogLevel          = "EMBEDWEB_LOG_LEVEL"
	EnvStorageRoot       = "EMBEDWEB_STORAGE_ROOT"
	EnvMaxLineBytes      = "EMBEDWEB_MAX_LINE_BYTES"
	EnvTelemetryEnabled  = "EMBEDWEB_TELEMETRY_ENABLED"
	EnvTelemetryEndpoint = "EMBEDWEB_TELEMETRY_ENDPOINT"
	EnvServiceName       = "OTEL_SERVICE_NAME"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Name string `yaml:"name"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MaxLineBytes caps request and header lines. 0 disables the cap.
	MaxLineBytes  int    `yaml:"max_line_bytes"`
	BodyChunkSize int    `yaml:"body_chunk_size"`
	LogLevel      string `yaml:"log_level"`
}

type StorageConfig struct {
	Root string `yaml:"root"`

	// Leftover temporary upload files older than TempMaxAge are removed every SweepInterval.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	TempMaxAge    time.Duration `yaml:"temp_max_age"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // OTLP gRPC collector, host:port
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:          "embedweb",
			Host:          "0.0.0.0",
			Port:          80,
			MaxLineBytes:  8 * 1024,
			BodyChunkSize: 128,
			LogLevel:      "info",
		},
		Storage: StorageConfig{
			Root:          "data",
			SweepInterval: 10 * time.Minute,
			TempMaxAge:    time.Hour,
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Insecure:    true,
			ServiceName: "embedweb",
		},
	}
}

// Load starts from Default, applies the YAML file named by EMBEDWEB_CONFIG when set,
// then environment overrides, and validates the result.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Host = getEnvOrDefault(EnvHost, c.Server.Host)
	c.Server.LogLevel = getEnvOrDefault(EnvLogLevel, c.Server.LogLevel)
	c.Storage.Root = getEnvOrDefault(EnvStorageRoot, c.Storage.Root)
	c.Telemetry.ServiceName = getEnvOrDefault(EnvServiceName, c.Telemetry.ServiceName)

	var err error
	if c.Server.Port, err = getEnvAsIntOrDefault(EnvPort, c.Server.Port); err != nil {
		return err
	}
	if c.Server.MaxLineBytes, err = getEnvAsIntOrDefault(EnvMaxLineBytes, c.Server.MaxLineBytes); err != nil {
		return err
	}

	if endpoint := os.Getenv(EnvTelemetryEndpoint); endpoint != "" {
		c.Telemetry.Endpoint = endpoint
		c.Telemetry.Enabled = true
	}
	if value := os.Getenv(EnvTelemetryEnabled); value != "" {
		if !validation.ValidateBoolean(value) {
			return fmt.Errorf("config: %s must be a boolean, got %q", EnvTelemetryEnabled, value)
		}
		c.Telemetry.Enabled = validation.ValidateTrue(value)
	}

	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	violations := validation.NewViolations()

	violations.Required("server.name", c.Server.Name)
	violations.Between("server.port", c.Server.Port, 0, 65535)
	violations.Between("server.max_line_bytes", c.Server.MaxLineBytes, 0, 1<<20)
	violations.Between("server.body_chunk_size", c.Server.BodyChunkSize, 1, 1<<16)
	violations.OneOf("server.log_level", c.Server.LogLevel, "debug", "info", "warn", "error")
	violations.Required("storage.root", c.Storage.Root)

	if c.Storage.SweepInterval < 0 {
		violations.Add("storage.sweep_interval", fmt.Errorf("must not be negative"))
	}
	if c.Telemetry.Enabled {
		violations.Required("telemetry.endpoint", c.Telemetry.Endpoint)
		violations.Required("telemetry.service_name", c.Telemetry.ServiceName)
	}

	return violations.Err()
}

// Address is the listen address, host:port.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// Level maps LogLevel onto a slog level, defaulting to info.
func (c ServerConfig) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer, got %q", key, value)
	}
	return n, nil
}
