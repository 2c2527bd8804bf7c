package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// OutputFormats lists the values accepted for OutputFormat.
var OutputFormats = []string{"table", "json"}

// Config holds engine and CLI configuration
type Config struct {
	LogLevel      logrus.Level  `yaml:"log_level" json:"log_level" default:"4"` // info
	ScanTimeout   time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"10s"`
	DeviceTimeout time.Duration `yaml:"device_timeout" json:"device_timeout" default:"30s"`
	OutputFormat  string        `yaml:"output_format" json:"output_format" default:"table"`

	// EventBufferSize bounds the per-monitor notification ring. When a
	// consumer falls behind, the oldest values are overwritten.
	EventBufferSize uint32 `yaml:"event_buffer_size" json:"event_buffer_size" default:"256"`

	// DefaultMTU is requested on connect when the caller asks for none.
	// Zero leaves the MTU to the stack.
	DefaultMTU int `yaml:"default_mtu" json:"default_mtu"`

	AllowDuplicates bool `yaml:"allow_duplicates" json:"allow_duplicates"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a yaml file on top of the defaults. Keys missing from the file
// keep their default value.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if !slices.Contains(OutputFormats, c.OutputFormat) {
		return fmt.Errorf("unsupported output format %q (expected one of %v)", c.OutputFormat, OutputFormats)
	}
	if c.EventBufferSize == 0 {
		return fmt.Errorf("event_buffer_size must be positive")
	}
	if c.DefaultMTU < 0 || c.DefaultMTU > 517 {
		return fmt.Errorf("default_mtu %d out of range [0, 517]", c.DefaultMTU)
	}
	if c.ScanTimeout < 0 || c.DeviceTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
