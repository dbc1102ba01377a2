package claimd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for claimd.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	LogLevel      string          `yaml:"log_level"`
	DataDir       string          `yaml:"data_dir"`
	Platform      string          `yaml:"platform"`
	PauseOnStart  bool            `yaml:"pause"`
	ScanInterval  Duration        `yaml:"scan_interval"`
	MaxConcurrent int             `yaml:"max_concurrent"`
	BatchSize     int             `yaml:"batch_size"`
	MaxAttempts   int             `yaml:"max_attempts"`
	RetryDelay    Duration        `yaml:"retry_delay"`
	RetryCooldown Duration        `yaml:"retry_cooldown"`
	RateLimit     float64         `yaml:"rate_limit"`
	RateBurst     int             `yaml:"rate_burst"`
	HistoryLimit  int             `yaml:"history_limit"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig controls the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// DefaultConfig returns a configuration suitable for local development.
func DefaultConfig() Config {
	return Config{
		ListenAddress: ":8681",
		LogLevel:      "info",
		DataDir:       "claimd-data",
		ScanInterval:  Duration{Duration: 5 * time.Second},
		MaxConcurrent: 4,
		BatchSize:     32,
		MaxAttempts:   3,
		RetryDelay:    Duration{Duration: 500 * time.Millisecond},
		RetryCooldown: Duration{Duration: 30 * time.Second},
		RateLimit:     25,
		RateBurst:     5,
		HistoryLimit:  256,
	}
}

// LoadConfig reads configuration from the supplied path, filling unset fields
// with defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: listen address required")
	}
	if c.ScanInterval.Duration <= 0 {
		return fmt.Errorf("config: scan_interval must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("config: max_concurrent must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("config: max_attempts must be positive")
	}
	if c.RetryDelay.Duration < 0 || c.RetryCooldown.Duration < 0 {
		return fmt.Errorf("config: retry delays must not be negative")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("config: rate_limit must be positive")
	}
	if c.HistoryLimit <= 0 {
		return fmt.Errorf("config: history_limit must be positive")
	}
	return nil
}

// PlatformAddress decodes the configured platform authority address.
func (c Config) PlatformAddress() ([20]byte, error) {
	var addr [20]byte
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(c.Platform), "0x"))
	decoded, err := hex.DecodeString(raw)
	if err != nil {
		return addr, fmt.Errorf("config: decode platform address: %w", err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("config: platform address must be %d bytes", len(addr))
	}
	copy(addr[:], decoded)
	return addr, nil
}
