package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Stream   StreamConfig   `yaml:"stream"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Recorder RecorderConfig `yaml:"recorder"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig contains instrument endpoint configuration
type DeviceConfig struct {
	BaseURL      string `yaml:"base_url"`
	WebSocketURL string `yaml:"websocket_url"`
	SCPIAddress  string `yaml:"scpi_address"`
	DataAddress  string `yaml:"data_address"`
	Transport    string `yaml:"transport"` // "websocket" or "tcp"
	Timeout      int    `yaml:"timeout"`   // seconds
	MaxRetries   int    `yaml:"max_retries"`
}

// StreamConfig contains stream reassembly configuration
type StreamConfig struct {
	AscanLength    int  `yaml:"ascan_length"` // samples
	ReadFromDevice bool `yaml:"read_from_device"`
}

// AnalysisConfig contains A-scan analysis configuration
type AnalysisConfig struct {
	Enabled         bool    `yaml:"enabled"`
	SamplingFreqMHz float64 `yaml:"sampling_freq_mhz"`
	ThresholdRatio  float64 `yaml:"threshold_ratio"`
}

// RecorderConfig contains CSV recording configuration
type RecorderConfig struct {
	Enabled    bool   `yaml:"enabled"`
	OutputPath string `yaml:"output_path"`
	MaxPackets int    `yaml:"max_packets"` // 0 = unlimited
}

// HTTPConfig contains monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Analysis.Validate(); err != nil {
		return fmt.Errorf("analysis config: %w", err)
	}

	if err := c.Recorder.Validate(); err != nil {
		return fmt.Errorf("recorder config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	switch d.Transport {
	case "websocket":
		if d.WebSocketURL == "" {
			return fmt.Errorf("websocket_url cannot be empty for websocket transport")
		}
	case "tcp":
		if d.DataAddress == "" && d.SCPIAddress == "" {
			return fmt.Errorf("tcp transport needs data_address or scpi_address for port discovery")
		}
	default:
		return fmt.Errorf("transport must be 'websocket' or 'tcp', got '%s'", d.Transport)
	}

	if d.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", d.Timeout)
	}

	if d.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", d.MaxRetries)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.ReadFromDevice {
		// Length comes from the instrument at startup.
		return nil
	}

	if s.AscanLength < 1 || s.AscanLength > 65536 {
		return fmt.Errorf("ascan_length must be between 1 and 65536 samples, got %d", s.AscanLength)
	}

	return nil
}

// Validate validates analysis configuration
func (a *AnalysisConfig) Validate() error {
	if !a.Enabled {
		return nil
	}

	if a.SamplingFreqMHz <= 0 {
		return fmt.Errorf("sampling_freq_mhz must be positive, got %f", a.SamplingFreqMHz)
	}

	if a.ThresholdRatio < 0 || a.ThresholdRatio >= 1 {
		return fmt.Errorf("threshold_ratio must be between 0 and 1 (exclusive), got %f", a.ThresholdRatio)
	}

	return nil
}

// Validate validates recorder configuration
func (r *RecorderConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if r.OutputPath == "" {
		return fmt.Errorf("output_path cannot be empty when recording is enabled")
	}

	if r.MaxPackets < 0 {
		return fmt.Errorf("max_packets cannot be negative, got %d", r.MaxPackets)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetTimeoutDuration returns the device timeout as a time.Duration
func (d *DeviceConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(d.Timeout) * time.Second
}
