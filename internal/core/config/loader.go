package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3999
	}
	if c.Observer.Network == "" {
		c.Observer.Network = "devnet"
	}
	if c.Observer.MaxReconnectAttempts == 0 {
		c.Observer.MaxReconnectAttempts = 5
	}
	if c.Observer.ReconnectBaseDelayMs == 0 {
		c.Observer.ReconnectBaseDelayMs = 1000
	}
	if c.Pipeline.MaxBatchSize == 0 {
		c.Pipeline.MaxBatchSize = 100
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = 10
	}
	if c.Pipeline.BatchTimeoutMs == 0 {
		c.Pipeline.BatchTimeoutMs = 5000
	}
	if c.Pipeline.WindowSizeMs == 0 {
		c.Pipeline.WindowSizeMs = 60000
	}
	if c.Pipeline.MaxTrackedEvents == 0 {
		c.Pipeline.MaxTrackedEvents = 10000
	}
	if c.Pipeline.ReportIntervalMs == 0 {
		c.Pipeline.ReportIntervalMs = 30000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.RingSize == 0 {
		c.Logging.RingSize = 512
	}
	if c.Logging.TimeFormat == "" {
		c.Logging.TimeFormat = time.RFC3339
	}
}

// BatchTimeout returns the batch flush timeout as a duration.
func (c PipelineConfig) BatchTimeout() time.Duration {
	return time.Duration(c.BatchTimeoutMs) * time.Millisecond
}

// Window returns the deduplication window as a duration.
func (c PipelineConfig) Window() time.Duration {
	return time.Duration(c.WindowSizeMs) * time.Millisecond
}

// ReportInterval returns the periodic reporting interval as a duration.
func (c PipelineConfig) ReportInterval() time.Duration {
	return time.Duration(c.ReportIntervalMs) * time.Millisecond
}

// ReconnectBaseDelay returns the reconnect backoff base as a duration.
func (c ObserverConfig) ReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelayMs) * time.Millisecond
}
