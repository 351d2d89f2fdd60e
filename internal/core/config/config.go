package config

import (
	"github.com/stacksignal/eventpipe/internal/core/domain"
	redisclient "github.com/stacksignal/eventpipe/internal/infra/redis"
	"github.com/stacksignal/eventpipe/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig                      `yaml:"server"`
	Observer   ObserverConfig                    `yaml:"observer"`
	Pipeline   PipelineConfig                    `yaml:"pipeline"`
	Predicates map[string]domain.PredicateFilter `yaml:"predicates"`
	Logging    LoggingConfig                     `yaml:"logging"`
	Redis      redisclient.Config                `yaml:"redis"`
	Database   postgres.Config                   `yaml:"database"`
}

// ServerConfig holds ingress HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ObserverConfig holds settings for the upstream chain observer link.
type ObserverConfig struct {
	NodeURL              string `yaml:"node_url"`
	Network              string `yaml:"network"` // mainnet, testnet, devnet
	StartBlock           uint64 `yaml:"start_block"`
	MaxReconnectAttempts int    `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelayMs int    `yaml:"reconnect_base_delay_ms"`
}

// PipelineConfig holds tuning knobs for the event pipeline stages.
type PipelineConfig struct {
	MaxBatchSize     int `yaml:"max_batch_size"` // staging queue drain cap per tick
	BatchSize        int `yaml:"batch_size"`
	BatchTimeoutMs   int `yaml:"batch_timeout_ms"`
	WindowSizeMs     int `yaml:"window_size_ms"` // dedup window
	MaxTrackedEvents int `yaml:"max_tracked_events"`
	ReportIntervalMs int `yaml:"report_interval_ms"` // health/profiler reporting
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json, text
	RingSize   int    `yaml:"ring_size"`   // diagnostic ring buffer capacity
	TimeFormat string `yaml:"time_format"` // defaults to RFC3339
}
