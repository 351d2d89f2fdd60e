// Package health aggregates subsystem checks and counters into a
// tri-state status.
package health

import "time"

// Status is the derived overall health state.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Checks holds the subsystem booleans the status derives from.
type Checks struct {
	Observer      bool `json:"observer"`
	Server        bool `json:"server"`
	EventQueue    bool `json:"event_queue"`
	Subscriptions bool `json:"subscriptions"`
}

// Metrics holds the counters reported alongside the status.
type Metrics struct {
	UptimeSeconds          float64 `json:"uptime_seconds"`
	EventQueueSize         int     `json:"event_queue_size"`
	TotalEventsProcessed   uint64  `json:"total_events_processed"`
	TotalErrorsEncountered uint64  `json:"total_errors_encountered"`
}

// ErrorRecord captures the most recent error seen by the pipeline.
type ErrorRecord struct {
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Report is the full health report returned by the checker.
type Report struct {
	Status    Status       `json:"status"`
	Checks    Checks       `json:"checks"`
	Metrics   Metrics      `json:"metrics"`
	LastError *ErrorRecord `json:"last_error,omitempty"`
}
