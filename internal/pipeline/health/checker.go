package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// queueThreshold is the staging queue depth above which the event queue
// check turns unhealthy.
const queueThreshold = 1000

// Checker derives the tri-state status from subsystem booleans and
// counters. All mutators are safe for concurrent use.
type Checker struct {
	log *slog.Logger
	now func() time.Time

	mu              sync.Mutex
	started         time.Time
	observer        bool
	server          bool
	subscriptions   bool
	queueSize       int
	eventsProcessed uint64
	errors          uint64
	lastError       *ErrorRecord
}

// Option tweaks checker construction.
type Option func(*Checker)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Checker) { c.now = now }
}

// NewChecker creates a checker with all checks false.
func NewChecker(log *slog.Logger, opts ...Option) *Checker {
	if log == nil {
		log = slog.Default()
	}
	c := &Checker{
		log: log.With("component", "health"),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.started = c.now()
	return c
}

// RecordEventProcessed increments the processed-events counter.
func (c *Checker) RecordEventProcessed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.eventsProcessed++
}

// RecordError stores the error as lastError and bumps the error counter.
func (c *Checker) RecordError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
	c.lastError = &ErrorRecord{Message: err.Error(), Time: c.now()}
}

// SetObserverHealth flips the observer check.
func (c *Checker) SetObserverHealth(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = ok
}

// SetServerHealth flips the server check.
func (c *Checker) SetServerHealth(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.server = ok
}

// SetSubscriptions flips the subscriptions check.
func (c *Checker) SetSubscriptions(ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions = ok
}

// SetEventQueueSize records the staging queue depth; the event queue
// check holds while the depth stays below the threshold.
func (c *Checker) SetEventQueueSize(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueSize = n
}

// GetStatus derives the current report: healthy iff all four checks hold;
// degraded iff server and observer hold but a secondary check fails;
// unhealthy otherwise.
func (c *Checker) GetStatus() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	checks := Checks{
		Observer:      c.observer,
		Server:        c.server,
		EventQueue:    c.queueSize < queueThreshold,
		Subscriptions: c.subscriptions,
	}

	var status Status
	switch {
	case checks.Observer && checks.Server && checks.EventQueue && checks.Subscriptions:
		status = StatusHealthy
	case checks.Server && checks.Observer:
		status = StatusDegraded
	default:
		status = StatusUnhealthy
	}

	return Report{
		Status: status,
		Checks: checks,
		Metrics: Metrics{
			UptimeSeconds:          c.now().Sub(c.started).Seconds(),
			EventQueueSize:         c.queueSize,
			TotalEventsProcessed:   c.eventsProcessed,
			TotalErrorsEncountered: c.errors,
		},
		LastError: c.lastError,
	}
}

// Start launches the periodic self-check, logging at the severity
// matching the derived status. Stops when ctx is cancelled.
func (c *Checker) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.report()
			}
		}
	}()
}

func (c *Checker) report() {
	rep := c.GetStatus()
	args := []any{
		"status", rep.Status,
		"queue_size", rep.Metrics.EventQueueSize,
		"events_processed", rep.Metrics.TotalEventsProcessed,
		"errors", rep.Metrics.TotalErrorsEncountered,
	}
	switch rep.Status {
	case StatusHealthy:
		c.log.Debug("Health check", args...)
	case StatusDegraded:
		c.log.Warn("Health check", args...)
	default:
		c.log.Error("Health check", args...)
	}
}
