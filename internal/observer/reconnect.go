package observer

import (
	"context"
	"time"

	"github.com/stacksignal/eventpipe/internal/metrics"
)

// State is the observer lifecycle state.
type State string

const (
	StateStopped      State = "stopped"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateReconnecting State = "reconnecting"
)

// StateChangeFunc is notified of lifecycle transitions, in registration
// order.
type StateChangeFunc func(from, to State)

// backoffDelay returns base * 2^(attempt-1) for attempt >= 1.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	return base << (attempt - 1)
}

// Fail reports an upstream failure while running. It drives the reconnect
// state machine: bounded exponential retries, then a terminal failure
// signal on Failures().
func (o *Observer) Fail(err error) {
	// Guard and transition under one lock hold: a second Fail racing in
	// (a Serve error alongside an upstream failure) must see Reconnecting
	// and bail instead of starting a second reconnect cycle.
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	notify := o.transitionLocked(StateReconnecting)
	o.mu.Unlock()
	notify()

	o.log.Warn("Observer connection failure", "error", err)
	o.health.SetObserverHealth(false)
	o.health.RecordError(err)
	o.scheduleReconnect(err)
}

func (o *Observer) scheduleReconnect(cause error) {
	o.mu.Lock()
	o.reconnectAttempts++
	attempt := o.reconnectAttempts
	if attempt > o.cfg.MaxReconnectAttempts {
		o.mu.Unlock()
		o.terminate(cause)
		return
	}
	notify := o.transitionLocked(StateReconnecting)
	runCtx := o.runCtx
	o.mu.Unlock()
	notify()

	delay := backoffDelay(o.cfg.ReconnectBaseDelay, attempt)
	metrics.ReconnectAttempts.Inc()
	o.log.Info("Scheduling reconnect",
		"attempt", attempt,
		"max_attempts", o.cfg.MaxReconnectAttempts,
		"delay", delay,
	)

	timer := time.NewTimer(delay)
	go func() {
		defer timer.Stop()
		select {
		case <-runCtx.Done():
			return
		case <-timer.C:
		}
		o.attemptReconnect(runCtx, cause)
	}()
}

func (o *Observer) attemptReconnect(ctx context.Context, cause error) {
	if err := o.connect(ctx); err != nil {
		o.log.Warn("Reconnect attempt failed", "error", err)
		o.mu.Lock()
		attempt := o.reconnectAttempts
		o.mu.Unlock()
		if attempt >= o.cfg.MaxReconnectAttempts {
			o.terminate(err)
			return
		}
		o.scheduleReconnect(err)
		return
	}

	o.mu.Lock()
	o.reconnectAttempts = 0
	notify := o.transitionLocked(StateRunning)
	o.mu.Unlock()
	notify()

	o.health.SetObserverHealth(true)
	o.log.Info("Reconnected to upstream observer")
}

// terminate ends the reconnect cycle: the observer stops and the terminal
// failure is emitted; a manual restart is required from here.
func (o *Observer) terminate(cause error) {
	o.log.Error("Reconnect attempts exhausted, observer stopped", "error", cause)

	o.mu.Lock()
	notify := o.transitionLocked(StateStopped)
	o.mu.Unlock()
	notify()

	o.health.SetObserverHealth(false)
	select {
	case o.failures <- cause:
	default:
	}
}

// connect registers the configured predicates with the upstream observer.
func (o *Observer) connect(ctx context.Context) error {
	if o.cfg.Upstream == nil {
		return nil
	}
	return o.cfg.Upstream.RegisterPredicates(ctx, o.cfg.Predicates)
}
