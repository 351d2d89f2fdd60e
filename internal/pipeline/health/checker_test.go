package health

import (
	"errors"
	"testing"
	"time"
)

func healthyChecker() *Checker {
	c := NewChecker(nil)
	c.SetObserverHealth(true)
	c.SetServerHealth(true)
	c.SetSubscriptions(true)
	c.SetEventQueueSize(0)
	return c
}

func TestGetStatus_Healthy(t *testing.T) {
	c := healthyChecker()
	rep := c.GetStatus()
	if rep.Status != StatusHealthy {
		t.Errorf("Expected healthy, got %s", rep.Status)
	}
}

func TestGetStatus_DegradedOnSecondaryCheck(t *testing.T) {
	c := healthyChecker()
	c.SetSubscriptions(false)
	if rep := c.GetStatus(); rep.Status != StatusDegraded {
		t.Errorf("Expected degraded with subscriptions down, got %s", rep.Status)
	}

	c = healthyChecker()
	c.SetEventQueueSize(1000) // at threshold -> check fails
	if rep := c.GetStatus(); rep.Status != StatusDegraded {
		t.Errorf("Expected degraded with full queue, got %s", rep.Status)
	}
	if rep := c.GetStatus(); rep.Checks.EventQueue {
		t.Error("Expected event queue check to fail at threshold")
	}
}

func TestGetStatus_Unhealthy(t *testing.T) {
	c := healthyChecker()
	c.SetObserverHealth(false)
	if rep := c.GetStatus(); rep.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy with observer down, got %s", rep.Status)
	}

	c = healthyChecker()
	c.SetServerHealth(false)
	if rep := c.GetStatus(); rep.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy with server down, got %s", rep.Status)
	}
}

func TestRecordError_LastError(t *testing.T) {
	now := time.Now()
	c := NewChecker(nil, WithClock(func() time.Time { return now }))

	c.RecordError(errors.New("first"))
	now = now.Add(time.Second)
	c.RecordError(errors.New("second"))

	rep := c.GetStatus()
	if rep.Metrics.TotalErrorsEncountered != 2 {
		t.Errorf("Expected 2 errors, got %d", rep.Metrics.TotalErrorsEncountered)
	}
	if rep.LastError == nil || rep.LastError.Message != "second" {
		t.Errorf("Expected most recent error stored, got %+v", rep.LastError)
	}
}

func TestCounters(t *testing.T) {
	now := time.Now()
	c := NewChecker(nil, WithClock(func() time.Time { return now }))

	for i := 0; i < 7; i++ {
		c.RecordEventProcessed()
	}
	now = now.Add(30 * time.Second)

	rep := c.GetStatus()
	if rep.Metrics.TotalEventsProcessed != 7 {
		t.Errorf("Expected 7 processed, got %d", rep.Metrics.TotalEventsProcessed)
	}
	if rep.Metrics.UptimeSeconds != 30 {
		t.Errorf("Expected uptime 30s, got %f", rep.Metrics.UptimeSeconds)
	}
}
