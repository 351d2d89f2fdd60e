package domain

import (
	"time"

	"github.com/google/uuid"
)

// FailedEvent is a dead-letter record for an event whose category handler
// returned an error. It is kept for inspection and manual replay; the
// pipeline itself never retries it.
type FailedEvent struct {
	ID           string        `json:"id"`
	Event        FilteredEvent `json:"event"`
	Category     string        `json:"category"`
	Error        string        `json:"error"`
	RetryCount   int           `json:"retry_count"`
	FirstFailure int64         `json:"first_failure"`
	LastAttempt  int64         `json:"last_attempt"`
}

// NewFailedEvent builds a dead-letter record for a handler failure.
func NewFailedEvent(ev FilteredEvent, err error) *FailedEvent {
	now := time.Now().Unix()
	return &FailedEvent{
		ID:           uuid.New().String(),
		Event:        ev,
		Category:     ev.Category,
		Error:        err.Error(),
		FirstFailure: now,
		LastAttempt:  now,
	}
}
