// Package router maps filtered events to category-specific handlers.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/metrics"
)

// Handler processes all filtered events of one category.
type Handler interface {
	// CanHandle reports whether this handler accepts the event.
	CanHandle(ev domain.FilteredEvent) bool

	// Process executes the category's side effects for the event.
	Process(ctx context.Context, ev domain.FilteredEvent) (any, error)
}

// ErrorFunc is notified of handler failures (after logging/counting).
type ErrorFunc func(ev domain.FilteredEvent, err error)

// Manager is the category handler registry. It is constructed once at
// process start and injected wherever dispatch is needed; handlers are
// swappable at runtime.
type Manager struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
	onError  []ErrorFunc
}

// NewManager creates an empty registry.
func NewManager(log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		log:      log.With("component", "router"),
		handlers: make(map[string]Handler),
	}
}

// Register binds a handler to a category, replacing any previous binding.
func (m *Manager) Register(category string, h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[category] = h
	m.log.Info("Registered category handler", "category", category)
}

// Unregister removes the handler for a category.
func (m *Manager) Unregister(category string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, category)
	m.log.Info("Unregistered category handler", "category", category)
}

// Handler returns the handler bound to a category, or nil.
func (m *Manager) Handler(category string) Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handlers[category]
}

// OnError registers a failure callback, invoked in registration order.
func (m *Manager) OnError(fn ErrorFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = append(m.onError, fn)
}

// Process dispatches the event to its category handler. A missing handler
// or a declined event yields (nil, nil): not a pipeline error. Handler
// errors and panics are contained per event so one failure never aborts
// the siblings in a batch.
func (m *Manager) Process(ctx context.Context, ev domain.FilteredEvent) (result any, err error) {
	h := m.Handler(ev.Category)
	if h == nil {
		m.log.Warn("No handler registered for category", "category", ev.Category)
		return nil, nil
	}
	if !h.CanHandle(ev) {
		m.log.Warn("Handler declined event",
			"category", ev.Category,
			"tx", ev.TransactionHash,
		)
		return nil, nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
			m.fail(ev, err)
		}
	}()

	result, err = h.Process(ctx, ev)
	if err != nil {
		m.fail(ev, err)
		return nil, err
	}
	return result, nil
}

func (m *Manager) fail(ev domain.FilteredEvent, err error) {
	metrics.HandlerErrors.WithLabelValues(ev.Category).Inc()
	m.log.Error("Category handler failed",
		"category", ev.Category,
		"tx", ev.TransactionHash,
		"error", err,
	)

	m.mu.RLock()
	callbacks := make([]ErrorFunc, len(m.onError))
	copy(callbacks, m.onError)
	m.mu.RUnlock()
	for _, fn := range callbacks {
		fn(ev, err)
	}
}
