// Package predicate compiles per-consumer filter specs into reusable
// matchers and applies them to events and batches.
package predicate

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/metrics"
)

const sampleWindow = 1000

// matcher is a compiled predicate. Immutable after compilation; a
// recompile replaces it wholesale.
type matcher func(*domain.ChainEvent) bool

// Stats is a snapshot of optimizer counters.
type Stats struct {
	EventsReceived     uint64        `json:"events_received"`
	EventsFiltered     uint64        `json:"events_filtered"`
	FilteringRate      float64       `json:"filtering_rate"` // percent rejected
	AverageFilterTime  time.Duration `json:"average_filter_time"`
	CompiledPredicates int           `json:"compiled_predicates"`
}

// Optimizer holds compiled matchers keyed by predicate id.
type Optimizer struct {
	log *slog.Logger

	mu       sync.Mutex
	matchers map[string]matcher
	samples  []time.Duration
	received uint64
	filtered uint64
}

// NewOptimizer creates an empty optimizer.
func NewOptimizer(log *slog.Logger) *Optimizer {
	if log == nil {
		log = slog.Default()
	}
	return &Optimizer{
		log:      log.With("component", "predicate"),
		matchers: make(map[string]matcher),
	}
}

// Compile builds the matcher closure for predicateID and stores it,
// replacing any previous compilation.
func (o *Optimizer) Compile(predicateID string, f domain.PredicateFilter) {
	m := compile(f)

	o.mu.Lock()
	o.matchers[predicateID] = m
	o.mu.Unlock()

	o.log.Info("Compiled predicate filter",
		"predicate", predicateID,
		"contract", f.ContractAddress,
		"method", f.Method,
	)
}

// Match applies the compiled matcher for predicateID to the event.
// With no compiled filter it admits the event (fail-open) and warns.
func (o *Optimizer) Match(predicateID string, ev *domain.ChainEvent) bool {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		metrics.PredicateLatency.WithLabelValues(predicateID).Observe(elapsed.Seconds())
		o.record(elapsed)
	}()

	o.mu.Lock()
	m, ok := o.matchers[predicateID]
	o.received++
	o.mu.Unlock()

	if !ok {
		o.log.Warn("No compiled filter for predicate, admitting event", "predicate", predicateID)
		return true
	}

	if m(ev) {
		return true
	}

	o.mu.Lock()
	o.filtered++
	o.mu.Unlock()
	return false
}

// MatchBatch returns the events admitted by the predicate, in order.
func (o *Optimizer) MatchBatch(predicateID string, events []domain.ChainEvent) []domain.ChainEvent {
	out := make([]domain.ChainEvent, 0, len(events))
	for i := range events {
		if o.Match(predicateID, &events[i]) {
			out = append(out, events[i])
		}
	}
	return out
}

// Stats returns current counters.
func (o *Optimizer) Stats() Stats {
	o.mu.Lock()
	defer o.mu.Unlock()

	var rate float64
	if o.received > 0 {
		rate = float64(o.filtered) / float64(o.received) * 100
	}
	var avg time.Duration
	if len(o.samples) > 0 {
		var sum time.Duration
		for _, s := range o.samples {
			sum += s
		}
		avg = sum / time.Duration(len(o.samples))
	}
	return Stats{
		EventsReceived:     o.received,
		EventsFiltered:     o.filtered,
		FilteringRate:      rate,
		AverageFilterTime:  avg,
		CompiledPredicates: len(o.matchers),
	}
}

func (o *Optimizer) record(elapsed time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.samples = append(o.samples, elapsed)
	if len(o.samples) > sampleWindow {
		o.samples = o.samples[len(o.samples)-sampleWindow:]
	}
}

// compile builds the matcher closure. The event is admitted on the first
// operation, scanning transactions in order, whose contract call satisfies
// every specified field; unspecified fields match anything.
func compile(f domain.PredicateFilter) matcher {
	return func(ev *domain.ChainEvent) bool {
		height := ev.BlockIdentifier.Index
		if f.MinBlockHeight != nil && height < *f.MinBlockHeight {
			return false
		}
		if f.MaxBlockHeight != nil && height > *f.MaxBlockHeight {
			return false
		}

		for i := range ev.Transactions {
			for j := range ev.Transactions[i].Operations {
				if operationMatches(&ev.Transactions[i].Operations[j], f) {
					return true
				}
			}
		}
		return false
	}
}

func operationMatches(op *domain.Operation, f domain.PredicateFilter) bool {
	if f.ContractAddress != "" || f.Method != "" {
		if op.ContractCall == nil {
			return false
		}
		if f.ContractAddress != "" && op.ContractCall.Contract != f.ContractAddress {
			return false
		}
		if f.Method != "" && op.ContractCall.Method != f.Method {
			return false
		}
	}
	if f.Topic != "" {
		found := false
		for _, e := range op.Events {
			if strings.Contains(e.Topic, f.Topic) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
