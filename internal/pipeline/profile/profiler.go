// Package profile measures named spans and numeric samples with
// percentile aggregation over bounded rolling buffers.
package profile

import (
	"runtime"
	"sort"
	"sync"
	"time"
)

const defaultSampleWindow = 1000

// Aggregate summarizes the samples recorded under one name.
type Aggregate struct {
	Count   uint64  `json:"count"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	P95     float64 `json:"p95"`
	P99     float64 `json:"p99"`
}

// Snapshot is a point-in-time view of all profiler state plus system
// metrics.
type Snapshot struct {
	UptimeSeconds    float64              `json:"uptime_seconds"`
	MemoryAllocBytes uint64               `json:"memory_alloc_bytes"`
	MemorySysBytes   uint64               `json:"memory_sys_bytes"`
	Goroutines       int                  `json:"goroutines"`
	EventsPerSecond  float64              `json:"events_per_second"`
	Metrics          map[string]Aggregate `json:"metrics"`
	Counters         map[string]uint64    `json:"counters"`
}

type series struct {
	count   uint64
	sum     float64
	min     float64
	max     float64
	samples []float64
}

// Profiler records spans, samples and counters. It never fails and never
// blocks measured work; an EndMeasurement with no matching start is a no-op.
type Profiler struct {
	window int
	now    func() time.Time

	mu       sync.Mutex
	started  time.Time
	active   map[string]time.Time
	series   map[string]*series
	counters map[string]uint64
}

// Option tweaks profiler construction.
type Option func(*Profiler)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Profiler) { p.now = now }
}

// WithSampleWindow bounds the rolling sample buffer per name.
func WithSampleWindow(n int) Option {
	return func(p *Profiler) { p.window = n }
}

// New creates a profiler.
func New(opts ...Option) *Profiler {
	p := &Profiler{
		window: defaultSampleWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.started = p.now()
	p.active = make(map[string]time.Time)
	p.series = make(map[string]*series)
	p.counters = make(map[string]uint64)
	return p
}

// StartMeasurement opens a named span. A second start under the same name
// restarts the span.
func (p *Profiler) StartMeasurement(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active[name] = p.now()
}

// EndMeasurement closes a named span and records its duration in
// milliseconds. Returns the measured duration, zero when unmatched.
func (p *Profiler) EndMeasurement(name string) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	start, ok := p.active[name]
	if !ok {
		return 0
	}
	delete(p.active, name)
	elapsed := p.now().Sub(start)
	p.recordLocked(name, float64(elapsed)/float64(time.Millisecond))
	return elapsed
}

// RecordMetric records an arbitrary numeric sample under name.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordLocked(name, value)
}

// RecordEventProcessed increments the named counter.
func (p *Profiler) RecordEventProcessed(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.counters[name]++
}

// Reset clears all accumulated state and restarts the uptime clock.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = p.now()
	p.active = make(map[string]time.Time)
	p.series = make(map[string]*series)
	p.counters = make(map[string]uint64)
}

// Aggregate returns the aggregate for one name; zero value when unknown.
func (p *Profiler) Aggregate(name string) Aggregate {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.series[name]
	if !ok {
		return Aggregate{}
	}
	return s.aggregate()
}

// Snapshot returns system metrics alongside per-name aggregates.
func (p *Profiler) Snapshot() Snapshot {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.Lock()
	defer p.mu.Unlock()

	uptime := p.now().Sub(p.started).Seconds()

	var totalEvents uint64
	counters := make(map[string]uint64, len(p.counters))
	for name, c := range p.counters {
		counters[name] = c
		totalEvents += c
	}

	var throughput float64
	if uptime > 0 {
		throughput = float64(totalEvents) / uptime
	}

	aggs := make(map[string]Aggregate, len(p.series))
	for name, s := range p.series {
		aggs[name] = s.aggregate()
	}

	return Snapshot{
		UptimeSeconds:    uptime,
		MemoryAllocBytes: mem.Alloc,
		MemorySysBytes:   mem.Sys,
		Goroutines:       runtime.NumGoroutine(),
		EventsPerSecond:  throughput,
		Metrics:          aggs,
		Counters:         counters,
	}
}

func (p *Profiler) recordLocked(name string, value float64) {
	s, ok := p.series[name]
	if !ok {
		s = &series{min: value, max: value}
		p.series[name] = s
	}
	s.count++
	s.sum += value
	if value < s.min || s.count == 1 {
		s.min = value
	}
	if value > s.max {
		s.max = value
	}
	s.samples = append(s.samples, value)
	if len(s.samples) > p.window {
		s.samples = s.samples[len(s.samples)-p.window:]
	}
}

func (s *series) aggregate() Aggregate {
	sorted := make([]float64, len(s.samples))
	copy(sorted, s.samples)
	sort.Float64s(sorted)

	return Aggregate{
		Count:   s.count,
		Average: s.sum / float64(s.count),
		Min:     s.min,
		Max:     s.max,
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
	}
}

// percentile expects sorted input and uses nearest-rank selection.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
