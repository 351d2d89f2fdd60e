// Package observer owns the ingress surface and wires the event pipeline:
// validation, deduplication, batching, predicate filtering and routing.
package observer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/logging"
	"github.com/stacksignal/eventpipe/internal/metrics"
	"github.com/stacksignal/eventpipe/internal/pipeline/batch"
	"github.com/stacksignal/eventpipe/internal/pipeline/dedup"
	"github.com/stacksignal/eventpipe/internal/pipeline/health"
	"github.com/stacksignal/eventpipe/internal/pipeline/predicate"
	"github.com/stacksignal/eventpipe/internal/pipeline/profile"
	"github.com/stacksignal/eventpipe/internal/pipeline/router"
	"github.com/stacksignal/eventpipe/internal/pipeline/validate"
)

const defaultDrainInterval = 100 * time.Millisecond

// UpstreamClient tells the upstream chain observer which predicates to
// deliver events for. Implemented outside this package.
type UpstreamClient interface {
	RegisterPredicates(ctx context.Context, predicates map[string]domain.PredicateFilter) error
}

// Config holds everything the observer needs; the handler registry and
// projector are injected so they outlive observer restarts.
type Config struct {
	Host    string
	Port    int
	NodeURL string
	Network string

	StartBlock       uint64
	BatchSize        int
	BatchTimeout     time.Duration
	Window           time.Duration
	MaxTrackedEvents int
	MaxBatchSize     int // staging events drained per tick
	DrainInterval    time.Duration
	ReportInterval   time.Duration

	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration

	Predicates map[string]domain.PredicateFilter
	Upstream   UpstreamClient
	Registry   *router.Manager
	Projector  *router.Projector
	Ring       *logging.Ring
	Logger     *slog.Logger
}

// Observer runs the ingestion pipeline. It owns the validator, the
// deduplicator, the batcher and the profiler for its lifetime; they are
// created on Start and torn down on Stop.
type Observer struct {
	cfg Config
	log *slog.Logger

	validator *validate.Validator
	deduper   *dedup.Deduplicator
	batcher   *batch.Batcher
	optimizer *predicate.Optimizer
	profiler  *profile.Profiler
	health    *health.Checker

	predicateIDs []string // sorted for deterministic evaluation

	mu                sync.Mutex
	state             State
	reconnectAttempts int
	queue             []domain.ChainEvent
	onState           []StateChangeFunc
	runCtx            context.Context
	cancel            context.CancelFunc
	server            *http.Server
	addr              string
	started           time.Time

	accepting atomic.Bool
	draining  atomic.Bool
	failures  chan error
}

// New creates an observer in the stopped state.
func New(cfg Config) (*Observer, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("observer requires a handler registry")
	}
	if cfg.Projector == nil {
		cfg.Projector = router.NewProjector(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainInterval <= 0 {
		cfg.DrainInterval = defaultDrainInterval
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 100
	}

	ids := make([]string, 0, len(cfg.Predicates))
	for id := range cfg.Predicates {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return &Observer{
		cfg:          cfg,
		log:          cfg.Logger.With("component", "observer"),
		health:       health.NewChecker(cfg.Logger),
		predicateIDs: ids,
		state:        StateStopped,
		failures:     make(chan error, 1),
	}, nil
}

// OnStateChange registers a lifecycle callback. Callbacks run in
// registration order on every transition.
func (o *Observer) OnStateChange(fn StateChangeFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onState = append(o.onState, fn)
}

// Failures carries the terminal signal emitted when reconnect attempts
// are exhausted. An external restart is required after a receive.
func (o *Observer) Failures() <-chan error {
	return o.failures
}

// State returns the current lifecycle state.
func (o *Observer) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Health exposes the observer's health checker.
func (o *Observer) Health() *health.Checker {
	return o.health
}

// Profiler exposes the performance profiler; nil before Start.
func (o *Observer) Profiler() *profile.Profiler {
	return o.profiler
}

// Start builds the pipeline components, opens the ingress listener and
// begins draining. Stopped -> Initializing -> Running.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateStopped {
		state := o.state
		o.mu.Unlock()
		return fmt.Errorf("observer already started (state %s)", state)
	}
	notify := o.transitionLocked(StateInitializing)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.runCtx = runCtx
	o.cancel = cancel
	o.started = time.Now()
	o.reconnectAttempts = 0

	o.validator = validate.New(o.cfg.Logger)
	o.deduper = dedup.New(o.cfg.Window, o.cfg.MaxTrackedEvents, o.cfg.Logger)
	o.batcher = batch.New(o.cfg.BatchSize, o.cfg.BatchTimeout, o.cfg.Logger)
	o.optimizer = predicate.NewOptimizer(o.cfg.Logger)
	o.profiler = profile.New()
	o.mu.Unlock()
	notify()

	for id, f := range o.cfg.Predicates {
		o.optimizer.Compile(id, f)
	}
	o.batcher.OnFlush(o.processBatch)

	if err := o.connect(runCtx); err != nil {
		cancel()
		o.abortStart()
		return fmt.Errorf("failed to register predicates upstream: %w", err)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", o.cfg.Host, o.cfg.Port))
	if err != nil {
		cancel()
		o.abortStart()
		return fmt.Errorf("failed to open ingress listener: %w", err)
	}

	srv := &http.Server{Handler: o.routes()}
	o.mu.Lock()
	o.server = srv
	o.addr = ln.Addr().String()
	o.mu.Unlock()

	go func() {
		if serveErr := srv.Serve(ln); serveErr != nil && serveErr != http.ErrServerClosed {
			o.log.Error("Ingress server stopped", "error", serveErr)
			o.Fail(serveErr)
		}
	}()

	o.deduper.Start(runCtx)
	if o.cfg.ReportInterval > 0 {
		o.health.Start(runCtx, o.cfg.ReportInterval)
		o.startProfilerReport(runCtx)
	}
	go o.drainLoop(runCtx)

	o.accepting.Store(true)
	o.health.SetServerHealth(true)
	o.health.SetObserverHealth(true)
	o.health.SetSubscriptions(len(o.cfg.Predicates) > 0)

	o.mu.Lock()
	notify = o.transitionLocked(StateRunning)
	o.mu.Unlock()
	notify()

	o.log.Info("Observer running",
		"addr", ln.Addr().String(),
		"network", o.cfg.Network,
		"predicates", len(o.cfg.Predicates),
	)
	return nil
}

// Addr returns the ingress listen address, empty when stopped.
func (o *Observer) Addr() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.server == nil {
		return ""
	}
	return o.addr
}

// Stop performs an orderly shutdown: stop accepting, drain the staging
// queue, flush the batcher, then close the listener. No accepted event is
// discarded.
func (o *Observer) Stop(ctx context.Context) error {
	o.mu.Lock()
	srv := o.server
	o.server = nil
	// After a terminal reconnect failure the state is already stopped
	// but the listener and batcher still need tearing down.
	if srv == nil && o.state == StateStopped {
		o.mu.Unlock()
		return nil
	}
	o.mu.Unlock()

	o.accepting.Store(false)

	// Shutdown waits for in-flight handlers; a request that passed the
	// accepting check before it flipped may still enqueue an event while
	// we wait. Only after Shutdown returns is the queue final, so the
	// drain and the batcher teardown come after it.
	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	for o.drainOnce() > 0 {
	}
	o.batcher.Flush()
	o.batcher.Close()

	if o.cancel != nil {
		o.cancel()
	}

	o.health.SetServerHealth(false)
	o.health.SetObserverHealth(false)

	o.mu.Lock()
	notify := o.transitionLocked(StateStopped)
	o.mu.Unlock()
	notify()

	o.log.Info("Observer stopped")
	return err
}

// abortStart rolls the state back to stopped after a failed Start.
func (o *Observer) abortStart() {
	o.mu.Lock()
	notify := o.transitionLocked(StateStopped)
	o.mu.Unlock()
	notify()
}

// enqueue stages an accepted event for asynchronous processing.
func (o *Observer) enqueue(ev domain.ChainEvent) {
	o.mu.Lock()
	o.queue = append(o.queue, ev)
	depth := len(o.queue)
	o.mu.Unlock()

	metrics.QueueSize.Set(float64(depth))
	o.health.SetEventQueueSize(depth)
}

func (o *Observer) queueLen() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

// drainLoop ticks the staging queue so ingress spikes never block the
// HTTP accept path.
func (o *Observer) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.drainOnce()
		}
	}
}

// drainOnce moves up to MaxBatchSize staged events through
// validate -> dedup -> batch. Overlapping runs are skipped.
func (o *Observer) drainOnce() int {
	if !o.draining.CompareAndSwap(false, true) {
		return 0
	}
	defer o.draining.Store(false)

	o.mu.Lock()
	n := len(o.queue)
	if n == 0 {
		o.mu.Unlock()
		return 0
	}
	if n > o.cfg.MaxBatchSize {
		n = o.cfg.MaxBatchSize
	}
	events := o.queue[:n]
	o.queue = o.queue[n:]
	depth := len(o.queue)
	o.mu.Unlock()

	metrics.QueueSize.Set(float64(depth))
	o.health.SetEventQueueSize(depth)

	for i := range events {
		ev := events[i]
		if !o.validator.ValidateCompleteEvent(&ev).Valid {
			metrics.EventsInvalid.Inc()
			continue
		}
		if o.deduper.IsDuplicate(&ev) {
			metrics.EventsDeduplicated.Inc()
			continue
		}
		o.batcher.Add(ev)
	}
	return n
}

// processBatch runs filtering and routing for every event in a flushed
// batch, preserving insertion order.
func (o *Observer) processBatch(b batch.Batch) {
	ctx := o.runCtx
	if ctx == nil {
		ctx = context.Background()
	}

	for i := range b.Events {
		ev := &b.Events[i]

		o.profiler.StartMeasurement("process_event")
		o.processEvent(ctx, ev)
		o.profiler.EndMeasurement("process_event")
	}
	o.profiler.RecordMetric("batch_size", float64(len(b.Events)))
}

func (o *Observer) processEvent(ctx context.Context, ev *domain.ChainEvent) {
	if !o.matchesAnyPredicate(ev) {
		return
	}

	fe := o.cfg.Projector.Project(ev)
	if fe == nil {
		o.log.Debug("Matched event has no contract call to project",
			"height", ev.BlockIdentifier.Index)
		return
	}

	if _, err := o.cfg.Registry.Process(ctx, *fe); err != nil {
		// Contained per event: counted, logged by the router, siblings
		// keep processing.
		o.health.RecordError(err)
		return
	}

	o.deduper.MarkAsProcessed(ev)
	o.health.RecordEventProcessed()
	o.profiler.RecordEventProcessed("events_processed")
	metrics.EventsProcessed.WithLabelValues(fe.Category).Inc()
}

// matchesAnyPredicate admits the event when any compiled consumer
// predicate matches. With no predicates configured the optimizer's
// fail-open default applies.
func (o *Observer) matchesAnyPredicate(ev *domain.ChainEvent) bool {
	if len(o.predicateIDs) == 0 {
		return true
	}
	for _, id := range o.predicateIDs {
		if o.optimizer.Match(id, ev) {
			return true
		}
	}
	return false
}

func (o *Observer) startProfilerReport(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(o.cfg.ReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := o.profiler.Snapshot()
				o.log.Info("Pipeline throughput",
					"events_per_second", snap.EventsPerSecond,
					"memory_alloc_bytes", snap.MemoryAllocBytes,
					"goroutines", snap.Goroutines,
				)
			}
		}
	}()
}

// transitionLocked changes state and returns a closure that notifies the
// registered callbacks in registration order. Caller holds the mutex and
// invokes the closure after releasing it.
func (o *Observer) transitionLocked(to State) func() {
	from := o.state
	if from == to {
		return func() {}
	}
	o.state = to
	callbacks := make([]StateChangeFunc, len(o.onState))
	copy(callbacks, o.onState)
	return func() {
		for _, fn := range callbacks {
			fn(from, to)
		}
	}
}
