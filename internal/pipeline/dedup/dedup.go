// Package dedup suppresses duplicate deliveries of chain events inside a
// sliding time window, keyed by the event identity hash.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/stacksignal/eventpipe/internal/core/domain"
)

const maxSweepInterval = 15 * time.Second

type entry struct {
	firstSeen time.Time
	count     int
}

// Stats is a snapshot of deduplicator counters.
type Stats struct {
	TotalEvents        uint64        `json:"total_events"`
	DuplicatesDetected uint64        `json:"duplicates_detected"`
	DeduplicationRate  float64       `json:"deduplication_rate"` // percent
	WindowSize         time.Duration `json:"window_size"`
	TrackedEvents      int           `json:"tracked_events"`
}

// Deduplicator tracks recently seen identity hashes. Check-and-insert is
// atomic under the mutex, so two near-simultaneous deliveries of the same
// event can never both be accepted.
type Deduplicator struct {
	window    time.Duration
	maxevents int
	now       func() time.Time
	log       *slog.Logger

	mu         sync.Mutex
	seen       map[string]*entry
	total      uint64
	duplicates uint64
}

// Option tweaks deduplicator construction.
type Option func(*Deduplicator)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Deduplicator) { d.now = now }
}

// New creates a deduplicator with the given window and capacity bound.
func New(window time.Duration, maxTrackedEvents int, log *slog.Logger, opts ...Option) *Deduplicator {
	if log == nil {
		log = slog.Default()
	}
	d := &Deduplicator{
		window:    window,
		maxevents: maxTrackedEvents,
		now:       time.Now,
		log:       log.With("component", "dedup"),
		seen:      make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// IsDuplicate reports whether this event was already seen inside the
// window. First sight inserts the identity hash and returns false.
func (d *Deduplicator) IsDuplicate(ev *domain.ChainEvent) bool {
	hash := ev.IdentityHash()
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	d.total++

	if e, ok := d.seen[hash]; ok && now.Sub(e.firstSeen) < d.window {
		e.count++
		d.duplicates++
		return true
	}

	if len(d.seen) >= d.maxevents {
		d.evictOldestLocked()
	}
	d.seen[hash] = &entry{firstSeen: now, count: 1}
	return false
}

// MarkAsProcessed refreshes the entry's timestamp, extending its dedup
// lifetime without touching counts.
func (d *Deduplicator) MarkAsProcessed(ev *domain.ChainEvent) {
	hash := ev.IdentityHash()

	d.mu.Lock()
	defer d.mu.Unlock()

	if e, ok := d.seen[hash]; ok {
		e.firstSeen = d.now()
	}
}

// Stats returns current counters.
func (d *Deduplicator) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	var rate float64
	if d.total > 0 {
		rate = float64(d.duplicates) / float64(d.total) * 100
	}
	return Stats{
		TotalEvents:        d.total,
		DuplicatesDetected: d.duplicates,
		DeduplicationRate:  rate,
		WindowSize:         d.window,
		TrackedEvents:      len(d.seen),
	}
}

// Start launches the background sweep that drops entries older than the
// window. It stops when ctx is cancelled.
func (d *Deduplicator) Start(ctx context.Context) {
	interval := d.window / 4
	if interval > maxSweepInterval {
		interval = maxSweepInterval
	}
	if interval <= 0 {
		interval = maxSweepInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed := d.sweep()
				if removed > 0 {
					d.log.Debug("Swept expired dedup entries", "removed", removed)
				}
			}
		}
	}()
}

func (d *Deduplicator) sweep() int {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for hash, e := range d.seen {
		if now.Sub(e.firstSeen) >= d.window {
			delete(d.seen, hash)
			removed++
		}
	}
	return removed
}

// evictOldestLocked removes the single oldest entry. Caller holds the mutex.
func (d *Deduplicator) evictOldestLocked() {
	var oldestHash string
	var oldestTime time.Time
	first := true
	for hash, e := range d.seen {
		if first || e.firstSeen.Before(oldestTime) {
			oldestHash = hash
			oldestTime = e.firstSeen
			first = false
		}
	}
	if oldestHash != "" {
		delete(d.seen, oldestHash)
	}
}
