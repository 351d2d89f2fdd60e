package logging

import (
	"io"
	"log/slog"
	"testing"
)

func TestRing_Eviction(t *testing.T) {
	ring := NewRing(3)

	for _, msg := range []string{"a", "b", "c", "d"} {
		ring.Append(Entry{Message: msg})
	}

	entries := ring.Snapshot()
	if len(entries) != 3 {
		t.Fatalf("Expected 3 entries, got %d", len(entries))
	}
	// "a" was evicted; order is oldest first
	want := []string{"b", "c", "d"}
	for i, e := range entries {
		if e.Message != want[i] {
			t.Errorf("Entry %d: expected %q, got %q", i, want[i], e.Message)
		}
	}
}

func TestRing_PartialFill(t *testing.T) {
	ring := NewRing(8)
	ring.Append(Entry{Message: "only"})

	if ring.Len() != 1 {
		t.Errorf("Expected length 1, got %d", ring.Len())
	}
	entries := ring.Snapshot()
	if len(entries) != 1 || entries[0].Message != "only" {
		t.Errorf("Unexpected snapshot: %+v", entries)
	}
}

func TestRingHandler_CapturesRecords(t *testing.T) {
	ring := NewRing(16)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := slog.New(NewRingHandler(inner, ring))

	logger.Info("event queued", "height", 42)
	logger.With("component", "batcher").Warn("flush timeout")

	entries := ring.Snapshot()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "event queued" {
		t.Errorf("Unexpected first message: %q", entries[0].Message)
	}
	if entries[0].Attrs["height"] != int64(42) {
		t.Errorf("Expected height attr 42, got %v", entries[0].Attrs["height"])
	}
	if entries[1].Level != slog.LevelWarn.String() {
		t.Errorf("Expected warn level, got %s", entries[1].Level)
	}
	if entries[1].Attrs["component"] != "batcher" {
		t.Errorf("Expected component attr, got %v", entries[1].Attrs)
	}
}

func TestRingHandler_RespectsInnerLevel(t *testing.T) {
	ring := NewRing(16)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewRingHandler(inner, ring))

	logger.Debug("should be dropped")
	if ring.Len() != 0 {
		t.Errorf("Expected debug record to be filtered, got %d entries", ring.Len())
	}
}
