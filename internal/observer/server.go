package observer

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stacksignal/eventpipe/internal/core/domain"
	"github.com/stacksignal/eventpipe/internal/metrics"
	"github.com/stacksignal/eventpipe/internal/pipeline/health"
)

const maxEventBody = 4 << 20 // 4 MiB

// ingressProbe mirrors only the fields the boundary check needs; pointers
// distinguish absent from zero.
type ingressProbe struct {
	BlockIdentifier struct {
		Index *uint64 `json:"index"`
		Hash  *string `json:"hash"`
	} `json:"block_identifier"`
}

func (o *Observer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", o.handleEvents)
	mux.HandleFunc("GET /health", o.handleHealth)
	mux.HandleFunc("GET /status", o.handleStatus)
	mux.HandleFunc("GET /logs", o.handleLogs)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// handleEvents accepts one chain event. Structural acceptance is checked
// at the boundary; everything else happens asynchronously after the
// response.
func (o *Observer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !o.accepting.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "Observer not running"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		metrics.EventsRejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid event"})
		return
	}

	var probe ingressProbe
	if err := json.Unmarshal(body, &probe); err != nil ||
		probe.BlockIdentifier.Index == nil ||
		probe.BlockIdentifier.Hash == nil || *probe.BlockIdentifier.Hash == "" {
		metrics.EventsRejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid event"})
		return
	}

	var ev domain.ChainEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		metrics.EventsRejected.Inc()
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid event"})
		return
	}

	o.enqueue(ev)
	metrics.EventsReceived.Inc()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Event queued"})
}

func (o *Observer) handleHealth(w http.ResponseWriter, r *http.Request) {
	running := o.State() == StateRunning

	status := health.StatusUnhealthy
	code := http.StatusServiceUnavailable
	if running && o.health.GetStatus().Status != health.StatusUnhealthy {
		status = health.StatusHealthy
		code = http.StatusOK
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"running":   running,
		"timestamp": time.Now().Unix(),
	})
}

func (o *Observer) handleStatus(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	running := o.state == StateRunning
	attempts := o.reconnectAttempts
	queueSize := len(o.queue)
	o.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"running":           running,
		"queueSize":         queueSize,
		"reconnectAttempts": attempts,
		"config": map[string]any{
			"serverHost": o.cfg.Host,
			"serverPort": o.cfg.Port,
			"network":    o.cfg.Network,
		},
	})
}

func (o *Observer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if o.cfg.Ring == nil {
		writeJSON(w, http.StatusOK, map[string]any{"entries": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": o.cfg.Ring.Snapshot()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
