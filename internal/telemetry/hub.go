package telemetry

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/rjboer/pulseradar/internal/logging"
)

// Reporter receives a RunStats sample once per flush. Implementations
// must not block the accumulator: Hub.Report appends to a slice, does
// non-blocking subscriber sends, and then calls every registered
// Reporter synchronously on the caller's goroutine.
type Reporter interface {
	Report(stats RunStats)
}

// ProcessMetrics captures runtime state for the diagnostics endpoint.
type ProcessMetrics struct {
	StartTime    time.Time     `json:"startTime"`
	Uptime       time.Duration `json:"uptime"`
	MemoryAlloc  uint64        `json:"memoryAllocBytes"`
	NumGoroutine int           `json:"numGoroutine"`
}

// Hub collects RunStats history and fans new samples out to
// subscribers and reporters.
type Hub struct {
	mu           sync.RWMutex
	history      []RunStats
	historyLimit int
	subscribers  map[chan RunStats]struct{}
	reporters    []Reporter
	logger       logging.Logger
	startTime    time.Time
}

// NewHub builds a Hub retaining at most historyLimit samples (0 means
// a sensible default).
func NewHub(historyLimit int, logger logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Default()
	}
	if historyLimit <= 0 {
		historyLimit = 256
	}
	return &Hub{
		historyLimit: historyLimit,
		subscribers:  make(map[chan RunStats]struct{}),
		logger:       logger.With(logging.Field{Key: "subsystem", Value: "telemetry"}),
		startTime:    time.Now(),
	}
}

// AddReporter registers a Reporter to receive every future sample.
func (h *Hub) AddReporter(r Reporter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reporters = append(h.reporters, r)
}

// Report implements Reporter: records stats in history, notifies
// subscribers, and fans out to registered reporters.
func (h *Hub) Report(stats RunStats) {
	h.mu.Lock()
	h.history = append(h.history, stats)
	if len(h.history) > h.historyLimit {
		h.history = h.history[len(h.history)-h.historyLimit:]
	}
	for ch := range h.subscribers {
		select {
		case ch <- stats:
		default:
		}
	}
	reporters := append([]Reporter(nil), h.reporters...)
	h.mu.Unlock()

	for _, r := range reporters {
		r.Report(stats)
	}
}

// History returns a copy of the retained samples.
func (h *Hub) History() []RunStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]RunStats, len(h.history))
	copy(out, h.history)
	return out
}

// Subscribe returns a channel receiving future samples and an
// unsubscribe function.
func (h *Hub) Subscribe() (chan RunStats, func()) {
	ch := make(chan RunStats, 16)
	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	h.mu.Unlock()
	return ch, func() {
		h.mu.Lock()
		delete(h.subscribers, ch)
		h.mu.Unlock()
		close(ch)
	}
}

func (h *Hub) processMetrics() ProcessMetrics {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return ProcessMetrics{
		StartTime:    h.startTime,
		Uptime:       time.Since(h.startTime),
		MemoryAlloc:  m.Alloc,
		NumGoroutine: runtime.NumGoroutine(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Hub) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.History())
}

func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Status  string         `json:"status"`
		Process ProcessMetrics `json:"process"`
	}{Status: "ok", Process: h.processMetrics()})
}
