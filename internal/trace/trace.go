// Package trace accumulates per-worker execution events and flushes them as
// a single Chrome-trace-compatible JSON array (spec.md §6, §5).
//
// Each worker goroutine owns a private *Log and appends to it without any
// synchronization; logs are combined into one sorted slice only after every
// worker has joined, matching the "no global mutable state other than an
// optional event trace buffer, append-only per-thread and merged after
// join" rule of spec.md §5.
package trace

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
)

// Event is one entry of the emitted Chrome trace array.
type Event struct {
	Name      string `json:"name"`
	NodeID    string `json:"node"`
	Phase     string `json:"ph"`   // "B" begin, "E" end, matches Chrome trace convention
	Timestamp int64  `json:"ts"`   // microseconds since an arbitrary epoch
	Worker    int    `json:"tid"`
}

// Log is a single worker's append-only event buffer. Each Log also feeds
// the owning Recorder's live prometheus counters, so a dashboard can watch
// a run in progress without waiting for Flush.
type Log struct {
	events  []Event
	metrics *metrics
}

// NewLog returns an empty per-worker log with no metrics attached, for
// callers that only need the append-only buffer (e.g. tests).
func NewLog() *Log { return &Log{} }

// Record appends one event. Never blocks, never allocates beyond a normal
// slice append — safe to call from the hot worker loop.
func (l *Log) Record(e Event) {
	l.events = append(l.events, e)
	if l.metrics != nil {
		l.metrics.eventsTotal.WithLabelValues(e.Phase).Inc()
	}
}

// metrics holds the live gauges/counters for one Recorder, each registered
// against that Recorder's own *prometheus.Registry rather than the global
// default — spec.md §5 permits only the append-only trace buffer as shared
// mutable state, so a Recorder's metrics must not leak into process-global
// registration either.
type metrics struct {
	registry      *prometheus.Registry
	eventsTotal   *prometheus.CounterVec
	workersActive prometheus.Gauge
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	m := &metrics{
		registry: reg,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ufo_events_total",
			Help: "Trace events recorded, by phase.",
		}, []string{"phase"}),
		workersActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ufo_workers_active",
			Help: "Worker goroutines with a live trace log.",
		}),
	}
	reg.MustRegister(m.eventsTotal, m.workersActive)
	return m
}

// Recorder merges logs from every finished worker and writes the combined,
// timestamp-sorted trace to path. A nil *Recorder is valid and Flush is then
// a no-op, so callers that don't pass --trace pay nothing.
type Recorder struct {
	path    string
	logs    []*Log
	metrics *metrics
}

// NewRecorder returns a Recorder that writes to path on Flush, or a disabled
// Recorder if path is empty.
func NewRecorder(path string) *Recorder {
	if path == "" {
		return nil
	}
	return &Recorder{path: path, metrics: newMetrics()}
}

// Registry exposes the Recorder's private prometheus registry, e.g. for a
// caller to serve it over /metrics. Returns nil for a disabled Recorder.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.metrics.registry
}

// NewWorkerLog allocates a log and registers it for merging at Flush time.
// Must be called once per worker before that worker starts recording, and
// only while the Recorder's owner is single-threaded (i.e. during worker
// spawn, not concurrently with Record calls).
func (r *Recorder) NewWorkerLog() *Log {
	if r == nil {
		return NewLog()
	}
	l := &Log{metrics: r.metrics}
	r.logs = append(r.logs, l)
	r.metrics.workersActive.Inc()
	return l
}

// Flush merges all registered logs and writes them sorted by timestamp.
// A nil Recorder flushes nothing.
func (r *Recorder) Flush() error {
	if r == nil {
		return nil
	}

	var all []Event
	for _, l := range r.logs {
		all = append(all, l.events...)
		r.metrics.workersActive.Dec()
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.path, data, 0o644)
}
