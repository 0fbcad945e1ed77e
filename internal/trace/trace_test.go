package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNilRecorderIsANoOp(t *testing.T) {
	t.Parallel()
	var r *Recorder
	log := r.NewWorkerLog()
	log.Record(Event{Name: "tick", Phase: "B"})
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush on nil recorder: %v", err)
	}
	if r.Registry() != nil {
		t.Fatalf("expected nil registry for nil recorder")
	}
}

func TestFlushWritesSortedMergedEvents(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.json")
	r := NewRecorder(path)

	l1 := r.NewWorkerLog()
	l1.Record(Event{Name: "a", Phase: "B", Timestamp: 20, Worker: 1})
	l2 := r.NewWorkerLog()
	l2.Record(Event{Name: "b", Phase: "B", Timestamp: 10, Worker: 2})

	if err := r.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Name != "b" || events[1].Name != "a" {
		t.Fatalf("events not sorted by timestamp: %+v", events)
	}
}

func TestMetricsCountEventsByPhase(t *testing.T) {
	t.Parallel()
	r := NewRecorder(filepath.Join(t.TempDir(), "trace.json"))

	log := r.NewWorkerLog()
	log.Record(Event{Phase: "B"})
	log.Record(Event{Phase: "B"})
	log.Record(Event{Phase: "E"})

	got := counterValue(t, r.Registry(), "ufo_events_total", "B")
	if got != 2 {
		t.Fatalf("events_total{phase=B} = %v, want 2", got)
	}
	got = counterValue(t, r.Registry(), "ufo_events_total", "E")
	if got != 1 {
		t.Fatalf("events_total{phase=E} = %v, want 1", got)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, phase string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m, phase) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, phase string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == "phase" && lp.GetValue() == phase {
			return true
		}
	}
	return false
}
