package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"labcore/pkg/domain"
)

var expvarSeq atomic.Uint64

const (
	outcomeSuccess = "success"
	outcomeError   = "error"
	durationKey    = "duration_ms"
)

// ExpvarMetricsRecorder publishes one expvar map per operation holding
// success and error counters and the summed duration in milliseconds.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  *expvar.Map
}

// ExpvarMetricsSnapshot is a point-in-time copy of the published counters.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name is
// replaced by a unique one so tests and repeated CLI runs never collide.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("labcore_operations_%d", expvarSeq.Add(1))
	}
	rec := &ExpvarMetricsRecorder{name: name, ops: new(expvar.Map).Init()}
	expvar.Publish(name, rec.ops)
	return rec
}

// Name returns the expvar key.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

func (r *ExpvarMetricsRecorder) operation(op string) *expvar.Map {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.ops.Get(op).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	m.Set(outcomeSuccess, new(expvar.Int))
	m.Set(outcomeError, new(expvar.Int))
	m.Set(durationKey, new(expvar.Float))
	r.ops.Set(op, m)
	return m
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	m := r.operation(operation)
	outcome := outcomeError
	if success {
		outcome = outcomeSuccess
	}
	m.Add(outcome, 1)
	m.AddFloat(durationKey, float64(duration)/float64(time.Millisecond))
}

// Snapshot copies the current counters.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	snap := ExpvarMetricsSnapshot{
		DurationsMS: make(map[string]float64),
		Results:     make(map[string]map[string]int64),
		RecordedAt:  time.Now().UTC(),
	}
	r.ops.Do(func(kv expvar.KeyValue) {
		m, ok := kv.Value.(*expvar.Map)
		if !ok {
			return
		}
		counts := make(map[string]int64, 2)
		for _, outcome := range []string{outcomeSuccess, outcomeError} {
			if v, ok := m.Get(outcome).(*expvar.Int); ok {
				counts[outcome] = v.Value()
			}
		}
		snap.Results[kv.Key] = counts
		if v, ok := m.Get(durationKey).(*expvar.Float); ok {
			snap.DurationsMS[kv.Key] = v.Value()
		}
	})
	return snap
}

// JSONTraceEntry is one finished span as written by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Actor      string    `json:"actor,omitempty"`
	DryRun     bool      `json:"dry_run,omitempty"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes one JSON line per finished span and keeps every
// entry in memory. A nil writer only retains.
type JSONTraceTracer struct {
	now func() time.Time

	mu      sync.Mutex
	w       io.Writer
	entries []JSONTraceEntry
}

func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	return &JSONTraceTracer{w: w, now: func() time.Time { return time.Now().UTC() }}
}

// Entries returns the finished spans in completion order.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonSpan{tracer: t, entry: JSONTraceEntry{
		Operation: operation,
		Actor:     ActorFrom(ctx),
		DryRun:    domain.IsDryRun(ctx),
		StartedAt: t.now(),
	}}
}

func (t *JSONTraceTracer) finish(entry JSONTraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.w == nil {
		return
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_, _ = t.w.Write(append(line, '\n'))
}

type jsonSpan struct {
	tracer *JSONTraceTracer
	entry  JSONTraceEntry
	once   sync.Once
}

// End records the span once; later calls are ignored.
func (s *jsonSpan) End(err error) {
	s.once.Do(func() {
		e := s.entry
		e.EndedAt = s.tracer.now()
		e.DurationMS = float64(e.EndedAt.Sub(e.StartedAt)) / float64(time.Millisecond)
		e.Status = outcomeSuccess
		if err != nil {
			e.Status = outcomeError
			e.Error = err.Error()
		}
		s.tracer.finish(e)
	})
}
