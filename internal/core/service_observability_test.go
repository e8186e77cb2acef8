package core

import (
	"bytes"
	"context"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

type captureAuditRecorder struct {
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

type spanRecord struct {
	op  string
	err error
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type captureLogger struct {
	noopLogger
	warnings []string
	errors   []string
}

func (l *captureLogger) Warn(msg string, _ ...any)  { l.warnings = append(l.warnings, msg) }
func (l *captureLogger) Error(msg string, _ ...any) { l.errors = append(l.errors, msg) }

// failingStore reports an infrastructure fault for every transaction.
type failingStore struct {
	domain.PersistentStore
}

func (failingStore) RunInTransaction(context.Context, func(domain.Transaction) error) (domain.Result, error) {
	return domain.Result{}, errors.New("disk full")
}

func TestServiceObservability(t *testing.T) {
	audit := &captureAuditRecorder{}
	metrics := &captureMetricsRecorder{}
	tracer := &captureTracer{}
	logger := &captureLogger{}
	svc := newTestService(WithAuditRecorder(audit), WithMetricsRecorder(metrics), WithTracer(tracer), WithLogger(logger))
	ctx := WithActor(context.Background(), "tech-1")

	tube, res, err := svc.CreateContainer(ctx, ContainerInput{Barcode: "tube-1", Kind: string(containerkind.Tube)})
	requireClean(t, "create", res, err)
	if tube.CreatedBy != "tech-1" {
		t.Fatalf("expected actor on record, got %q", tube.CreatedBy)
	}
	if !audit.has("create_container", AuditStatusSuccess, func(e AuditEntry) bool {
		return e.EntityID == tube.ID && e.Actor == "tech-1" && e.Entity == domain.EntityContainer && e.Action == domain.ActionCreate
	}) {
		t.Fatalf("expected success audit entry, got %+v", audit.entries)
	}

	_, res, _ = svc.CreateContainer(ctx, ContainerInput{Barcode: "tube-1", Kind: string(containerkind.Tube)})
	if !res.HasBlocking() {
		t.Fatalf("expected duplicate barcode rejection")
	}
	if !audit.has("create_container", AuditStatusRejected, nil) || !metrics.has("create_container", false) || !tracer.has("create_container", false) {
		t.Fatalf("expected rejected outcome to be recorded")
	}
	if len(logger.warnings) != 1 {
		t.Fatalf("expected a warning log for the rejection, got %v", logger.warnings)
	}

	if _, _, err := svc.CreateContainer(domain.WithDryRun(ctx), ContainerInput{Barcode: "tube-2", Kind: string(containerkind.Tube)}); err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if !audit.has("create_container", AuditStatusSuccess, func(e AuditEntry) bool { return e.DryRun }) {
		t.Fatalf("expected dry run audit entry")
	}
	if !metrics.has("create_container", true) || !tracer.has("create_container", true) {
		t.Fatalf("expected success metrics and span")
	}
	if len(tracer.started) != len(tracer.ended) {
		t.Fatalf("every span must end: %d started, %d ended", len(tracer.started), len(tracer.ended))
	}
}

func TestServiceReportsInfrastructureErrors(t *testing.T) {
	audit := &captureAuditRecorder{}
	logger := &captureLogger{}
	svc := NewService(failingStore{memory.NewStore(nil)}, WithAuditRecorder(audit), WithLogger(logger))

	_, res, err := svc.CreateContainer(context.Background(), ContainerInput{Barcode: "tube-1", Kind: "tube"})
	if err == nil || res.HasBlocking() {
		t.Fatalf("expected infrastructure error, got res=%+v err=%v", res, err)
	}
	if !audit.has("create_container", AuditStatusError, func(e AuditEntry) bool { return e.Error == "disk full" }) {
		t.Fatalf("expected error audit entry, got %+v", audit.entries)
	}
	if len(logger.errors) != 1 {
		t.Fatalf("expected one error log, got %v", logger.errors)
	}
}

func TestNoopObservabilityDefaults(_ *testing.T) {
	logger := noopLogger{}
	logger.Debug("debug", "key", "value")
	logger.Info("info", "key", "value")
	logger.Warn("warn", "key", "value")
	logger.Error("error", "key", "value")
	noopAuditRecorder{}.Record(context.Background(), AuditEntry{})
	noopMetricsRecorder{}.Observe(context.Background(), "op", true, time.Millisecond)
	_, span := noopTracer{}.Start(context.Background(), "op")
	span.End(nil)
}

const entryStatusSuccess = "success"
const entryStatusError = "error"

func TestExpvarMetricsRecorderExports(t *testing.T) {
	recorder := NewExpvarMetricsRecorder("")
	if recorder.Name() == "" {
		t.Fatalf("expected recorder to have export name")
	}
	recorder.Observe(context.Background(), "test_op", true, 10*time.Millisecond)
	recorder.Observe(context.Background(), "test_op", false, 5*time.Millisecond)

	snapshot := recorder.Snapshot()
	if snapshot.DurationsMS["test_op"] <= 0 {
		t.Fatalf("expected positive duration, snapshot=%+v", snapshot)
	}
	if snapshot.Results["test_op"][entryStatusSuccess] != 1 || snapshot.Results["test_op"][entryStatusError] != 1 {
		t.Fatalf("unexpected results snapshot=%+v", snapshot)
	}

	if v := expvar.Get(recorder.Name()); v == nil {
		t.Fatalf("expected expvar export to be registered")
	} else if !strings.Contains(v.String(), "test_op") {
		t.Fatalf("expected expvar output to contain operation: %s", v.String())
	}
}

func TestJSONTraceTracerExports(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	ctx := domain.WithDryRun(WithActor(context.Background(), "tech-1"))
	_, span := tracer.Start(ctx, "trace_op")
	span.End(errors.New("boom"))

	entries := tracer.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected single span entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Operation != "trace_op" || entry.Status != entryStatusError || entry.Actor != "tech-1" || !entry.DryRun || entry.Error != "boom" {
		t.Fatalf("unexpected span entry: %+v", entry)
	}
	if !strings.Contains(buf.String(), "\"operation\":\"trace_op\"") {
		t.Fatalf("expected JSON output to contain operation: %q", buf.String())
	}
}
