package core

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"geodraft/internal/infra/persistence/memory"
	"geodraft/pkg/domain"
)

type auditRecorderStub struct {
	entries []AuditEntry
}

func (r *auditRecorderStub) Record(_ context.Context, entry AuditEntry) {
	r.entries = append(r.entries, entry)
}

func TestAuditEntriesForOperations(t *testing.T) {
	fixed := time.Date(2025, 3, 1, 8, 30, 0, 0, time.UTC)
	recorder := &auditRecorderStub{}
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithNow(steppedClock()))
	svc := NewService(
		store,
		WithAuditRecorder(recorder),
		WithClock(ClockFunc(func() time.Time { return fixed })),
	)
	ctx := context.Background()

	dataset, _, _, err := svc.RegisterDataset(ctx, Dataset{Name: "parcels"}, "admin")
	if err != nil {
		t.Fatalf("register dataset: %v", err)
	}

	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Operation != "register_dataset" {
		t.Fatalf("unexpected operation: %s", entry.Operation)
	}
	if entry.Entity != domain.EntityDataset || entry.Action != domain.ActionCreate {
		t.Fatalf("unexpected entity/action: %s/%s", entry.Entity, entry.Action)
	}
	if entry.EntityID != dataset.ID {
		t.Fatalf("expected entity id %s, got %s", dataset.ID, entry.EntityID)
	}
	if entry.Actor != "admin" {
		t.Fatalf("expected actor admin, got %s", entry.Actor)
	}
	if entry.Status != AuditStatusSuccess {
		t.Fatalf("expected success status, got %s", entry.Status)
	}
	if !entry.Timestamp.Equal(fixed) {
		t.Fatalf("expected pinned timestamp, got %v", entry.Timestamp)
	}
}

func TestAuditEntryOnFailure(t *testing.T) {
	recorder := &auditRecorderStub{}
	svc := NewService(
		memory.NewStore(NewDefaultRulesEngine(), memory.WithNow(steppedClock())),
		WithAuditRecorder(recorder),
	)

	_, _, err := svc.CreateBranch(context.Background(), Branch{Name: "work", DatasetID: "missing"})
	if err == nil {
		t.Fatalf("expected failure for missing dataset")
	}
	if len(recorder.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorder.entries))
	}
	entry := recorder.entries[0]
	if entry.Status != AuditStatusError || entry.Error == "" {
		t.Fatalf("expected error entry, got %+v", entry)
	}
}

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatalf("expected generated name")
	}
	ctx := context.Background()
	rec.Observe(ctx, "write_feature", true, 20*time.Millisecond)
	rec.Observe(ctx, "write_feature", false, 10*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second) // ignored

	snap := rec.Snapshot()
	stats := snap.Operations["write_feature"]
	if stats.Count != 2 || stats.Errors != 1 {
		t.Fatalf("unexpected counters: %+v", stats)
	}
	if stats.TotalMS != 30 || stats.MaxMS != 20 {
		t.Fatalf("unexpected durations: %+v", stats)
	}
	if stats.LastSeen.IsZero() {
		t.Fatalf("last seen not recorded")
	}
	if _, ok := snap.Operations[""]; ok {
		t.Fatalf("empty operation should be ignored")
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)

	_, span := tracer.Start(context.Background(), "commit_merge_request")
	span.End(errors.New("boom"))
	_, span = tracer.Start(context.Background(), "write_feature")
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(entries))
	}
	if entries[0].Status != "error" || entries[0].Error != "boom" {
		t.Fatalf("unexpected first span: %+v", entries[0])
	}
	if entries[1].Status != "success" {
		t.Fatalf("unexpected second span: %+v", entries[1])
	}
	if !strings.Contains(buf.String(), `"operation":"write_feature"`) {
		t.Fatalf("encoded output missing span: %s", buf.String())
	}
}

func TestJSONTracerRetention(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	tracer.SetRetention(2)

	for _, op := range []string{"first", "second", "third"} {
		_, span := tracer.Start(context.Background(), op)
		span.End(nil)
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 retained spans, got %d", len(entries))
	}
	if entries[0].Operation != "second" || entries[1].Operation != "third" {
		t.Fatalf("expected oldest span trimmed, got %+v", entries)
	}
	// The encoded stream keeps everything.
	if got := strings.Count(buf.String(), `"operation"`); got != 3 {
		t.Fatalf("expected 3 encoded spans, got %d", got)
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(registry)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	ctx := context.Background()
	rec.Observe(ctx, "write_feature", true, 25*time.Millisecond)
	rec.Observe(ctx, "write_feature", false, 5*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	if !names["geodraft_service_operations_total"] {
		t.Fatalf("missing operations counter, got %v", names)
	}
	if !names["geodraft_service_operation_duration_seconds"] {
		t.Fatalf("missing latency histogram, got %v", names)
	}

	// Double registration must fail.
	if _, err := NewPrometheusMetricsRecorder(registry); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestZapAuditRecorder(t *testing.T) {
	zcore, logs := observer.New(zap.DebugLevel)
	logger := zap.New(zcore)
	svc := NewService(
		memory.NewStore(NewDefaultRulesEngine(), memory.WithNow(steppedClock())),
		WithAuditRecorder(NewZapAuditRecorder(logger)),
		WithLogger(NewZapLogger(logger)),
	)
	ctx := context.Background()

	dataset, _, _, err := svc.RegisterDataset(ctx, Dataset{Name: "parcels"}, "admin")
	if err != nil {
		t.Fatalf("register dataset: %v", err)
	}
	audits := logs.FilterMessage("audit").All()
	if len(audits) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(audits))
	}
	if audits[0].Level != zap.InfoLevel {
		t.Fatalf("success audit should log at info, got %s", audits[0].Level)
	}
	fields := audits[0].ContextMap()
	if fields["operation"] != "register_dataset" || fields["entity_id"] != dataset.ID {
		t.Fatalf("unexpected audit fields: %v", fields)
	}
	if fields["actor"] != "admin" || fields["status"] != string(AuditStatusSuccess) {
		t.Fatalf("unexpected audit fields: %v", fields)
	}

	if _, _, err := svc.CreateBranch(ctx, Branch{Name: "work", DatasetID: "missing"}); err == nil {
		t.Fatalf("expected failure for missing dataset")
	}
	audits = logs.FilterMessage("audit").All()
	if len(audits) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(audits))
	}
	failed := audits[1]
	if failed.Level != zap.WarnLevel {
		t.Fatalf("failed audit should log at warn, got %s", failed.Level)
	}
	if failed.ContextMap()["status"] != string(AuditStatusError) || failed.ContextMap()["error"] == "" {
		t.Fatalf("unexpected failure fields: %v", failed.ContextMap())
	}
}

func TestZapAdaptersNilFallback(t *testing.T) {
	NewZapLogger(nil).Info("discarded")
	NewZapAuditRecorder(nil).Record(context.Background(), AuditEntry{Operation: "noop"})
}

func TestNoopImplementations(t *testing.T) {
	var logger noopLogger
	logger.Debug("noop")
	logger.Info("noop")
	logger.Warn("noop")
	logger.Error("noop")

	var audit noopAuditRecorder
	audit.Record(context.Background(), AuditEntry{})

	var metrics noopMetricsRecorder
	metrics.Observe(context.Background(), "noop", true, 0)

	tracer := noopTracer{}
	ctx, span := tracer.Start(context.Background(), "op")
	if ctx == nil {
		t.Fatalf("expected context from tracer")
	}
	span.End(nil)
}
