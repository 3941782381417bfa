package core

import (
	"context"
	"time"
)

// AuditStatus marks whether an audited operation succeeded.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry captures a single service operation for compliance trails.
type AuditEntry struct {
	Operation string         `json:"operation"`
	Actor     Actor          `json:"actor,omitempty"`
	Entity    EntityType     `json:"entity"`
	EntityID  string         `json:"entity_id,omitempty"`
	Action    Action         `json:"action"`
	Status    AuditStatus    `json:"status"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditRecorder receives audit entries emitted by the service.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// MetricsRecorder observes per-operation outcomes and latencies.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// TraceSpan terminates a traced operation.
type TraceSpan interface {
	End(err error)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// Logger is the minimal leveled logging surface the service needs.
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
}

// Clock supplies timestamps so tests can pin time.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

type noopAuditRecorder struct{}

func (noopAuditRecorder) Record(context.Context, AuditEntry) {}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// auditOperationMetadata maps an operation name to the entity and action it
// acts on. Operations absent from the map are not audited.
type auditOperationMetadata struct {
	Entity EntityType
	Action Action
}

var auditOperations = map[string]auditOperationMetadata{
	"register_dataset":      {Entity: EntityDataset, Action: ActionCreate},
	"create_branch":         {Entity: EntityBranch, Action: ActionCreate},
	"transition_branch":     {Entity: EntityBranch, Action: ActionUpdate},
	"write_feature":         {Entity: EntityFeatureVersion, Action: ActionCreate},
	"open_merge_request":    {Entity: EntityMergeRequest, Action: ActionCreate},
	"decide_merge_request":  {Entity: EntityMergeRequest, Action: ActionUpdate},
	"resolve_conflict":      {Entity: EntityMergeConflict, Action: ActionUpdate},
	"resolve_all_conflicts": {Entity: EntityMergeConflict, Action: ActionUpdate},
	"commit_merge_request":  {Entity: EntityMergeRequest, Action: ActionUpdate},
	"export_branch":         {Entity: EntityBranch, Action: ActionUpdate},
}
