package core

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"geodraft/internal/infra/persistence/memory"
	"geodraft/pkg/domain"
)

// Service exposes the transactional operations of the feature store: branch
// lifecycle, versioned feature writes, and the merge workflow. Observability
// hooks are optional and default to no-ops.
type Service struct {
	store    PersistentStore
	detector ConflictDetector
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
	clock    Clock
}

// ServiceOption customises service construction.
type ServiceOption func(*Service)

// WithLogger installs a structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditRecorder installs an audit sink for mutating operations.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder installs a metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer installs a tracer wrapping every service operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock overrides the timestamp source used for audit entries.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		audit:   noopAuditRecorder{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		clock:   ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service backed by a fresh in-memory store.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// instrument opens a trace span for the operation and returns a finish
// callback that closes the span, observes metrics, and records an audit entry
// when the operation is registered in auditOperations.
func (s *Service) instrument(ctx context.Context, operation string) (context.Context, func(actor Actor, entityID string, details map[string]any, err error)) {
	start := s.clock.Now()
	ctx, span := s.tracer.Start(ctx, operation)
	finish := func(actor Actor, entityID string, details map[string]any, err error) {
		duration := s.clock.Now().Sub(start)
		span.End(err)
		s.metrics.Observe(ctx, operation, err == nil, duration)
		meta, ok := auditOperations[operation]
		if !ok {
			return
		}
		entry := AuditEntry{
			Operation: operation,
			Actor:     actor,
			Entity:    meta.Entity,
			EntityID:  entityID,
			Action:    meta.Action,
			Status:    AuditStatusSuccess,
			Details:   details,
			Duration:  duration,
			Timestamp: s.clock.Now(),
		}
		if err != nil {
			entry.Status = AuditStatusError
			entry.Error = err.Error()
			s.logger.Warn("operation failed", "operation", operation, "entity_id", entityID, "error", err)
		}
		s.audit.Record(ctx, entry)
	}
	return ctx, finish
}

// RegisterDataset persists a dataset together with its root branch. The root
// branch carries the dataset's default branch name and no parent.
func (s *Service) RegisterDataset(ctx context.Context, dataset Dataset, actor Actor) (Dataset, Branch, Result, error) {
	ctx, finish := s.instrument(ctx, "register_dataset")
	var (
		created Dataset
		root    Branch
	)
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateDataset(dataset)
		if err != nil {
			return err
		}
		root, err = tx.CreateBranch(Branch{
			Name:      created.DefaultBranch,
			DatasetID: created.ID,
			CreatedBy: actor,
		})
		return err
	})
	finish(actor, created.ID, map[string]any{"name": dataset.Name}, err)
	return created, root, res, err
}

// CreateBranch persists a new working branch.
func (s *Service) CreateBranch(ctx context.Context, branch Branch) (Branch, Result, error) {
	ctx, finish := s.instrument(ctx, "create_branch")
	var created Branch
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		created, err = tx.CreateBranch(branch)
		return err
	})
	finish(branch.CreatedBy, created.ID, map[string]any{"name": branch.Name, "dataset_id": branch.DatasetID}, err)
	return created, res, err
}

// TransitionBranch moves a branch through its lifecycle.
func (s *Service) TransitionBranch(ctx context.Context, id string, next BranchStatus, actor Actor) (Branch, Result, error) {
	ctx, finish := s.instrument(ctx, "transition_branch")
	var updated Branch
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		updated, err = tx.TransitionBranch(id, next)
		return err
	})
	finish(actor, id, map[string]any{"status": string(next)}, err)
	return updated, res, err
}

// GetDataset returns a dataset by ID.
func (s *Service) GetDataset(id string) (Dataset, bool) {
	return s.store.GetDataset(id)
}

// ListDatasets returns all datasets ordered by creation.
func (s *Service) ListDatasets() []Dataset {
	return s.store.ListDatasets()
}

// GetBranch returns a branch by ID.
func (s *Service) GetBranch(id string) (Branch, bool) {
	return s.store.GetBranch(id)
}

// ListBranches returns a dataset's branches ordered by creation.
func (s *Service) ListBranches(datasetID string) []Branch {
	return s.store.ListBranches(datasetID)
}

// ListBranchesByStatus filters a dataset's branches by lifecycle status.
func (s *Service) ListBranchesByStatus(datasetID string, status BranchStatus) []Branch {
	return s.store.ListBranchesByStatus(datasetID, status)
}

// WriteFeature appends a version to a feature's per-branch ledger. Creates
// with no feature ID are assigned one.
func (s *Service) WriteFeature(ctx context.Context, req WriteRequest) (FeatureVersion, Result, error) {
	ctx, finish := s.instrument(ctx, "write_feature")
	if req.Operation == OpCreate && req.FeatureID == "" {
		req.FeatureID = uuid.NewString()
	}
	var version FeatureVersion
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		version, err = tx.WriteFeature(req)
		return err
	})
	finish(req.Author, version.ID, map[string]any{
		"branch_id":  req.BranchID,
		"feature_id": req.FeatureID,
		"operation":  string(req.Operation),
	}, err)
	return version, res, err
}

// LatestFeature returns the newest version of a feature on a branch's own ledger.
func (s *Service) LatestFeature(branchID, featureID string) (FeatureVersion, bool) {
	return s.store.LatestVersion(branchID, featureID)
}

// FeatureHistory returns a feature's versions on a branch in ascending order.
func (s *Service) FeatureHistory(branchID, featureID string) []FeatureVersion {
	return s.store.History(branchID, featureID)
}

// EffectiveFeatures resolves the visible state of a branch: for every feature
// the nearest version along the parent chain wins, and tombstoned features are
// omitted. Results are ordered by feature ID.
func (s *Service) EffectiveFeatures(ctx context.Context, branchID string) ([]FeatureVersion, error) {
	var out []FeatureVersion
	err := s.store.View(ctx, func(view TransactionView) error {
		branch, ok := view.FindBranch(branchID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityBranch, ID: branchID}
		}
		chain, err := parentChain(view, branch)
		if err != nil {
			return err
		}
		effective := make(map[string]FeatureVersion)
		for _, b := range chain {
			for _, featureID := range view.LedgerFeatures(b.ID) {
				if _, ok := effective[featureID]; ok {
					continue
				}
				if latest, ok := view.LatestVersion(b.ID, featureID); ok {
					effective[featureID] = latest
				}
			}
		}
		out = make([]FeatureVersion, 0, len(effective))
		for _, v := range effective {
			if v.Deleted {
				continue
			}
			out = append(out, v)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
