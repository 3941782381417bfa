// Package memory provides the canonical in-memory transactional store for
// the geodraft domain. Durable backends wrap it and snapshot its state.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"geodraft/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Exported aliases to keep method signatures concise while still exposing
// domain types from this infra package.
type (
	// Dataset is an alias of domain.Dataset.
	Dataset = domain.Dataset
	// Branch is an alias of domain.Branch.
	Branch = domain.Branch
	// FeatureVersion is an alias of domain.FeatureVersion.
	FeatureVersion = domain.FeatureVersion
	// MergeRequest is an alias of domain.MergeRequest.
	MergeRequest = domain.MergeRequest
	// MergeConflict is an alias of domain.MergeConflict.
	MergeConflict = domain.MergeConflict
	// Change is an alias of domain.Change.
	Change = domain.Change
	// Result is an alias of domain.Result.
	Result = domain.Result
	// RulesEngine is an alias of domain.RulesEngine.
	RulesEngine = domain.RulesEngine
	// Transaction is an alias of domain.Transaction.
	Transaction = domain.Transaction
	// TransactionView is an alias of domain.TransactionView.
	TransactionView = domain.TransactionView
	// PersistentStore is an alias of domain.PersistentStore.
	PersistentStore = domain.PersistentStore
)

// memoryState holds all committed records. The version ledger is arena
// style: branch id -> feature id -> versions ordered by number, so index i
// holds version i+1 and sequences are gapless by construction.
type memoryState struct {
	datasets      map[string]Dataset
	branches      map[string]Branch
	versions      map[string]map[string][]FeatureVersion
	mergeRequests map[string]MergeRequest
	conflicts     map[string]MergeConflict
	versionIndex  map[string]versionRef
}

type versionRef struct {
	branchID  string
	featureID string
	idx       int
}

// Snapshot is the serialisable representation of the in-memory state.
type Snapshot struct {
	Datasets      map[string]Dataset                     `json:"datasets"`
	Branches      map[string]Branch                      `json:"branches"`
	Versions      map[string]map[string][]FeatureVersion `json:"versions"`
	MergeRequests map[string]MergeRequest                `json:"merge_requests"`
	Conflicts     map[string]MergeConflict               `json:"conflicts"`
}

func newMemoryState() memoryState {
	return memoryState{
		datasets:      map[string]Dataset{},
		branches:      map[string]Branch{},
		versions:      map[string]map[string][]FeatureVersion{},
		mergeRequests: map[string]MergeRequest{},
		conflicts:     map[string]MergeConflict{},
		versionIndex:  map[string]versionRef{},
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Datasets:      make(map[string]Dataset, len(state.datasets)),
		Branches:      make(map[string]Branch, len(state.branches)),
		Versions:      make(map[string]map[string][]FeatureVersion, len(state.versions)),
		MergeRequests: make(map[string]MergeRequest, len(state.mergeRequests)),
		Conflicts:     make(map[string]MergeConflict, len(state.conflicts)),
	}
	for k, v := range state.datasets {
		s.Datasets[k] = cloneDataset(v)
	}
	for k, v := range state.branches {
		s.Branches[k] = cloneBranch(v)
	}
	for branchID, ledger := range state.versions {
		dst := make(map[string][]FeatureVersion, len(ledger))
		for featureID, versions := range ledger {
			out := make([]FeatureVersion, len(versions))
			for i, fv := range versions {
				out[i] = cloneVersion(fv)
			}
			dst[featureID] = out
		}
		s.Versions[branchID] = dst
	}
	for k, v := range state.mergeRequests {
		s.MergeRequests[k] = cloneMergeRequest(v)
	}
	for k, v := range state.conflicts {
		s.Conflicts[k] = cloneConflict(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Datasets {
		state.datasets[k] = cloneDataset(v)
	}
	for k, v := range s.Branches {
		state.branches[k] = cloneBranch(v)
	}
	for branchID, ledger := range s.Versions {
		dst := make(map[string][]FeatureVersion, len(ledger))
		for featureID, versions := range ledger {
			out := make([]FeatureVersion, len(versions))
			for i, fv := range versions {
				out[i] = cloneVersion(fv)
			}
			dst[featureID] = out
		}
		state.versions[branchID] = dst
	}
	for k, v := range s.MergeRequests {
		state.mergeRequests[k] = cloneMergeRequest(v)
	}
	for k, v := range s.Conflicts {
		state.conflicts[k] = cloneConflict(v)
	}
	state.reindexVersions()
	return state
}

func (s *memoryState) reindexVersions() {
	s.versionIndex = map[string]versionRef{}
	for branchID, ledger := range s.versions {
		for featureID, versions := range ledger {
			for i, fv := range versions {
				s.versionIndex[fv.ID] = versionRef{branchID: branchID, featureID: featureID, idx: i}
			}
		}
	}
}

// clone copies the mutable maps. Ledger slices are resliced to full capacity
// so a later append allocates instead of writing into a shared array; the
// FeatureVersion elements themselves are immutable once committed and safe
// to share.
func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.datasets {
		cloned.datasets[k] = cloneDataset(v)
	}
	for k, v := range s.branches {
		cloned.branches[k] = cloneBranch(v)
	}
	for branchID, ledger := range s.versions {
		dst := make(map[string][]FeatureVersion, len(ledger))
		for featureID, versions := range ledger {
			dst[featureID] = versions[:len(versions):len(versions)]
		}
		cloned.versions[branchID] = dst
	}
	for k, v := range s.mergeRequests {
		cloned.mergeRequests[k] = cloneMergeRequest(v)
	}
	for k, v := range s.conflicts {
		cloned.conflicts[k] = cloneConflict(v)
	}
	for k, v := range s.versionIndex {
		cloned.versionIndex[k] = v
	}
	return cloned
}

func cloneDataset(d Dataset) Dataset {
	cp := d
	cp.Description = cloneStringPtr(d.Description)
	return cp
}

func cloneBranch(b Branch) Branch {
	cp := b
	cp.ParentID = cloneStringPtr(b.ParentID)
	cp.Description = cloneStringPtr(b.Description)
	cp.MergedAt = cloneTimePtr(b.MergedAt)
	return cp
}

func cloneVersion(fv FeatureVersion) FeatureVersion {
	cp := fv
	cp.Geometry = fv.Geometry.Clone()
	cp.Properties = fv.Properties.Clone()
	cp.Supersedes = cloneStringPtr(fv.Supersedes)
	cp.Comment = cloneStringPtr(fv.Comment)
	return cp
}

func cloneMergeRequest(mr MergeRequest) MergeRequest {
	cp := mr
	cp.Description = cloneStringPtr(mr.Description)
	cp.ReviewComment = cloneStringPtr(mr.ReviewComment)
	cp.ReviewedAt = cloneTimePtr(mr.ReviewedAt)
	cp.MergedAt = cloneTimePtr(mr.MergedAt)
	if mr.ReviewedBy != nil {
		actor := *mr.ReviewedBy
		cp.ReviewedBy = &actor
	}
	return cp
}

func cloneConflict(c MergeConflict) MergeConflict {
	cp := c
	if c.Resolution != nil {
		res := *c.Resolution
		res.Geometry = c.Resolution.Geometry.Clone()
		res.Properties = c.Resolution.Properties.Clone()
		cp.Resolution = &res
	}
	return cp
}

func cloneStringPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Store provides the in-memory transactional store for the geodraft domain.
type Store struct {
	mu           sync.RWMutex
	state        memoryState
	engine       *RulesEngine
	nowFn        func() time.Time
	versionLimit int
}

// Option configures optional store behavior.
type Option func(*Store)

// WithVersionLimit caps versions per (branch, feature); zero means unbounded.
func WithVersionLimit(limit int) Option {
	return func(s *Store) { s.versionLimit = limit }
}

// WithNow overrides the time provider, mostly for tests.
func WithNow(now func() time.Time) Option {
	return func(s *Store) { s.nowFn = now }
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// VersionLimit returns the configured per-feature version cap (0 = none).
func (s *Store) VersionLimit() int { return s.versionLimit }

// RunInTransaction executes fn within a transactional copy of the store
// state. The store mutex is the serializing critical section that keeps
// version-number assignment and merge-commit batches atomic.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

// Read helpers over committed state ------------------------------------------

// GetDataset retrieves a dataset by ID from committed state.
func (s *Store) GetDataset(id string) (Dataset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return cloneDataset(d), true
}

// ListDatasets returns all registered datasets ordered by creation time.
func (s *Store) ListDatasets() []Dataset {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Dataset, 0, len(s.state.datasets))
	for _, d := range s.state.datasets {
		out = append(out, cloneDataset(d))
	}
	sortByCreation(out, func(d Dataset) (time.Time, string) { return d.CreatedAt, d.ID })
	return out
}

// GetBranch retrieves a branch by ID from committed state.
func (s *Store) GetBranch(id string) (Branch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.branches[id]
	if !ok {
		return Branch{}, false
	}
	return cloneBranch(b), true
}

// ListBranches returns all branches of a dataset ordered by creation time.
func (s *Store) ListBranches(datasetID string) []Branch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBranches(&s.state, datasetID)
}

// ListBranchesByStatus filters a dataset's branches by lifecycle state.
func (s *Store) ListBranchesByStatus(datasetID string, status domain.BranchStatus) []Branch {
	all := s.ListBranches(datasetID)
	out := all[:0]
	for _, b := range all {
		if b.Status == status {
			out = append(out, b)
		}
	}
	return out
}

// LatestVersion returns the highest-numbered version for (branch, feature).
func (s *Store) LatestVersion(branchID, featureID string) (FeatureVersion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestVersion(&s.state, branchID, featureID)
}

// History returns all versions for (branch, feature) in increasing order.
func (s *Store) History(branchID, featureID string) []FeatureVersion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return history(&s.state, branchID, featureID)
}

// GetMergeRequest retrieves a merge request by ID from committed state.
func (s *Store) GetMergeRequest(id string) (MergeRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mr, ok := s.state.mergeRequests[id]
	if !ok {
		return MergeRequest{}, false
	}
	return cloneMergeRequest(mr), true
}

// ListMergeRequests returns all merge requests whose source branch belongs
// to the dataset, ordered by creation time.
func (s *Store) ListMergeRequests(datasetID string) []MergeRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listMergeRequests(&s.state, datasetID)
}

// ListConflicts returns the conflicts recorded for a merge request.
func (s *Store) ListConflicts(mergeRequestID string) []MergeConflict {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listConflicts(&s.state, mergeRequestID)
}

func sortByCreation[T any](items []T, key func(T) (time.Time, string)) {
	sort.Slice(items, func(i, j int) bool {
		ti, idi := key(items[i])
		tj, idj := key(items[j])
		if ti.Equal(tj) {
			return idi < idj
		}
		return ti.Before(tj)
	})
}

func listBranches(state *memoryState, datasetID string) []Branch {
	var out []Branch
	for _, b := range state.branches {
		if b.DatasetID == datasetID {
			out = append(out, cloneBranch(b))
		}
	}
	sortByCreation(out, func(b Branch) (time.Time, string) { return b.CreatedAt, b.ID })
	return out
}

func latestVersion(state *memoryState, branchID, featureID string) (FeatureVersion, bool) {
	ledger := state.versions[branchID]
	if ledger == nil {
		return FeatureVersion{}, false
	}
	versions := ledger[featureID]
	if len(versions) == 0 {
		return FeatureVersion{}, false
	}
	return cloneVersion(versions[len(versions)-1]), true
}

func history(state *memoryState, branchID, featureID string) []FeatureVersion {
	ledger := state.versions[branchID]
	if ledger == nil {
		return nil
	}
	versions := ledger[featureID]
	out := make([]FeatureVersion, 0, len(versions))
	for _, fv := range versions {
		out = append(out, cloneVersion(fv))
	}
	return out
}

func listMergeRequests(state *memoryState, datasetID string) []MergeRequest {
	var out []MergeRequest
	for _, mr := range state.mergeRequests {
		src, ok := state.branches[mr.SourceBranchID]
		if ok && src.DatasetID == datasetID {
			out = append(out, cloneMergeRequest(mr))
		}
	}
	sortByCreation(out, func(mr MergeRequest) (time.Time, string) { return mr.CreatedAt, mr.ID })
	return out
}

func listConflicts(state *memoryState, mergeRequestID string) []MergeConflict {
	var out []MergeConflict
	for _, c := range state.conflicts {
		if c.MergeRequestID == mergeRequestID {
			out = append(out, cloneConflict(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FeatureID < out[j].FeatureID })
	return out
}

func openMergeRequestForSource(state *memoryState, branchID string) (MergeRequest, bool) {
	for _, mr := range state.mergeRequests {
		if mr.SourceBranchID == branchID && !mr.Status.Terminal() {
			return cloneMergeRequest(mr), true
		}
	}
	return MergeRequest{}, false
}

func fmtDuplicate(entity domain.EntityType, id string) error {
	return fmt.Errorf("%s %q already exists", entity, id)
}
