package domain

import "context"

// WriteRequest carries one feature mutation into the version ledger.
type WriteRequest struct {
	BranchID   string
	FeatureID  string
	Operation  Operation
	Geometry   Geometry
	Properties Properties
	Author     Actor
	Comment    *string
}

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView

	CreateDataset(Dataset) (Dataset, error)
	CreateBranch(Branch) (Branch, error)
	TransitionBranch(id string, next BranchStatus) (Branch, error)

	WriteFeature(WriteRequest) (FeatureVersion, error)
	CommitMergeVersions(targetBranchID string, payloads []MergePayload, author Actor) ([]FeatureVersion, error)

	CreateMergeRequest(MergeRequest) (MergeRequest, error)
	UpdateMergeRequest(id string, mutator func(*MergeRequest) error) (MergeRequest, error)
	CreateConflicts([]MergeConflict) ([]MergeConflict, error)
	UpdateConflict(id string, mutator func(*MergeConflict) error) (MergeConflict, error)
}

// TransactionView provides read-only access to snapshot data for rules,
// conflict detection, and ancestry queries.
type TransactionView interface {
	FindDataset(id string) (Dataset, bool)
	FindBranch(id string) (Branch, bool)
	BranchByName(datasetID, name string) (Branch, bool)
	ListBranches(datasetID string) []Branch

	LatestVersion(branchID, featureID string) (FeatureVersion, bool)
	History(branchID, featureID string) []FeatureVersion
	LedgerFeatures(branchID string) []string
	FindVersion(id string) (FeatureVersion, bool)

	FindMergeRequest(id string) (MergeRequest, bool)
	OpenMergeRequestForSource(branchID string) (MergeRequest, bool)
	ListMergeRequests(datasetID string) []MergeRequest
	ListConflicts(mergeRequestID string) []MergeConflict
	FindConflict(id string) (MergeConflict, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error

	GetDataset(id string) (Dataset, bool)
	ListDatasets() []Dataset
	GetBranch(id string) (Branch, bool)
	ListBranches(datasetID string) []Branch
	ListBranchesByStatus(datasetID string, status BranchStatus) []Branch
	LatestVersion(branchID, featureID string) (FeatureVersion, bool)
	History(branchID, featureID string) []FeatureVersion
	GetMergeRequest(id string) (MergeRequest, bool)
	ListMergeRequests(datasetID string) []MergeRequest
	ListConflicts(mergeRequestID string) []MergeConflict
}
