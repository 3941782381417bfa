// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by geodraft.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDataset identifies a registered vector dataset.
	EntityDataset EntityType = "dataset"
	// EntityBranch identifies an edit branch record.
	EntityBranch EntityType = "branch"
	// EntityFeatureVersion identifies one immutable feature version.
	EntityFeatureVersion EntityType = "feature_version"
	// EntityMergeRequest identifies a merge request record.
	EntityMergeRequest EntityType = "merge_request"
	// EntityMergeConflict identifies a detected merge conflict record.
	EntityMergeConflict EntityType = "merge_conflict"
)

// Actor is an opaque identity reference attached to every write. The core
// never derives permissions from it; authorization is decided upstream.
type Actor string

// BranchStatus represents the lifecycle state of an edit branch.
type BranchStatus string

// Branch lifecycle states. Transitions are forward-only: active branches may
// become merged, closed, or deleted; the latter three are terminal for writes.
const (
	BranchActive  BranchStatus = "active"
	BranchMerged  BranchStatus = "merged"
	BranchClosed  BranchStatus = "closed"
	BranchDeleted BranchStatus = "deleted"
)

// Writable reports whether feature versions may still be created on a branch
// in this state.
func (s BranchStatus) Writable() bool { return s == BranchActive }

// CanTransitionTo reports whether the forward-only status table permits
// moving from s to next.
func (s BranchStatus) CanTransitionTo(next BranchStatus) bool {
	if s != BranchActive {
		return false
	}
	switch next {
	case BranchMerged, BranchClosed, BranchDeleted:
		return true
	}
	return false
}

// Operation classifies a feature mutation.
type Operation string

// Feature version operation kinds.
const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	// OpMergeCommit marks versions written into a target branch by a merge.
	OpMergeCommit Operation = "merge_commit"
)

// MergeStatus represents the lifecycle state of a merge request.
type MergeStatus string

// Merge request states. pending -> conflicts -> {approved, rejected} or
// pending -> {approved, rejected} directly; approved -> merged. merged and
// rejected are terminal.
const (
	MergePending   MergeStatus = "pending"
	MergeConflicts MergeStatus = "conflicts"
	MergeApproved  MergeStatus = "approved"
	MergeRejected  MergeStatus = "rejected"
	MergeMerged    MergeStatus = "merged"
)

// Terminal reports whether the merge request can never change state again.
func (s MergeStatus) Terminal() bool { return s == MergeMerged || s == MergeRejected }

// CanTransitionTo reports whether the merge request state machine permits
// moving from s to next.
func (s MergeStatus) CanTransitionTo(next MergeStatus) bool {
	switch s {
	case MergePending:
		return next == MergeConflicts || next == MergeApproved || next == MergeRejected
	case MergeConflicts:
		return next == MergeApproved || next == MergeRejected
	case MergeApproved:
		return next == MergeMerged || next == MergeRejected
	}
	return false
}

// ConflictKind classifies the divergence detected for one feature.
type ConflictKind string

// Conflict classifications.
const (
	ConflictGeometry     ConflictKind = "geometry"
	ConflictProperties   ConflictKind = "properties"
	ConflictBoth         ConflictKind = "both"
	ConflictDeleteVsEdit ConflictKind = "delete_vs_edit"
)

// ResolutionStrategy selects how a conflict is reduced to a single version.
type ResolutionStrategy string

// Conflict resolution strategies.
const (
	KeepSource ResolutionStrategy = "keep_source"
	KeepTarget ResolutionStrategy = "keep_target"
	Manual     ResolutionStrategy = "manual"
)

// Decision is a reviewer's verdict on a merge request.
type Decision string

// Merge request decisions.
const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// Base contains common fields for all mutable domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Dataset is a registered vector layer whose features are under version
// control. Registration provisions the dataset's root branch.
type Dataset struct {
	Base
	Name          string  `json:"name"`
	DefaultBranch string  `json:"default_branch"`
	Description   *string `json:"description,omitempty"`
}

// Branch is an isolated line of edits over a dataset's features. Exactly one
// branch per dataset has a nil parent; every other branch's parent chain
// terminates at that root.
type Branch struct {
	Base
	Name        string       `json:"name"`
	DatasetID   string       `json:"dataset_id"`
	GroupID     string       `json:"group_id,omitempty"`
	ParentID    *string      `json:"parent_id"`
	Description *string      `json:"description,omitempty"`
	CreatedBy   Actor        `json:"created_by"`
	Status      BranchStatus `json:"status"`
	MergedAt    *time.Time   `json:"merged_at,omitempty"`
}

// IsRoot reports whether this is the dataset's root branch.
func (b Branch) IsRoot() bool { return b.ParentID == nil }

// FeatureVersion is one immutable snapshot of a feature within a branch's
// history. Version numbers are scoped to (branch, feature) and gapless from 1.
// Deletes are tombstones: the last known payload is retained with Deleted set.
type FeatureVersion struct {
	ID         string     `json:"id"`
	BranchID   string     `json:"branch_id"`
	FeatureID  string     `json:"feature_id"`
	Version    int        `json:"version"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
	Operation  Operation  `json:"operation"`
	Deleted    bool       `json:"deleted"`
	CreatedBy  Actor      `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	Supersedes *string    `json:"supersedes,omitempty"`
	Comment    *string    `json:"comment,omitempty"`
}

// MergeRequest proposes integrating one branch's feature changes into
// another. The common ancestor and fork point are fixed when the request is
// opened and reused by the commit step.
type MergeRequest struct {
	Base
	SourceBranchID   string      `json:"source_branch_id"`
	TargetBranchID   string      `json:"target_branch_id"`
	AncestorBranchID string      `json:"ancestor_branch_id"`
	ForkPoint        time.Time   `json:"fork_point"`
	Title            string      `json:"title"`
	Description      *string     `json:"description,omitempty"`
	Status           MergeStatus `json:"status"`
	CreatedBy        Actor       `json:"created_by"`
	ReviewedBy       *Actor      `json:"reviewed_by,omitempty"`
	ReviewComment    *string     `json:"review_comment,omitempty"`
	ReviewedAt       *time.Time  `json:"reviewed_at,omitempty"`
	MergedAt         *time.Time  `json:"merged_at,omitempty"`
}

// Resolution records how a conflict was settled.
type Resolution struct {
	Strategy   ResolutionStrategy `json:"strategy"`
	Geometry   Geometry           `json:"geometry"`
	Properties Properties         `json:"properties"`
	Deleted    bool               `json:"deleted"`
	ResolvedBy Actor              `json:"resolved_by"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// MergeConflict is a divergent edit to the same feature by both sides of a
// merge. Once the owning merge request reaches a terminal state the conflict
// is immutable historical record.
type MergeConflict struct {
	ID              string       `json:"id"`
	MergeRequestID  string       `json:"merge_request_id"`
	FeatureID       string       `json:"feature_id"`
	Kind            ConflictKind `json:"kind"`
	SourceVersionID string       `json:"source_version_id"`
	TargetVersionID string       `json:"target_version_id"`
	Resolved        bool         `json:"resolved"`
	Resolution      *Resolution  `json:"resolution,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
}

// MergePayload is the branch-independent content of a feature version, used
// when staging merge commits into a target branch.
type MergePayload struct {
	FeatureID  string     `json:"feature_id"`
	Geometry   Geometry   `json:"geometry"`
	Properties Properties `json:"properties"`
	Deleted    bool       `json:"deleted"`
	Comment    *string    `json:"comment,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported mutations captured for rule evaluation
// and audit.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)
