package domain

import "fmt"

// ErrNotFound is returned when an entity reference does not resolve.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// BranchNotWritableError rejects writes against merged, closed, or deleted
// branches.
type BranchNotWritableError struct {
	BranchID string
	Status   BranchStatus
}

func (e BranchNotWritableError) Error() string {
	return fmt.Sprintf("branch %s is %s and not writable", e.BranchID, e.Status)
}

// InvalidTransitionError rejects a branch status change outside the
// forward-only transition table.
type InvalidTransitionError struct {
	BranchID string
	From     BranchStatus
	To       BranchStatus
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("branch %s cannot transition %s -> %s", e.BranchID, e.From, e.To)
}

// InvalidParentError rejects branching off a closed or deleted branch, a
// branch in another dataset, or a missing parent.
type InvalidParentError struct {
	ParentID string
	Reason   string
}

func (e InvalidParentError) Error() string {
	return fmt.Sprintf("invalid parent branch %s: %s", e.ParentID, e.Reason)
}

// DuplicateMergeRequestError enforces at most one non-terminal merge request
// per source branch.
type DuplicateMergeRequestError struct {
	SourceBranchID string
	ExistingID     string
}

func (e DuplicateMergeRequestError) Error() string {
	return fmt.Sprintf("branch %s already has open merge request %s", e.SourceBranchID, e.ExistingID)
}

// UnresolvedConflictsError blocks approval while conflicts remain open.
type UnresolvedConflictsError struct {
	MergeRequestID string
	Unresolved     int
}

func (e UnresolvedConflictsError) Error() string {
	return fmt.Sprintf("merge request %s has %d unresolved conflicts", e.MergeRequestID, e.Unresolved)
}

// InvalidGeometryError reports a structurally invalid geometry payload.
type InvalidGeometryError struct {
	Reason string
}

func (e InvalidGeometryError) Error() string {
	return "invalid geometry: " + e.Reason
}

// InvalidPropertiesError reports a property mapping that fails structural
// validation.
type InvalidPropertiesError struct {
	Reason string
}

func (e InvalidPropertiesError) Error() string {
	return "invalid properties: " + e.Reason
}

// VersionLimitExceededError reports that a feature's history reached the
// configured per-feature cap. This is caller policy, not a store invariant.
type VersionLimitExceededError struct {
	BranchID  string
	FeatureID string
	Limit     int
}

func (e VersionLimitExceededError) Error() string {
	return fmt.Sprintf("feature %s in branch %s reached the version limit of %d", e.FeatureID, e.BranchID, e.Limit)
}

// BranchAlreadyMergingError rejects edits to a source branch whose merge
// request is already approved; those edits belong in a fresh request.
type BranchAlreadyMergingError struct {
	BranchID       string
	MergeRequestID string
}

func (e BranchAlreadyMergingError) Error() string {
	return fmt.Sprintf("branch %s is being merged by request %s", e.BranchID, e.MergeRequestID)
}

// MergeStateError rejects a merge request operation that is illegal in the
// request's current state.
type MergeStateError struct {
	MergeRequestID string
	Status         MergeStatus
	Op             string
}

func (e MergeStateError) Error() string {
	return fmt.Sprintf("merge request %s is %s: %s not allowed", e.MergeRequestID, e.Status, e.Op)
}

// MergeCommitFailedError wraps a transient failure of the merge commit batch
// write. The request stays approved and the commit may be retried.
type MergeCommitFailedError struct {
	MergeRequestID string
	Err            error
}

func (e MergeCommitFailedError) Error() string {
	return fmt.Sprintf("merge request %s commit failed: %v", e.MergeRequestID, e.Err)
}

func (e MergeCommitFailedError) Unwrap() error { return e.Err }

// NoCommonAncestorError indicates two branches from different datasets were
// compared. Correct callers never see this; it is an internal invariant
// violation.
type NoCommonAncestorError struct {
	BranchA string
	BranchB string
}

func (e NoCommonAncestorError) Error() string {
	return fmt.Sprintf("branches %s and %s share no common ancestor", e.BranchA, e.BranchB)
}
