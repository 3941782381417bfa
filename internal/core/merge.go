package core

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"geodraft/pkg/domain"
)

// OpenMergeRequest registers a merge request for review. The common ancestor
// and fork point are pinned at open time, divergence is detected immediately,
// and any conflicts move the request straight to the conflicts status.
func (s *Service) OpenMergeRequest(ctx context.Context, mr MergeRequest) (MergeRequest, []MergeConflict, Result, error) {
	ctx, finish := s.instrument(ctx, "open_merge_request")
	var (
		created   MergeRequest
		conflicts []MergeConflict
	)
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		source, ok := view.FindBranch(mr.SourceBranchID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityBranch, ID: mr.SourceBranchID}
		}
		target, ok := view.FindBranch(mr.TargetBranchID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityBranch, ID: mr.TargetBranchID}
		}
		ancestor, err := CommonAncestor(view, source, target)
		if err != nil {
			return err
		}
		srcPath, err := pathToAncestor(view, source, ancestor)
		if err != nil {
			return err
		}
		tgtPath, err := pathToAncestor(view, target, ancestor)
		if err != nil {
			return err
		}

		mr.AncestorBranchID = ancestor.ID
		mr.ForkPoint = forkPoint(srcPath, tgtPath)
		mr.Status = MergePending
		created, err = tx.CreateMergeRequest(mr)
		if err != nil {
			return err
		}

		det, err := s.detector.Detect(view, source, target, ancestor, created.ForkPoint)
		if err != nil {
			return err
		}
		if len(det.Conflicts) == 0 {
			return nil
		}
		for i := range det.Conflicts {
			det.Conflicts[i].MergeRequestID = created.ID
		}
		conflicts, err = tx.CreateConflicts(det.Conflicts)
		if err != nil {
			return err
		}
		created, err = tx.UpdateMergeRequest(created.ID, func(m *MergeRequest) error {
			m.Status = MergeConflicts
			return nil
		})
		return err
	})
	finish(mr.CreatedBy, created.ID, map[string]any{
		"source_branch_id": mr.SourceBranchID,
		"target_branch_id": mr.TargetBranchID,
		"conflicts":        len(conflicts),
	}, err)
	return created, conflicts, res, err
}

// DecideMergeRequest records a reviewer verdict. Rejection is always legal on
// an open request; approval additionally requires every conflict resolved.
func (s *Service) DecideMergeRequest(ctx context.Context, id string, decision Decision, reviewer Actor, comment *string) (MergeRequest, Result, error) {
	ctx, finish := s.instrument(ctx, "decide_merge_request")
	var updated MergeRequest
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		mr, ok := view.FindMergeRequest(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntityMergeRequest, ID: id}
		}
		var next MergeStatus
		switch decision {
		case DecisionApprove:
			unresolved := 0
			for _, c := range view.ListConflicts(id) {
				if !c.Resolved {
					unresolved++
				}
			}
			if unresolved > 0 {
				return domain.UnresolvedConflictsError{MergeRequestID: id, Unresolved: unresolved}
			}
			next = MergeApproved
		case DecisionReject:
			next = MergeRejected
		default:
			return fmt.Errorf("unknown decision %q", decision)
		}
		if !mr.Status.CanTransitionTo(next) {
			return domain.MergeStateError{MergeRequestID: id, Status: mr.Status, Op: string(decision)}
		}
		now := s.clock.Now()
		var err error
		updated, err = tx.UpdateMergeRequest(id, func(m *MergeRequest) error {
			m.Status = next
			m.ReviewedBy = &reviewer
			m.ReviewedAt = &now
			m.ReviewComment = comment
			return nil
		})
		return err
	})
	finish(reviewer, id, map[string]any{"decision": string(decision)}, err)
	return updated, res, err
}

// CommitMergeRequest lands an approved request on its target branch: every
// source-touched feature gets a merge-commit version on the target, conflicted
// features use their recorded resolution, the source branch transitions to
// merged, and the request closes. The whole commit is one atomic transaction;
// a failed attempt leaves the request approved and retryable. Transient
// failures are retried once before surfacing.
func (s *Service) CommitMergeRequest(ctx context.Context, id string) (MergeRequest, []FeatureVersion, Result, error) {
	ctx, finish := s.instrument(ctx, "commit_merge_request")
	var (
		merged   MergeRequest
		versions []FeatureVersion
		res      Result
		err      error
	)
	for attempt := 0; attempt < 2; attempt++ {
		merged, versions, res, err = s.commitMergeRequest(ctx, id)
		var transient domain.MergeCommitFailedError
		if err == nil || !errors.As(err, &transient) {
			break
		}
		s.logger.Warn("merge commit attempt failed", "merge_request_id", id, "attempt", attempt+1, "error", err)
	}
	var reviewer Actor
	if merged.ReviewedBy != nil {
		reviewer = *merged.ReviewedBy
	}
	finish(reviewer, id, map[string]any{"versions": len(versions)}, err)
	return merged, versions, res, err
}

func (s *Service) commitMergeRequest(ctx context.Context, id string) (MergeRequest, []FeatureVersion, Result, error) {
	var (
		merged   MergeRequest
		versions []FeatureVersion
	)
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		mr, ok := view.FindMergeRequest(id)
		if !ok {
			return domain.ErrNotFound{Entity: EntityMergeRequest, ID: id}
		}
		if mr.Status != MergeApproved {
			return domain.MergeStateError{MergeRequestID: id, Status: mr.Status, Op: "commit"}
		}
		source, ok := view.FindBranch(mr.SourceBranchID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityBranch, ID: mr.SourceBranchID}
		}
		target, ok := view.FindBranch(mr.TargetBranchID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityBranch, ID: mr.TargetBranchID}
		}
		ancestor, ok := view.FindBranch(mr.AncestorBranchID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityBranch, ID: mr.AncestorBranchID}
		}

		// Re-detect against current state: the target may have advanced
		// since approval, and any conflict without a recorded resolution
		// must block the commit.
		det, err := s.detector.Detect(view, source, target, ancestor, mr.ForkPoint)
		if err != nil {
			return err
		}
		resolutions := make(map[string]Resolution)
		for _, c := range view.ListConflicts(id) {
			if c.Resolved && c.Resolution != nil {
				resolutions[c.FeatureID] = *c.Resolution
			}
		}
		unresolved := 0
		conflicted := make(map[string]struct{}, len(det.Conflicts))
		for _, c := range det.Conflicts {
			conflicted[c.FeatureID] = struct{}{}
			if _, ok := resolutions[c.FeatureID]; !ok {
				unresolved++
			}
		}
		if unresolved > 0 {
			return domain.UnresolvedConflictsError{MergeRequestID: id, Unresolved: unresolved}
		}

		featureIDs := make([]string, 0, len(det.SourceLatest))
		for featureID := range det.SourceLatest {
			featureIDs = append(featureIDs, featureID)
		}
		sort.Strings(featureIDs)

		comment := fmt.Sprintf("Merged from branch %s", source.Name)
		payloads := make([]MergePayload, 0, len(featureIDs))
		for _, featureID := range featureIDs {
			if _, ok := conflicted[featureID]; ok {
				r := resolutions[featureID]
				payloads = append(payloads, MergePayload{
					FeatureID:  featureID,
					Geometry:   r.Geometry.Clone(),
					Properties: r.Properties.Clone(),
					Deleted:    r.Deleted,
					Comment:    &comment,
				})
				continue
			}
			sv := det.SourceLatest[featureID]
			payloads = append(payloads, MergePayload{
				FeatureID:  featureID,
				Geometry:   sv.Geometry.Clone(),
				Properties: sv.Properties.Clone(),
				Deleted:    sv.Deleted,
				Comment:    &comment,
			})
		}

		reviewer := mr.CreatedBy
		if mr.ReviewedBy != nil {
			reviewer = *mr.ReviewedBy
		}
		versions, err = tx.CommitMergeVersions(target.ID, payloads, reviewer)
		if err != nil {
			return err
		}
		if _, err := tx.TransitionBranch(source.ID, BranchMerged); err != nil {
			return err
		}
		now := s.clock.Now()
		merged, err = tx.UpdateMergeRequest(id, func(m *MergeRequest) error {
			m.Status = MergeMerged
			m.MergedAt = &now
			return nil
		})
		return err
	})
	if err != nil && !isDomainError(err) {
		err = domain.MergeCommitFailedError{MergeRequestID: id, Err: err}
	}
	return merged, versions, res, err
}

// isDomainError reports whether err is one of the typed validation errors, as
// opposed to a storage failure worth retrying.
func isDomainError(err error) bool {
	var (
		notFound     domain.ErrNotFound
		notWritable  domain.BranchNotWritableError
		transition   domain.InvalidTransitionError
		mergeState   domain.MergeStateError
		unresolved   domain.UnresolvedConflictsError
		versionLimit domain.VersionLimitExceededError
		geometry     domain.InvalidGeometryError
		properties   domain.InvalidPropertiesError
		rules        domain.RuleViolationError
	)
	return errors.As(err, &notFound) ||
		errors.As(err, &notWritable) ||
		errors.As(err, &transition) ||
		errors.As(err, &mergeState) ||
		errors.As(err, &unresolved) ||
		errors.As(err, &versionLimit) ||
		errors.As(err, &geometry) ||
		errors.As(err, &properties) ||
		errors.As(err, &rules)
}

// GetMergeRequest returns a merge request by ID.
func (s *Service) GetMergeRequest(id string) (MergeRequest, bool) {
	return s.store.GetMergeRequest(id)
}

// ListMergeRequests returns a dataset's merge requests ordered by creation.
func (s *Service) ListMergeRequests(datasetID string) []MergeRequest {
	return s.store.ListMergeRequests(datasetID)
}

// ListMergeRequestsByStatus filters a dataset's merge requests by status.
func (s *Service) ListMergeRequestsByStatus(datasetID string, status MergeStatus) []MergeRequest {
	var out []MergeRequest
	for _, mr := range s.store.ListMergeRequests(datasetID) {
		if mr.Status == status {
			out = append(out, mr)
		}
	}
	return out
}

// MergeRequestsForSource returns every merge request opened from the branch,
// ordered by creation.
func (s *Service) MergeRequestsForSource(branchID string) []MergeRequest {
	branch, ok := s.store.GetBranch(branchID)
	if !ok {
		return nil
	}
	var out []MergeRequest
	for _, mr := range s.store.ListMergeRequests(branch.DatasetID) {
		if mr.SourceBranchID == branchID {
			out = append(out, mr)
		}
	}
	return out
}

// ListConflicts returns the conflicts recorded for a merge request.
func (s *Service) ListConflicts(mergeRequestID string) []MergeConflict {
	return s.store.ListConflicts(mergeRequestID)
}
