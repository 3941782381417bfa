package core

import (
	"context"
	"fmt"
	"time"

	"geodraft/pkg/domain"
)

// ResolveConflict records how a single conflict should land when the merge
// commits. keep_source and keep_target copy the respective side's latest
// version; manual supplies an explicit payload.
func (s *Service) ResolveConflict(ctx context.Context, conflictID string, strategy ResolutionStrategy, manual *MergePayload, actor Actor) (MergeConflict, Result, error) {
	ctx, finish := s.instrument(ctx, "resolve_conflict")
	var updated MergeConflict
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		view := tx.Snapshot()
		conflict, ok := view.FindConflict(conflictID)
		if !ok {
			return domain.ErrNotFound{Entity: EntityMergeConflict, ID: conflictID}
		}
		resolution, err := buildResolution(view, conflict, strategy, manual, actor, s.clock.Now())
		if err != nil {
			return err
		}
		updated, err = tx.UpdateConflict(conflictID, func(c *MergeConflict) error {
			c.Resolved = true
			c.Resolution = &resolution
			return nil
		})
		return err
	})
	finish(actor, conflictID, map[string]any{"strategy": string(strategy)}, err)
	return updated, res, err
}

// ResolveAllConflicts applies one bulk strategy to every unresolved conflict
// of a merge request. Manual resolutions are inherently per-conflict.
func (s *Service) ResolveAllConflicts(ctx context.Context, mergeRequestID string, strategy ResolutionStrategy, actor Actor) ([]MergeConflict, Result, error) {
	ctx, finish := s.instrument(ctx, "resolve_all_conflicts")
	var resolved []MergeConflict
	res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
		if strategy == Manual {
			return fmt.Errorf("manual strategy cannot be applied in bulk")
		}
		view := tx.Snapshot()
		if _, ok := view.FindMergeRequest(mergeRequestID); !ok {
			return domain.ErrNotFound{Entity: EntityMergeRequest, ID: mergeRequestID}
		}
		now := s.clock.Now()
		for _, conflict := range view.ListConflicts(mergeRequestID) {
			if conflict.Resolved {
				continue
			}
			resolution, err := buildResolution(view, conflict, strategy, nil, actor, now)
			if err != nil {
				return err
			}
			updated, err := tx.UpdateConflict(conflict.ID, func(c *MergeConflict) error {
				c.Resolved = true
				c.Resolution = &resolution
				return nil
			})
			if err != nil {
				return err
			}
			resolved = append(resolved, updated)
		}
		return nil
	})
	finish(actor, mergeRequestID, map[string]any{"strategy": string(strategy), "resolved": len(resolved)}, err)
	return resolved, res, err
}

func buildResolution(view TransactionView, conflict MergeConflict, strategy ResolutionStrategy, manual *MergePayload, actor Actor, now time.Time) (Resolution, error) {
	resolution := Resolution{
		Strategy:   strategy,
		ResolvedBy: actor,
		ResolvedAt: now,
	}
	switch strategy {
	case KeepSource:
		sv, ok := view.FindVersion(conflict.SourceVersionID)
		if !ok {
			return Resolution{}, domain.ErrNotFound{Entity: EntityFeatureVersion, ID: conflict.SourceVersionID}
		}
		resolution.Geometry = sv.Geometry.Clone()
		resolution.Properties = sv.Properties.Clone()
		resolution.Deleted = sv.Deleted
	case KeepTarget:
		tv, ok := view.FindVersion(conflict.TargetVersionID)
		if !ok {
			return Resolution{}, domain.ErrNotFound{Entity: EntityFeatureVersion, ID: conflict.TargetVersionID}
		}
		resolution.Geometry = tv.Geometry.Clone()
		resolution.Properties = tv.Properties.Clone()
		resolution.Deleted = tv.Deleted
	case Manual:
		if manual == nil {
			return Resolution{}, fmt.Errorf("manual resolution requires a payload")
		}
		if err := manual.Geometry.Validate(); err != nil {
			return Resolution{}, err
		}
		if err := manual.Properties.Validate(); err != nil {
			return Resolution{}, err
		}
		if err := checkResolutionKind(view, conflict, manual.Geometry.Kind); err != nil {
			return Resolution{}, err
		}
		resolution.Geometry = manual.Geometry.Clone()
		resolution.Properties = manual.Properties.Clone()
	default:
		return Resolution{}, fmt.Errorf("unknown resolution strategy %q", strategy)
	}
	return resolution, nil
}

// checkResolutionKind pins manual payloads to the feature's established
// geometry kind, taken from whichever conflicting side is not a tombstone.
func checkResolutionKind(view TransactionView, conflict MergeConflict, kind GeometryKind) error {
	for _, versionID := range []string{conflict.SourceVersionID, conflict.TargetVersionID} {
		v, ok := view.FindVersion(versionID)
		if !ok || v.Deleted {
			continue
		}
		if v.Geometry.Kind != kind {
			return domain.InvalidGeometryError{
				Reason: fmt.Sprintf("geometry kind %s does not match feature kind %s", kind, v.Geometry.Kind),
			}
		}
		return nil
	}
	return nil
}
