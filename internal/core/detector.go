package core

import (
	"sort"
	"time"
)

// Detection is the outcome of comparing two branches against their common
// ancestor: the latest divergent version of every touched feature on each
// side, plus the features both sides changed incompatibly.
type Detection struct {
	Conflicts    []MergeConflict
	SourceLatest map[string]FeatureVersion
	TargetLatest map[string]FeatureVersion
}

// ConflictDetector classifies divergence between a source and a target branch.
type ConflictDetector struct{}

// Detect computes both touched sets and pairwise-compares the features present
// in both. Convergent edits, where both sides arrived at the same payload, are
// not conflicts. Conflict records carry no merge request ID; the caller
// attaches one before persisting.
func (ConflictDetector) Detect(view TransactionView, source, target, ancestor Branch, fork time.Time) (Detection, error) {
	srcPath, err := pathToAncestor(view, source, ancestor)
	if err != nil {
		return Detection{}, err
	}
	tgtPath, err := pathToAncestor(view, target, ancestor)
	if err != nil {
		return Detection{}, err
	}
	det := Detection{
		SourceLatest: touchedSince(view, source, srcPath, fork),
		TargetLatest: touchedSince(view, target, tgtPath, fork),
	}

	overlap := make([]string, 0, len(det.SourceLatest))
	for featureID := range det.SourceLatest {
		if _, ok := det.TargetLatest[featureID]; ok {
			overlap = append(overlap, featureID)
		}
	}
	sort.Strings(overlap)

	for _, featureID := range overlap {
		sv := det.SourceLatest[featureID]
		tv := det.TargetLatest[featureID]
		kind, conflicting := classify(sv, tv)
		if !conflicting {
			continue
		}
		det.Conflicts = append(det.Conflicts, MergeConflict{
			FeatureID:       featureID,
			Kind:            kind,
			SourceVersionID: sv.ID,
			TargetVersionID: tv.ID,
		})
	}
	return det, nil
}

func classify(sv, tv FeatureVersion) (ConflictKind, bool) {
	if sv.Deleted && tv.Deleted {
		// Convergent deletion: either tombstone yields the same end state.
		return "", false
	}
	if sv.Deleted != tv.Deleted {
		return ConflictDeleteVsEdit, true
	}
	geomDiff := !sv.Geometry.Equal(tv.Geometry)
	propDiff := !sv.Properties.Equal(tv.Properties)
	switch {
	case geomDiff && propDiff:
		return ConflictBoth, true
	case geomDiff:
		return ConflictGeometry, true
	case propDiff:
		return ConflictProperties, true
	default:
		return "", false
	}
}
