package core

import (
	"time"

	"geodraft/pkg/domain"
)

// parentChain returns the branch followed by its ancestors up to the root.
func parentChain(view TransactionView, branch Branch) ([]Branch, error) {
	chain := []Branch{branch}
	cur := branch
	for cur.ParentID != nil {
		parent, ok := view.FindBranch(*cur.ParentID)
		if !ok {
			return nil, domain.ErrNotFound{Entity: EntityBranch, ID: *cur.ParentID}
		}
		chain = append(chain, parent)
		cur = parent
	}
	return chain, nil
}

// CommonAncestor returns the nearest branch present in both lineages.
// Branches in different datasets share no lineage.
func CommonAncestor(view TransactionView, a, b Branch) (Branch, error) {
	if a.DatasetID != b.DatasetID {
		return Branch{}, domain.NoCommonAncestorError{BranchA: a.ID, BranchB: b.ID}
	}
	chainA, err := parentChain(view, a)
	if err != nil {
		return Branch{}, err
	}
	seen := make(map[string]struct{}, len(chainA))
	for _, anc := range chainA {
		seen[anc.ID] = struct{}{}
	}
	chainB, err := parentChain(view, b)
	if err != nil {
		return Branch{}, err
	}
	for _, anc := range chainB {
		if _, ok := seen[anc.ID]; ok {
			return anc, nil
		}
	}
	return Branch{}, domain.NoCommonAncestorError{BranchA: a.ID, BranchB: b.ID}
}

// pathToAncestor returns the branches from start down to, but excluding, the
// ancestor. Empty when start is the ancestor itself.
func pathToAncestor(view TransactionView, start, ancestor Branch) ([]Branch, error) {
	if start.ID == ancestor.ID {
		return nil, nil
	}
	chain, err := parentChain(view, start)
	if err != nil {
		return nil, err
	}
	for i, b := range chain {
		if b.ID == ancestor.ID {
			return chain[:i], nil
		}
	}
	return nil, domain.NoCommonAncestorError{BranchA: start.ID, BranchB: ancestor.ID}
}

// forkPoint returns the instant the two lineages diverged from the ancestor:
// the creation time of the oldest branch below the ancestor on either path.
// Writes to the ancestor itself only count as divergence after this point.
func forkPoint(srcPath, tgtPath []Branch) time.Time {
	var t time.Time
	if len(srcPath) > 0 {
		t = srcPath[len(srcPath)-1].CreatedAt
	}
	if len(tgtPath) > 0 {
		if tt := tgtPath[len(tgtPath)-1].CreatedAt; t.IsZero() || tt.Before(t) {
			t = tt
		}
	}
	return t
}

// touchedSince collects, per feature, the version nearest to branch among all
// versions written on the path since the lineages diverged. When branch is the
// ancestor itself the path is empty and only versions written strictly after
// the fork point count.
func touchedSince(view TransactionView, branch Branch, path []Branch, fork time.Time) map[string]FeatureVersion {
	touched := make(map[string]FeatureVersion)
	if len(path) == 0 {
		for _, featureID := range view.LedgerFeatures(branch.ID) {
			latest, ok := view.LatestVersion(branch.ID, featureID)
			if ok && latest.CreatedAt.After(fork) {
				touched[featureID] = latest
			}
		}
		return touched
	}
	for _, b := range path {
		for _, featureID := range view.LedgerFeatures(b.ID) {
			if _, ok := touched[featureID]; ok {
				continue
			}
			if latest, ok := view.LatestVersion(b.ID, featureID); ok {
				touched[featureID] = latest
			}
		}
	}
	return touched
}
