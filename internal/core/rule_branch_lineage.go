package core

import (
	"context"
	"fmt"

	"geodraft/pkg/domain"
)

// BranchLineageRule enforces branch graph integrity: every branch's parent
// chain must terminate at its dataset's single root without cycles or
// cross-dataset links.
func BranchLineageRule() domain.Rule {
	return branchLineageRule{}
}

type branchLineageRule struct{}

func (branchLineageRule) Name() string { return "branch_lineage" }

func (branchLineageRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityBranch || change.After == nil {
			continue
		}
		branch, ok := change.After.(domain.Branch)
		if !ok {
			continue
		}
		checkBranchLineage(&res, view, branch)
	}
	return res, nil
}

func checkBranchLineage(res *domain.Result, view domain.TransactionView, branch domain.Branch) {
	seen := map[string]struct{}{branch.ID: {}}
	cur := branch
	for cur.ParentID != nil {
		parent, ok := view.FindBranch(*cur.ParentID)
		if !ok {
			res.Violations = append(res.Violations, lineageViolation(branch.ID, fmt.Sprintf("branch %s references missing parent %s", cur.ID, *cur.ParentID)))
			return
		}
		if parent.DatasetID != branch.DatasetID {
			res.Violations = append(res.Violations, lineageViolation(branch.ID, fmt.Sprintf("branch %s parent %s belongs to another dataset", cur.ID, parent.ID)))
			return
		}
		if _, dup := seen[parent.ID]; dup {
			res.Violations = append(res.Violations, lineageViolation(branch.ID, fmt.Sprintf("branch %s lineage contains a cycle through %s", branch.ID, parent.ID)))
			return
		}
		seen[parent.ID] = struct{}{}
		cur = parent
	}

	roots := 0
	for _, b := range view.ListBranches(branch.DatasetID) {
		if b.IsRoot() && b.Status != domain.BranchDeleted {
			roots++
		}
	}
	if roots != 1 {
		res.Violations = append(res.Violations, lineageViolation(branch.ID, fmt.Sprintf("dataset %s has %d root branches, expected exactly one", branch.DatasetID, roots)))
	}
}

func lineageViolation(entityID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "branch_lineage",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityBranch,
		EntityID: entityID,
	}
}
