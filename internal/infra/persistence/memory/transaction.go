package memory

import (
	"fmt"
	"sort"
	"time"

	"geodraft/pkg/domain"
)

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// CreateDataset registers a dataset. The root branch is provisioned by the
// caller in the same transaction.
func (tx *transaction) CreateDataset(d Dataset) (Dataset, error) {
	if d.Name == "" {
		return Dataset{}, fmt.Errorf("dataset name required")
	}
	for _, existing := range tx.state.datasets {
		if existing.Name == d.Name {
			return Dataset{}, fmtDuplicate(domain.EntityDataset, d.Name)
		}
	}
	if d.ID == "" {
		d.ID = tx.store.newID()
	}
	if _, exists := tx.state.datasets[d.ID]; exists {
		return Dataset{}, fmtDuplicate(domain.EntityDataset, d.ID)
	}
	if d.DefaultBranch == "" {
		d.DefaultBranch = "master"
	}
	d.CreatedAt = tx.now
	d.UpdatedAt = tx.now
	tx.state.datasets[d.ID] = cloneDataset(d)
	tx.recordChange(Change{Entity: domain.EntityDataset, Action: domain.ActionCreate, After: cloneDataset(d)})
	return cloneDataset(d), nil
}

// CreateBranch adds a branch to the dataset tree. A nil parent is only legal
// for the dataset's single root branch; any other parent must be active or
// merged and belong to the same dataset.
func (tx *transaction) CreateBranch(b Branch) (Branch, error) {
	ds, ok := tx.state.datasets[b.DatasetID]
	if !ok {
		return Branch{}, domain.ErrNotFound{Entity: domain.EntityDataset, ID: b.DatasetID}
	}
	if b.Name == "" {
		return Branch{}, fmt.Errorf("branch name required")
	}
	for _, existing := range tx.state.branches {
		if existing.DatasetID == b.DatasetID && existing.Name == b.Name && existing.Status != domain.BranchDeleted {
			return Branch{}, fmtDuplicate(domain.EntityBranch, b.Name)
		}
	}
	if b.ParentID == nil {
		if b.Name != ds.DefaultBranch {
			return Branch{}, domain.InvalidParentError{Reason: fmt.Sprintf("only the %s branch may be parentless", ds.DefaultBranch)}
		}
		for _, existing := range tx.state.branches {
			if existing.DatasetID == b.DatasetID && existing.IsRoot() {
				return Branch{}, domain.InvalidParentError{Reason: "dataset already has a root branch"}
			}
		}
	} else {
		parent, ok := tx.state.branches[*b.ParentID]
		if !ok {
			return Branch{}, domain.InvalidParentError{ParentID: *b.ParentID, Reason: "parent branch not found"}
		}
		if parent.DatasetID != b.DatasetID {
			return Branch{}, domain.InvalidParentError{ParentID: *b.ParentID, Reason: "parent belongs to another dataset"}
		}
		if parent.Status != domain.BranchActive && parent.Status != domain.BranchMerged {
			return Branch{}, domain.InvalidParentError{ParentID: *b.ParentID, Reason: fmt.Sprintf("parent is %s", parent.Status)}
		}
	}
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if _, exists := tx.state.branches[b.ID]; exists {
		return Branch{}, fmtDuplicate(domain.EntityBranch, b.ID)
	}
	if b.Status == "" {
		b.Status = domain.BranchActive
	}
	b.MergedAt = nil
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.branches[b.ID] = cloneBranch(b)
	tx.recordChange(Change{Entity: domain.EntityBranch, Action: domain.ActionCreate, After: cloneBranch(b)})
	return cloneBranch(b), nil
}

// TransitionBranch applies the forward-only status table.
func (tx *transaction) TransitionBranch(id string, next domain.BranchStatus) (Branch, error) {
	current, ok := tx.state.branches[id]
	if !ok {
		return Branch{}, domain.ErrNotFound{Entity: domain.EntityBranch, ID: id}
	}
	if !current.Status.CanTransitionTo(next) {
		return Branch{}, domain.InvalidTransitionError{BranchID: id, From: current.Status, To: next}
	}
	before := cloneBranch(current)
	current.Status = next
	current.UpdatedAt = tx.now
	if next == domain.BranchMerged {
		at := tx.now
		current.MergedAt = &at
	}
	tx.state.branches[id] = cloneBranch(current)
	tx.recordChange(Change{Entity: domain.EntityBranch, Action: domain.ActionUpdate, Before: before, After: cloneBranch(current)})
	return cloneBranch(current), nil
}

// WriteFeature appends one version to the (branch, feature) ledger. Version
// numbers are assigned under the store lock, so concurrent writers can never
// observe a duplicate or a gap.
func (tx *transaction) WriteFeature(req domain.WriteRequest) (FeatureVersion, error) {
	branch, ok := tx.state.branches[req.BranchID]
	if !ok {
		return FeatureVersion{}, domain.ErrNotFound{Entity: domain.EntityBranch, ID: req.BranchID}
	}
	if !branch.Status.Writable() {
		return FeatureVersion{}, domain.BranchNotWritableError{BranchID: branch.ID, Status: branch.Status}
	}
	if mr, open := openMergeRequestForSource(&tx.state, branch.ID); open && mr.Status == domain.MergeApproved {
		return FeatureVersion{}, domain.BranchAlreadyMergingError{BranchID: branch.ID, MergeRequestID: mr.ID}
	}
	if req.FeatureID == "" {
		return FeatureVersion{}, fmt.Errorf("feature id required")
	}

	ledger := tx.state.versions[branch.ID]
	prior := ledger[req.FeatureID]

	switch req.Operation {
	case domain.OpCreate:
		if len(prior) > 0 {
			return FeatureVersion{}, fmtDuplicate(domain.EntityFeatureVersion, req.FeatureID)
		}
	case domain.OpUpdate, domain.OpDelete:
		if len(prior) == 0 {
			return FeatureVersion{}, domain.ErrNotFound{Entity: domain.EntityFeatureVersion, ID: req.FeatureID}
		}
	default:
		return FeatureVersion{}, fmt.Errorf("operation %q not allowed for editor writes", req.Operation)
	}

	fv := FeatureVersion{
		ID:        tx.store.newID(),
		BranchID:  branch.ID,
		FeatureID: req.FeatureID,
		Operation: req.Operation,
		CreatedBy: req.Author,
		CreatedAt: tx.now,
		Comment:   cloneStringPtr(req.Comment),
	}
	if len(prior) > 0 {
		fv.Supersedes = cloneStringPtr(&prior[len(prior)-1].ID)
	}

	if req.Operation == domain.OpDelete {
		// Tombstone: the last known payload is retained, not removed.
		last := prior[len(prior)-1]
		fv.Geometry = last.Geometry.Clone()
		fv.Properties = last.Properties.Clone()
		fv.Deleted = true
	} else {
		if err := req.Geometry.Validate(); err != nil {
			return FeatureVersion{}, err
		}
		if err := req.Properties.Validate(); err != nil {
			return FeatureVersion{}, err
		}
		if len(prior) > 0 && prior[0].Geometry.Kind != req.Geometry.Kind {
			return FeatureVersion{}, domain.InvalidGeometryError{
				Reason: fmt.Sprintf("kind %s does not match feature history (%s)", req.Geometry.Kind, prior[0].Geometry.Kind),
			}
		}
		fv.Geometry = req.Geometry.Clone()
		fv.Properties = req.Properties.Clone()
	}

	appended, err := tx.appendVersion(branch.ID, req.FeatureID, fv)
	if err != nil {
		return FeatureVersion{}, err
	}
	tx.recordChange(Change{Entity: domain.EntityFeatureVersion, Action: domain.ActionCreate, After: cloneVersion(appended)})
	return cloneVersion(appended), nil
}

// CommitMergeVersions atomically appends a batch of merge-commit versions to
// the target branch, each continuing that feature's existing sequence. The
// whole batch is validated before the first append; any failure surfaces
// before the enclosing transaction commits, so partial application is never
// observable.
func (tx *transaction) CommitMergeVersions(targetBranchID string, payloads []domain.MergePayload, author domain.Actor) ([]FeatureVersion, error) {
	branch, ok := tx.state.branches[targetBranchID]
	if !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityBranch, ID: targetBranchID}
	}
	if !branch.Status.Writable() {
		return nil, domain.BranchNotWritableError{BranchID: branch.ID, Status: branch.Status}
	}
	for _, p := range payloads {
		if p.FeatureID == "" {
			return nil, fmt.Errorf("feature id required in merge payload")
		}
		if err := p.Geometry.Validate(); err != nil {
			return nil, err
		}
		if err := p.Properties.Validate(); err != nil {
			return nil, err
		}
		if limit := tx.store.versionLimit; limit > 0 {
			if ledger := tx.state.versions[branch.ID]; len(ledger[p.FeatureID]) >= limit {
				return nil, domain.VersionLimitExceededError{BranchID: branch.ID, FeatureID: p.FeatureID, Limit: limit}
			}
		}
	}

	out := make([]FeatureVersion, 0, len(payloads))
	for _, p := range payloads {
		fv := FeatureVersion{
			ID:         tx.store.newID(),
			BranchID:   branch.ID,
			FeatureID:  p.FeatureID,
			Geometry:   p.Geometry.Clone(),
			Properties: p.Properties.Clone(),
			Operation:  domain.OpMergeCommit,
			Deleted:    p.Deleted,
			CreatedBy:  author,
			CreatedAt:  tx.now,
			Comment:    cloneStringPtr(p.Comment),
		}
		if prior := tx.state.versions[branch.ID][p.FeatureID]; len(prior) > 0 {
			fv.Supersedes = cloneStringPtr(&prior[len(prior)-1].ID)
		}
		appended, err := tx.appendVersion(branch.ID, p.FeatureID, fv)
		if err != nil {
			return nil, err
		}
		tx.recordChange(Change{Entity: domain.EntityFeatureVersion, Action: domain.ActionCreate, After: cloneVersion(appended)})
		out = append(out, cloneVersion(appended))
	}
	return out, nil
}

func (tx *transaction) appendVersion(branchID, featureID string, fv FeatureVersion) (FeatureVersion, error) {
	ledger := tx.state.versions[branchID]
	if ledger == nil {
		ledger = map[string][]FeatureVersion{}
		tx.state.versions[branchID] = ledger
	}
	prior := ledger[featureID]
	if limit := tx.store.versionLimit; limit > 0 && len(prior) >= limit {
		return FeatureVersion{}, domain.VersionLimitExceededError{BranchID: branchID, FeatureID: featureID, Limit: limit}
	}
	fv.Version = len(prior) + 1
	ledger[featureID] = append(prior, fv)
	tx.state.versionIndex[fv.ID] = versionRef{branchID: branchID, featureID: featureID, idx: fv.Version - 1}
	return fv, nil
}

// CreateMergeRequest records a new request after validating the one-open-
// request-per-source invariant and branch states.
func (tx *transaction) CreateMergeRequest(mr MergeRequest) (MergeRequest, error) {
	source, ok := tx.state.branches[mr.SourceBranchID]
	if !ok {
		return MergeRequest{}, domain.ErrNotFound{Entity: domain.EntityBranch, ID: mr.SourceBranchID}
	}
	target, ok := tx.state.branches[mr.TargetBranchID]
	if !ok {
		return MergeRequest{}, domain.ErrNotFound{Entity: domain.EntityBranch, ID: mr.TargetBranchID}
	}
	if source.ID == target.ID {
		return MergeRequest{}, fmt.Errorf("source and target branches must differ")
	}
	if !source.Status.Writable() {
		return MergeRequest{}, domain.BranchNotWritableError{BranchID: source.ID, Status: source.Status}
	}
	if !target.Status.Writable() {
		return MergeRequest{}, domain.BranchNotWritableError{BranchID: target.ID, Status: target.Status}
	}
	if existing, open := openMergeRequestForSource(&tx.state, source.ID); open {
		return MergeRequest{}, domain.DuplicateMergeRequestError{SourceBranchID: source.ID, ExistingID: existing.ID}
	}
	if mr.ID == "" {
		mr.ID = tx.store.newID()
	}
	if _, exists := tx.state.mergeRequests[mr.ID]; exists {
		return MergeRequest{}, fmtDuplicate(domain.EntityMergeRequest, mr.ID)
	}
	if mr.Status == "" {
		mr.Status = domain.MergePending
	}
	mr.CreatedAt = tx.now
	mr.UpdatedAt = tx.now
	tx.state.mergeRequests[mr.ID] = cloneMergeRequest(mr)
	tx.recordChange(Change{Entity: domain.EntityMergeRequest, Action: domain.ActionCreate, After: cloneMergeRequest(mr)})
	return cloneMergeRequest(mr), nil
}

// UpdateMergeRequest mutates a request via the provided mutator. Status
// changes must follow the merge state machine.
func (tx *transaction) UpdateMergeRequest(id string, mutator func(*MergeRequest) error) (MergeRequest, error) {
	current, ok := tx.state.mergeRequests[id]
	if !ok {
		return MergeRequest{}, domain.ErrNotFound{Entity: domain.EntityMergeRequest, ID: id}
	}
	before := cloneMergeRequest(current)
	if err := mutator(&current); err != nil {
		return MergeRequest{}, err
	}
	if current.Status != before.Status && !before.Status.CanTransitionTo(current.Status) {
		return MergeRequest{}, domain.MergeStateError{MergeRequestID: id, Status: before.Status, Op: fmt.Sprintf("transition to %s", current.Status)}
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.mergeRequests[id] = cloneMergeRequest(current)
	tx.recordChange(Change{Entity: domain.EntityMergeRequest, Action: domain.ActionUpdate, Before: before, After: cloneMergeRequest(current)})
	return cloneMergeRequest(current), nil
}

// CreateConflicts records a detection batch for a merge request.
func (tx *transaction) CreateConflicts(batch []MergeConflict) ([]MergeConflict, error) {
	out := make([]MergeConflict, 0, len(batch))
	for _, c := range batch {
		if _, ok := tx.state.mergeRequests[c.MergeRequestID]; !ok {
			return nil, domain.ErrNotFound{Entity: domain.EntityMergeRequest, ID: c.MergeRequestID}
		}
		if c.ID == "" {
			c.ID = tx.store.newID()
		}
		if _, exists := tx.state.conflicts[c.ID]; exists {
			return nil, fmtDuplicate(domain.EntityMergeConflict, c.ID)
		}
		c.CreatedAt = tx.now
		tx.state.conflicts[c.ID] = cloneConflict(c)
		tx.recordChange(Change{Entity: domain.EntityMergeConflict, Action: domain.ActionCreate, After: cloneConflict(c)})
		out = append(out, cloneConflict(c))
	}
	return out, nil
}

// UpdateConflict mutates a conflict. Conflicts of terminal merge requests
// are immutable historical record.
func (tx *transaction) UpdateConflict(id string, mutator func(*MergeConflict) error) (MergeConflict, error) {
	current, ok := tx.state.conflicts[id]
	if !ok {
		return MergeConflict{}, domain.ErrNotFound{Entity: domain.EntityMergeConflict, ID: id}
	}
	if mr, ok := tx.state.mergeRequests[current.MergeRequestID]; ok && mr.Status.Terminal() {
		return MergeConflict{}, domain.MergeStateError{MergeRequestID: mr.ID, Status: mr.Status, Op: "conflict mutation"}
	}
	before := cloneConflict(current)
	if err := mutator(&current); err != nil {
		return MergeConflict{}, err
	}
	current.ID = id
	tx.state.conflicts[id] = cloneConflict(current)
	tx.recordChange(Change{Entity: domain.EntityMergeConflict, Action: domain.ActionUpdate, Before: before, After: cloneConflict(current)})
	return cloneConflict(current), nil
}

// transactionView exposes a read-only snapshot of transactional state.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) FindDataset(id string) (Dataset, bool) {
	d, ok := v.state.datasets[id]
	if !ok {
		return Dataset{}, false
	}
	return cloneDataset(d), true
}

func (v transactionView) FindBranch(id string) (Branch, bool) {
	b, ok := v.state.branches[id]
	if !ok {
		return Branch{}, false
	}
	return cloneBranch(b), true
}

func (v transactionView) BranchByName(datasetID, name string) (Branch, bool) {
	for _, b := range v.state.branches {
		if b.DatasetID == datasetID && b.Name == name && b.Status != domain.BranchDeleted {
			return cloneBranch(b), true
		}
	}
	return Branch{}, false
}

func (v transactionView) ListBranches(datasetID string) []Branch {
	return listBranches(v.state, datasetID)
}

func (v transactionView) LatestVersion(branchID, featureID string) (FeatureVersion, bool) {
	return latestVersion(v.state, branchID, featureID)
}

func (v transactionView) History(branchID, featureID string) []FeatureVersion {
	return history(v.state, branchID, featureID)
}

// LedgerFeatures returns the feature ids touched in the branch's own ledger,
// sorted for deterministic iteration.
func (v transactionView) LedgerFeatures(branchID string) []string {
	ledger := v.state.versions[branchID]
	out := make([]string, 0, len(ledger))
	for featureID := range ledger {
		out = append(out, featureID)
	}
	sort.Strings(out)
	return out
}

func (v transactionView) FindVersion(id string) (FeatureVersion, bool) {
	ref, ok := v.state.versionIndex[id]
	if !ok {
		return FeatureVersion{}, false
	}
	versions := v.state.versions[ref.branchID][ref.featureID]
	if ref.idx >= len(versions) {
		return FeatureVersion{}, false
	}
	return cloneVersion(versions[ref.idx]), true
}

func (v transactionView) FindMergeRequest(id string) (MergeRequest, bool) {
	mr, ok := v.state.mergeRequests[id]
	if !ok {
		return MergeRequest{}, false
	}
	return cloneMergeRequest(mr), true
}

func (v transactionView) OpenMergeRequestForSource(branchID string) (MergeRequest, bool) {
	return openMergeRequestForSource(v.state, branchID)
}

func (v transactionView) ListMergeRequests(datasetID string) []MergeRequest {
	return listMergeRequests(v.state, datasetID)
}

func (v transactionView) ListConflicts(mergeRequestID string) []MergeConflict {
	return listConflicts(v.state, mergeRequestID)
}

func (v transactionView) FindConflict(id string) (MergeConflict, bool) {
	c, ok := v.state.conflicts[id]
	if !ok {
		return MergeConflict{}, false
	}
	return cloneConflict(c), true
}
