package core

import (
	"context"
	"testing"

	"geodraft/internal/infra/persistence/memory"
	"geodraft/pkg/domain"
)

type detectFixture struct {
	store  *memory.Store
	master Branch
	work   Branch
}

// seedDiverged creates master with three features, forks work, then applies
// the given edits on each side.
func seedDiverged(t *testing.T, sourceEdits, targetEdits []WriteRequest) detectFixture {
	t.Helper()
	store := memory.NewStore(domain.NewRulesEngine(), memory.WithNow(steppedClock()))
	ctx := context.Background()
	var fx detectFixture
	fx.store = store
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		ds, err := tx.CreateDataset(Dataset{Name: "parcels"})
		if err != nil {
			return err
		}
		fx.master, err = tx.CreateBranch(Branch{Name: "master", DatasetID: ds.ID})
		if err != nil {
			return err
		}
		for _, featureID := range []string{"plot-1", "plot-2", "plot-3"} {
			if _, err := tx.WriteFeature(WriteRequest{
				BranchID: fx.master.ID, FeatureID: featureID, Operation: OpCreate,
				Geometry: domain.NewPoint(0, 0), Properties: Properties{"name": "A"},
			}); err != nil {
				return err
			}
		}
		fx.work, err = tx.CreateBranch(Branch{Name: "work", DatasetID: ds.ID, ParentID: &fx.master.ID})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	apply := func(branchID string, edits []WriteRequest) {
		for _, req := range edits {
			req.BranchID = branchID
			if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
				_, err := tx.WriteFeature(req)
				return err
			}); err != nil {
				t.Fatalf("apply edit to %s: %v", req.FeatureID, err)
			}
		}
	}
	apply(fx.work.ID, sourceEdits)
	apply(fx.master.ID, targetEdits)
	return fx
}

func (fx detectFixture) detect(t *testing.T) Detection {
	t.Helper()
	var det Detection
	err := fx.store.View(context.Background(), func(view TransactionView) error {
		srcPath, err := pathToAncestor(view, fx.work, fx.master)
		if err != nil {
			return err
		}
		fork := forkPoint(srcPath, nil)
		det, err = (ConflictDetector{}).Detect(view, fx.work, fx.master, fx.master, fork)
		return err
	})
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	return det
}

func update(featureID string, geom Geometry, props Properties) WriteRequest {
	return WriteRequest{FeatureID: featureID, Operation: OpUpdate, Geometry: geom, Properties: props}
}

func TestDetectPropertiesConflict(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{update("plot-1", domain.NewPoint(0, 0), Properties{"name": "B"})},
		[]WriteRequest{update("plot-1", domain.NewPoint(0, 0), Properties{"name": "C"})},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %d", len(det.Conflicts))
	}
	c := det.Conflicts[0]
	if c.Kind != ConflictProperties {
		t.Fatalf("expected properties conflict, got %s", c.Kind)
	}
	if c.FeatureID != "plot-1" {
		t.Fatalf("unexpected feature %s", c.FeatureID)
	}
}

func TestDetectGeometryConflict(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{update("plot-1", domain.NewPoint(1, 1), Properties{"name": "A"})},
		[]WriteRequest{update("plot-1", domain.NewPoint(2, 2), Properties{"name": "A"})},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 1 || det.Conflicts[0].Kind != ConflictGeometry {
		t.Fatalf("expected geometry conflict, got %+v", det.Conflicts)
	}
}

func TestDetectBothConflict(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{update("plot-1", domain.NewPoint(1, 1), Properties{"name": "B"})},
		[]WriteRequest{update("plot-1", domain.NewPoint(2, 2), Properties{"name": "C"})},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 1 || det.Conflicts[0].Kind != ConflictBoth {
		t.Fatalf("expected both conflict, got %+v", det.Conflicts)
	}
}

func TestDetectDeleteVsEdit(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{{FeatureID: "plot-1", Operation: OpDelete}},
		[]WriteRequest{update("plot-1", domain.NewPoint(2, 2), Properties{"name": "C"})},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 1 || det.Conflicts[0].Kind != ConflictDeleteVsEdit {
		t.Fatalf("expected delete_vs_edit conflict, got %+v", det.Conflicts)
	}
}

func TestDetectConvergentEditsAreNotConflicts(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{update("plot-1", domain.NewPoint(5, 5), Properties{"name": "Z"})},
		[]WriteRequest{update("plot-1", domain.NewPoint(5, 5), Properties{"name": "Z"})},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 0 {
		t.Fatalf("convergent edits must not conflict, got %+v", det.Conflicts)
	}
	if len(det.SourceLatest) != 1 || len(det.TargetLatest) != 1 {
		t.Fatalf("both sides still touched the feature")
	}
}

func TestDetectConvergentDeletes(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{{FeatureID: "plot-1", Operation: OpDelete}},
		[]WriteRequest{{FeatureID: "plot-1", Operation: OpDelete}},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 0 {
		t.Fatalf("convergent deletes must not conflict, got %+v", det.Conflicts)
	}
}

func TestDetectDisjointEdits(t *testing.T) {
	fx := seedDiverged(t,
		[]WriteRequest{update("plot-1", domain.NewPoint(1, 1), Properties{"name": "B"})},
		[]WriteRequest{update("plot-2", domain.NewPoint(2, 2), Properties{"name": "C"})},
	)
	det := fx.detect(t)
	if len(det.Conflicts) != 0 {
		t.Fatalf("disjoint edits must not conflict")
	}
	if _, ok := det.SourceLatest["plot-1"]; !ok {
		t.Fatalf("source side must report plot-1 touched")
	}
	if _, ok := det.TargetLatest["plot-2"]; !ok {
		t.Fatalf("target side must report plot-2 touched")
	}
}
