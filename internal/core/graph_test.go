package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"geodraft/internal/infra/persistence/memory"
	"geodraft/pkg/domain"
)

func steppedClock() func() time.Time {
	var mu sync.Mutex
	current := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Second)
		return current
	}
}

type branchFixture struct {
	store   *memory.Store
	dataset Dataset
	master  Branch
	mid     Branch
	leaf    Branch
}

// seedLineage builds master <- mid <- leaf with one feature on master.
func seedLineage(t *testing.T) branchFixture {
	t.Helper()
	store := memory.NewStore(domain.NewRulesEngine(), memory.WithNow(steppedClock()))
	ctx := context.Background()
	var fx branchFixture
	fx.store = store
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		fx.dataset, err = tx.CreateDataset(Dataset{Name: "parcels"})
		if err != nil {
			return err
		}
		fx.master, err = tx.CreateBranch(Branch{Name: "master", DatasetID: fx.dataset.ID})
		if err != nil {
			return err
		}
		if _, err = tx.WriteFeature(WriteRequest{
			BranchID: fx.master.ID, FeatureID: "plot-1", Operation: OpCreate,
			Geometry: domain.NewPoint(0, 0), Properties: Properties{"name": "A"},
		}); err != nil {
			return err
		}
		fx.mid, err = tx.CreateBranch(Branch{Name: "mid", DatasetID: fx.dataset.ID, ParentID: &fx.master.ID})
		if err != nil {
			return err
		}
		fx.leaf, err = tx.CreateBranch(Branch{Name: "leaf", DatasetID: fx.dataset.ID, ParentID: &fx.mid.ID})
		return err
	})
	if err != nil {
		t.Fatalf("seed lineage: %v", err)
	}
	return fx
}

func TestCommonAncestor(t *testing.T) {
	fx := seedLineage(t)
	err := fx.store.View(context.Background(), func(view TransactionView) error {
		ancestor, err := CommonAncestor(view, fx.leaf, fx.master)
		if err != nil {
			return err
		}
		if ancestor.ID != fx.master.ID {
			t.Fatalf("expected master as ancestor, got %s", ancestor.Name)
		}

		ancestor, err = CommonAncestor(view, fx.leaf, fx.mid)
		if err != nil {
			return err
		}
		if ancestor.ID != fx.mid.ID {
			t.Fatalf("expected mid as ancestor, got %s", ancestor.Name)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCommonAncestorAcrossDatasets(t *testing.T) {
	fx := seedLineage(t)
	ctx := context.Background()
	var otherRoot Branch
	if _, err := fx.store.RunInTransaction(ctx, func(tx Transaction) error {
		other, err := tx.CreateDataset(Dataset{Name: "rivers"})
		if err != nil {
			return err
		}
		otherRoot, err = tx.CreateBranch(Branch{Name: "master", DatasetID: other.ID})
		return err
	}); err != nil {
		t.Fatalf("second dataset: %v", err)
	}

	err := fx.store.View(ctx, func(view TransactionView) error {
		_, err := CommonAncestor(view, fx.leaf, otherRoot)
		return err
	})
	var noAncestor domain.NoCommonAncestorError
	if !errors.As(err, &noAncestor) {
		t.Fatalf("expected NoCommonAncestorError, got %v", err)
	}
}

func TestPathToAncestorAndForkPoint(t *testing.T) {
	fx := seedLineage(t)
	err := fx.store.View(context.Background(), func(view TransactionView) error {
		path, err := pathToAncestor(view, fx.leaf, fx.master)
		if err != nil {
			return err
		}
		if len(path) != 2 || path[0].ID != fx.leaf.ID || path[1].ID != fx.mid.ID {
			t.Fatalf("unexpected path: %+v", path)
		}

		selfPath, err := pathToAncestor(view, fx.master, fx.master)
		if err != nil {
			return err
		}
		if len(selfPath) != 0 {
			t.Fatalf("expected empty path for the ancestor itself")
		}

		// Merging leaf into master: master's side is empty, so the fork is
		// the creation of the oldest branch below master on the leaf side.
		fork := forkPoint(path, selfPath)
		if !fork.Equal(fx.mid.CreatedAt) {
			t.Fatalf("fork point %v, want %v", fork, fx.mid.CreatedAt)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestTouchedSinceForkPointCutoff(t *testing.T) {
	fx := seedLineage(t)
	ctx := context.Background()

	// Write on master after the fork: counts as touched for the master side.
	if _, err := fx.store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.WriteFeature(WriteRequest{
			BranchID: fx.master.ID, FeatureID: "plot-1", Operation: OpUpdate,
			Geometry: domain.NewPoint(0, 0), Properties: Properties{"name": "C"},
		})
		return err
	}); err != nil {
		t.Fatalf("master write: %v", err)
	}

	err := fx.store.View(ctx, func(view TransactionView) error {
		path, err := pathToAncestor(view, fx.leaf, fx.master)
		if err != nil {
			return err
		}
		fork := forkPoint(path, nil)

		touched := touchedSince(view, fx.master, nil, fork)
		if len(touched) != 1 {
			t.Fatalf("expected master-side touch after fork, got %d", len(touched))
		}
		if touched["plot-1"].Properties["name"] != "C" {
			t.Fatalf("expected latest master version")
		}

		// The leaf never wrote anything: its side is empty even though the
		// ancestor ledger has pre-fork history.
		leafTouched := touchedSince(view, fx.leaf, path, fork)
		if len(leafTouched) != 0 {
			t.Fatalf("expected no leaf-side touches, got %d", len(leafTouched))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
