package core

import (
	"context"
	"errors"
	"testing"

	"geodraft/internal/infra/persistence/memory"
	"geodraft/pkg/domain"
)

func TestVersionDepthRuleWarns(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(VersionDepthRule(3))
	store := memory.NewStore(engine, memory.WithNow(steppedClock()))
	svc := NewService(store)
	ctx := context.Background()

	_, master, _, err := svc.RegisterDataset(ctx, Dataset{Name: "parcels"}, "admin")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, _, err := svc.WriteFeature(ctx, WriteRequest{
		BranchID: master.ID, FeatureID: "plot-1", Operation: OpCreate,
		Geometry: domain.NewPoint(0, 0),
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	var res Result
	for i := 0; i < 2; i++ {
		var err error
		_, res, err = svc.WriteFeature(ctx, WriteRequest{
			BranchID: master.ID, FeatureID: "plot-1", Operation: OpUpdate,
			Geometry: domain.NewPoint(float64(i), 0),
		})
		if err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}

	// Version 3 crosses the threshold: warn, not block.
	if len(res.Violations) != 1 {
		t.Fatalf("expected 1 violation, got %d", len(res.Violations))
	}
	v := res.Violations[0]
	if v.Rule != "version_depth" || v.Severity != domain.SeverityWarn {
		t.Fatalf("unexpected violation %+v", v)
	}
	if res.HasBlocking() {
		t.Fatalf("warn violations must not block")
	}
}

func TestBranchLineageRulePasses(t *testing.T) {
	store := memory.NewStore(NewDefaultRulesEngine(), memory.WithNow(steppedClock()))
	svc := NewService(store)
	ctx := context.Background()

	dataset, master, res, err := svc.RegisterDataset(ctx, Dataset{Name: "parcels"}, "admin")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(res.Violations) != 0 {
		t.Fatalf("unexpected violations: %+v", res.Violations)
	}
	if _, _, err := svc.CreateBranch(ctx, Branch{
		Name: "work", DatasetID: dataset.ID, ParentID: &master.ID,
	}); err != nil {
		t.Fatalf("child branch: %v", err)
	}
}

func TestBranchLineageRuleBlocksBrokenLineage(t *testing.T) {
	rule := BranchLineageRule()
	if rule.Name() != "branch_lineage" {
		t.Fatalf("unexpected rule name %s", rule.Name())
	}

	// Evaluate directly against a view that lacks the referenced parent.
	store := memory.NewStore(domain.NewRulesEngine(), memory.WithNow(steppedClock()))
	ctx := context.Background()
	var dataset Dataset
	if _, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		dataset, err = tx.CreateDataset(Dataset{Name: "parcels"})
		if err != nil {
			return err
		}
		_, err = tx.CreateBranch(Branch{Name: "master", DatasetID: dataset.ID})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	missing := "gone"
	err := store.View(ctx, func(view TransactionView) error {
		res, err := rule.Evaluate(ctx, view, []Change{{
			Entity: domain.EntityBranch,
			Action: domain.ActionCreate,
			After: Branch{
				Base:      domain.Base{ID: "b-orphan"},
				Name:      "orphan",
				DatasetID: dataset.ID,
				ParentID:  &missing,
			},
		}})
		if err != nil {
			return err
		}
		if !res.HasBlocking() {
			t.Fatalf("expected blocking violation, got %+v", res.Violations)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRuleViolationBlocksCommit(t *testing.T) {
	engine := domain.NewRulesEngine()
	engine.Register(blockEverything{})
	store := memory.NewStore(engine, memory.WithNow(steppedClock()))
	svc := NewService(store)

	_, _, _, err := svc.RegisterDataset(context.Background(), Dataset{Name: "parcels"}, "admin")
	var ruleErr domain.RuleViolationError
	if !errors.As(err, &ruleErr) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if len(svc.ListDatasets()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockEverything struct{}

func (blockEverything) Name() string { return "block_everything" }

func (blockEverything) Evaluate(_ context.Context, _ TransactionView, changes []Change) (Result, error) {
	if len(changes) == 0 {
		return Result{}, nil
	}
	return Result{Violations: []Violation{{
		Rule:     "block_everything",
		Severity: domain.SeverityBlock,
		Message:  "nothing may change",
	}}}, nil
}
