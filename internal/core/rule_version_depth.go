package core

import (
	"context"
	"fmt"

	"geodraft/pkg/domain"
)

// DefaultVersionDepthThreshold is the ledger depth at which the version depth
// rule starts warning.
const DefaultVersionDepthThreshold = 500

// VersionDepthRule warns when a feature's per-branch ledger grows past the
// threshold, signalling a branch that should be merged or split.
func VersionDepthRule(threshold int) domain.Rule {
	if threshold <= 0 {
		threshold = DefaultVersionDepthThreshold
	}
	return versionDepthRule{threshold: threshold}
}

type versionDepthRule struct {
	threshold int
}

func (versionDepthRule) Name() string { return "version_depth" }

func (r versionDepthRule) Evaluate(_ context.Context, _ domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityFeatureVersion || change.After == nil {
			continue
		}
		version, ok := change.After.(domain.FeatureVersion)
		if !ok {
			continue
		}
		if version.Version >= r.threshold {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "version_depth",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("feature %s on branch %s reached version %d", version.FeatureID, version.BranchID, version.Version),
				Entity:   domain.EntityFeatureVersion,
				EntityID: version.ID,
			})
		}
	}
	return res, nil
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(BranchLineageRule())
	engine.Register(VersionDepthRule(DefaultVersionDepthThreshold))
	return engine
}
