package core

import "geodraft/pkg/domain"

type (
	EntityType         = domain.EntityType
	Actor              = domain.Actor
	Dataset            = domain.Dataset
	Branch             = domain.Branch
	BranchStatus       = domain.BranchStatus
	FeatureVersion     = domain.FeatureVersion
	MergeRequest       = domain.MergeRequest
	MergeStatus        = domain.MergeStatus
	MergeConflict      = domain.MergeConflict
	ConflictKind       = domain.ConflictKind
	Resolution         = domain.Resolution
	ResolutionStrategy = domain.ResolutionStrategy
	Decision           = domain.Decision
	Operation          = domain.Operation
	Geometry           = domain.Geometry
	GeometryKind       = domain.GeometryKind
	Properties         = domain.Properties
	WriteRequest       = domain.WriteRequest
	MergePayload       = domain.MergePayload
	Change             = domain.Change
	Action             = domain.Action
	Severity           = domain.Severity
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Rule               = domain.Rule
	RulesEngine        = domain.RulesEngine
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityDataset        = domain.EntityDataset
	EntityBranch         = domain.EntityBranch
	EntityFeatureVersion = domain.EntityFeatureVersion
	EntityMergeRequest   = domain.EntityMergeRequest
	EntityMergeConflict  = domain.EntityMergeConflict
)

const (
	BranchActive  = domain.BranchActive
	BranchMerged  = domain.BranchMerged
	BranchClosed  = domain.BranchClosed
	BranchDeleted = domain.BranchDeleted
)

const (
	OpCreate      = domain.OpCreate
	OpUpdate      = domain.OpUpdate
	OpDelete      = domain.OpDelete
	OpMergeCommit = domain.OpMergeCommit
)

const (
	MergePending   = domain.MergePending
	MergeConflicts = domain.MergeConflicts
	MergeApproved  = domain.MergeApproved
	MergeRejected  = domain.MergeRejected
	MergeMerged    = domain.MergeMerged
)

const (
	ConflictGeometry     = domain.ConflictGeometry
	ConflictProperties   = domain.ConflictProperties
	ConflictBoth         = domain.ConflictBoth
	ConflictDeleteVsEdit = domain.ConflictDeleteVsEdit
)

const (
	KeepSource = domain.KeepSource
	KeepTarget = domain.KeepTarget
	Manual     = domain.Manual
)

const (
	DecisionApprove = domain.DecisionApprove
	DecisionReject  = domain.DecisionReject
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
