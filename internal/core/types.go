package core

import "labcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Container          = domain.Container
	Sample             = domain.Sample
	Process            = domain.Process
	ProcessMeasurement = domain.ProcessMeasurement
	SampleLineage      = domain.SampleLineage
	ExperimentRun      = domain.ExperimentRun
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
)

const (
	EntityContainer          = domain.EntityContainer
	EntitySample             = domain.EntitySample
	EntityProcess            = domain.EntityProcess
	EntityProcessMeasurement = domain.EntityProcessMeasurement
	EntitySampleLineage      = domain.EntitySampleLineage
	EntityExperimentRun      = domain.EntityExperimentRun
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
