package core

import (
	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

// Rule defines an evaluation executed within a transaction boundary.
type Rule = domain.Rule

// NewRulesEngine constructs an empty engine instance.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in invariants
// evaluated against registry.
func NewDefaultRulesEngine(registry *containerkind.Registry) *RulesEngine {
	if registry == nil {
		registry = containerkind.Default()
	}
	engine := NewRulesEngine()
	engine.Register(ContainerHierarchyRule(registry))
	engine.Register(CoordinateOccupancyRule(registry))
	engine.Register(LineageIntegrityRule())
	engine.Register(VolumeConservationRule())
	return engine
}
