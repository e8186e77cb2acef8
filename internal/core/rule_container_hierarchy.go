package core

import (
	"context"
	"fmt"

	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

const ruleContainerHierarchy = "container_hierarchy"

// ContainerHierarchyRule enforces that every container kind is registered,
// that each parent kind can hold its children and that no container is its
// own ancestor.
func ContainerHierarchyRule(registry *containerkind.Registry) domain.Rule {
	return containerHierarchyRule{registry: registry}
}

type containerHierarchyRule struct {
	registry *containerkind.Registry
}

func (containerHierarchyRule) Name() string { return ruleContainerHierarchy }

func (r containerHierarchyRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	containers := view.ListContainers()
	index := make(map[string]domain.Container, len(containers))
	for _, c := range containers {
		index[c.ID] = c
	}

	for _, c := range containers {
		if !r.registry.Has(c.Kind) {
			res.Violations = append(res.Violations, hierarchyViolation(c, domain.KindNotFound, fmt.Sprintf("container %s has unknown kind %s", c.Barcode, c.Kind)))
			continue
		}
		if c.LocationID == nil {
			continue
		}
		parent, ok := index[*c.LocationID]
		if !ok {
			res.Violations = append(res.Violations, hierarchyViolation(c, domain.KindNotFound, fmt.Sprintf("container %s references missing location %s", c.Barcode, *c.LocationID)))
			continue
		}
		spec, err := r.registry.Get(parent.Kind)
		if err != nil {
			continue
		}
		if !spec.CanHold(c.Kind) {
			res.Violations = append(res.Violations, hierarchyViolation(c, domain.KindValidation, fmt.Sprintf("%s (%s) cannot hold %s (%s)", parent.Barcode, parent.Kind, c.Barcode, c.Kind)))
		}
		if hasCycle(index, c) {
			res.Violations = append(res.Violations, hierarchyViolation(c, domain.KindValidation, fmt.Sprintf("container %s is its own ancestor", c.Barcode)))
		}
	}
	return res, nil
}

func hasCycle(index map[string]domain.Container, start domain.Container) bool {
	seen := map[string]bool{start.ID: true}
	current := start
	for current.LocationID != nil {
		if seen[*current.LocationID] {
			return true
		}
		next, ok := index[*current.LocationID]
		if !ok {
			return false
		}
		seen[next.ID] = true
		current = next
	}
	return false
}

func hierarchyViolation(c domain.Container, kind domain.ErrorKind, message string) domain.Violation {
	return domain.Violation{
		Rule:     ruleContainerHierarchy,
		Severity: domain.SeverityBlock,
		Kind:     kind,
		Field:    fieldLocation,
		Message:  message,
		Entity:   domain.EntityContainer,
		EntityID: c.ID,
	}
}
