package core

import (
	"context"
	"fmt"

	"labcore/pkg/domain"
)

const ruleLineageIntegrity = "lineage_integrity"

// LineageIntegrityRule enforces that lineage edges join existing samples
// through a measurement taken from the parent, are never duplicated and never
// form a cycle.
func LineageIntegrityRule() domain.Rule {
	return lineageIntegrityRule{}
}

type lineageIntegrityRule struct{}

func (lineageIntegrityRule) Name() string { return ruleLineageIntegrity }

func (lineageIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	edges := view.ListSampleLineages()
	seen := make(map[domain.LineageKey]struct{}, len(edges))
	children := make(map[string][]string)

	for _, edge := range edges {
		if edge.ParentID == edge.ChildID {
			res.Violations = append(res.Violations, lineageViolation(edge.ID, domain.KindValidation, fmt.Sprintf("sample %s is recorded as its own parent", edge.ParentID)))
			continue
		}
		if _, dup := seen[edge.Key()]; dup {
			res.Violations = append(res.Violations, lineageViolation(edge.ID, domain.KindAlreadyExists, fmt.Sprintf("lineage %s -> %s via measurement %s is recorded twice", edge.ParentID, edge.ChildID, edge.ProcessMeasurementID)))
			continue
		}
		seen[edge.Key()] = struct{}{}

		_, parentOK := view.FindSample(edge.ParentID)
		_, childOK := view.FindSample(edge.ChildID)
		if !parentOK || !childOK {
			res.Violations = append(res.Violations, lineageViolation(edge.ID, domain.KindNotFound, fmt.Sprintf("lineage %s -> %s references a missing sample", edge.ParentID, edge.ChildID)))
			continue
		}
		pm, ok := view.FindProcessMeasurement(edge.ProcessMeasurementID)
		if !ok {
			res.Violations = append(res.Violations, lineageViolation(edge.ID, domain.KindNotFound, fmt.Sprintf("lineage %s -> %s references missing measurement %s", edge.ParentID, edge.ChildID, edge.ProcessMeasurementID)))
			continue
		}
		if pm.SourceSampleID != edge.ParentID {
			res.Violations = append(res.Violations, lineageViolation(edge.ID, domain.KindValidation, fmt.Sprintf("measurement %s was taken from %s, not from parent %s", pm.ID, pm.SourceSampleID, edge.ParentID)))
		}
		children[edge.ParentID] = append(children[edge.ParentID], edge.ChildID)
	}

	if id, ok := findLineageCycle(children); ok {
		res.Violations = append(res.Violations, lineageViolation("", domain.KindValidation, fmt.Sprintf("sample %s descends from itself", id)))
	}
	return res, nil
}

// findLineageCycle runs an iterative depth-first search and returns a sample
// on the first cycle found.
func findLineageCycle(children map[string][]string) (string, bool) {
	const (
		unvisited = iota
		active
		done
	)
	state := make(map[string]int, len(children))
	type frame struct {
		id   string
		next int
	}
	for root := range children {
		if state[root] != unvisited {
			continue
		}
		stack := []frame{{id: root}}
		state[root] = active
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(children[top.id]) {
				state[top.id] = done
				stack = stack[:len(stack)-1]
				continue
			}
			child := children[top.id][top.next]
			top.next++
			switch state[child] {
			case active:
				return child, true
			case unvisited:
				state[child] = active
				stack = append(stack, frame{id: child})
			}
		}
	}
	return "", false
}

func lineageViolation(edgeID string, kind domain.ErrorKind, message string) domain.Violation {
	return domain.Violation{
		Rule:     ruleLineageIntegrity,
		Severity: domain.SeverityBlock,
		Kind:     kind,
		Field:    fieldParents,
		Message:  message,
		Entity:   domain.EntitySampleLineage,
		EntityID: edgeID,
	}
}
