package core

import (
	"context"
	"fmt"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
	"labcore/pkg/domain"
)

const ruleCoordinateOccupancy = "coordinate_occupancy"

// CoordinateOccupancyRule validates stored coordinates against the grammar of
// the enclosing container and rejects two containers or two samples sharing
// a position where the kind forbids it.
func CoordinateOccupancyRule(registry *containerkind.Registry) domain.Rule {
	return coordinateOccupancyRule{registry: registry}
}

type coordinateOccupancyRule struct {
	registry *containerkind.Registry
}

func (coordinateOccupancyRule) Name() string { return ruleCoordinateOccupancy }

func (r coordinateOccupancyRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	containers := view.ListContainers()
	index := make(map[string]domain.Container, len(containers))
	for _, c := range containers {
		index[c.ID] = c
	}

	occupied := make(map[string][]coordinate.Placement)
	for _, c := range containers {
		if c.LocationID == nil {
			continue
		}
		parent, ok := index[*c.LocationID]
		if !ok {
			continue
		}
		spec, err := r.registry.Get(parent.Kind)
		if err != nil {
			continue
		}
		if msg := checkStoredCoordinate(spec, c.Coordinate); msg != "" {
			res.Violations = append(res.Violations, occupancyViolation(domain.EntityContainer, c.ID, domain.KindCoordinate,
				fmt.Sprintf("container %s in %s: %s", c.Barcode, parent.Barcode, msg)))
			continue
		}
		if c.Coordinate == "" || spec.CoordinateOverlapAllowed() {
			continue
		}
		placement := coordinate.Placement{ID: c.ID, ParentID: parent.ID, Coordinate: c.Coordinate}
		if coordinate.DetectOverlap(occupied[parent.ID], placement) {
			res.Violations = append(res.Violations, occupancyViolation(domain.EntityContainer, c.ID, domain.KindAlreadyExists,
				fmt.Sprintf("container %s collides at %s@%s", c.Barcode, parent.Barcode, c.Coordinate)))
			continue
		}
		occupied[parent.ID] = append(occupied[parent.ID], placement)
	}

	positions := make(map[string]string)
	for _, s := range view.ListSamples() {
		container, ok := index[s.ContainerID]
		if !ok {
			continue
		}
		spec, err := r.registry.Get(container.Kind)
		if err != nil {
			continue
		}
		if !spec.IsSampleHolding() {
			res.Violations = append(res.Violations, occupancyViolation(domain.EntitySample, s.ID, domain.KindValidation,
				fmt.Sprintf("sample %s is stored in %s (%s) which cannot hold samples", s.Name, container.Barcode, container.Kind)))
			continue
		}
		if msg := checkStoredCoordinate(spec, s.Coordinate); msg != "" {
			res.Violations = append(res.Violations, occupancyViolation(domain.EntitySample, s.ID, domain.KindCoordinate,
				fmt.Sprintf("sample %s in %s: %s", s.Name, container.Barcode, msg)))
			continue
		}
		key := positionKey(container.ID, s.Coordinate)
		if other, taken := positions[key]; taken {
			res.Violations = append(res.Violations, occupancyViolation(domain.EntitySample, s.ID, domain.KindAlreadyExists,
				fmt.Sprintf("sample %s shares %s with sample %s", s.Name, describePosition(container, s.Coordinate), other)))
			continue
		}
		positions[key] = s.Name
	}
	return res, nil
}

// checkStoredCoordinate returns a message when coord is not the normalized
// form required by spec.
func checkStoredCoordinate(spec *containerkind.Spec, coord string) string {
	if spec.RequiresCoordinates() && coord == "" {
		return fmt.Sprintf("coordinates in %s are required", spec.Coordinates())
	}
	normalized, err := coordinate.ValidateAndNormalize(coord, spec.Coordinates())
	if err != nil {
		return err.Error()
	}
	if normalized != coord {
		return fmt.Sprintf("coordinate %q is not normalized (%s)", coord, normalized)
	}
	return ""
}

func positionKey(containerID, coord string) string {
	return containerID + "@" + coord
}

func occupancyViolation(entity domain.EntityType, id string, kind domain.ErrorKind, message string) domain.Violation {
	return domain.Violation{
		Rule:     ruleCoordinateOccupancy,
		Severity: domain.SeverityBlock,
		Kind:     kind,
		Field:    fieldCoordinates,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
