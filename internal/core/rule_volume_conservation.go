package core

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"labcore/pkg/domain"
)

const ruleVolumeConservation = "volume_conservation"

var ratioTolerance = decimal.New(1, -6)

// VolumeConservationRule rejects negative volumes and concentrations, requires
// volume on measurements of consuming protocols and checks that pool ratios
// add up to one. Samples touched by the transaction that reach zero without
// being depleted produce a warning.
func VolumeConservationRule() domain.Rule {
	return volumeConservationRule{}
}

type volumeConservationRule struct{}

func (volumeConservationRule) Name() string { return ruleVolumeConservation }

func (volumeConservationRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, s := range view.ListSamples() {
		if s.Volume.IsNegative() {
			res.Violations = append(res.Violations, volumeViolation(domain.EntitySample, s.ID, fieldVolume,
				fmt.Sprintf("sample %s has negative volume %s", s.Name, domain.FormatVolume(s.Volume))))
		}
		if s.Concentration != nil && s.Concentration.IsNegative() {
			res.Violations = append(res.Violations, volumeViolation(domain.EntitySample, s.ID, fieldConcentration,
				fmt.Sprintf("sample %s has negative concentration", s.Name)))
		}
		if !s.IsPool() {
			continue
		}
		sum := decimal.Zero
		for _, m := range s.PoolMembers {
			sum = sum.Add(m.VolumeRatio)
		}
		if sum.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(ratioTolerance) {
			res.Violations = append(res.Violations, volumeViolation(domain.EntitySample, s.ID, fieldParents,
				fmt.Sprintf("pool %s member ratios sum to %s", s.Name, sum.String())))
		}
	}

	processes := make(map[string]domain.Process)
	for _, p := range view.ListProcesses() {
		processes[p.ID] = p
	}
	for _, pm := range view.ListProcessMeasurements() {
		protocol := processes[pm.ProcessID].Protocol
		switch {
		case pm.VolumeUsed == nil && protocol.ConsumesVolume():
			res.Violations = append(res.Violations, volumeViolation(domain.EntityProcessMeasurement, pm.ID, fieldVolumeUsed,
				fmt.Sprintf("%s measurement %s has no volume used", protocol, pm.ID)))
		case pm.VolumeUsed != nil && pm.VolumeUsed.IsNegative():
			res.Violations = append(res.Violations, volumeViolation(domain.EntityProcessMeasurement, pm.ID, fieldVolumeUsed,
				fmt.Sprintf("%s measurement %s has negative volume used", protocol, pm.ID)))
		}
	}

	for _, change := range changes {
		if change.Entity != domain.EntitySample || change.After == nil {
			continue
		}
		s, ok := change.After.(domain.Sample)
		if !ok || !s.Volume.IsZero() || s.Depleted {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     ruleVolumeConservation,
			Severity: domain.SeverityWarn,
			Field:    fieldVolume,
			Message:  fmt.Sprintf("sample %s has no volume left but is not marked depleted", s.Name),
			Entity:   domain.EntitySample,
			EntityID: s.ID,
		})
	}
	return res, nil
}

func volumeViolation(entity domain.EntityType, id, field, message string) domain.Violation {
	return domain.Violation{
		Rule:     ruleVolumeConservation,
		Severity: domain.SeverityBlock,
		Kind:     domain.KindConservation,
		Field:    field,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
