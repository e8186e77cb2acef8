package core

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/domain"
)

// ExperimentRunInput describes an instrument run loaded on a run container.
// Steps name the instrument protocol steps; each gets its own sub-process.
type ExperimentRunInput struct {
	Name             string
	RunType          string
	Instrument       string
	ContainerBarcode string
	StartDate        time.Time
	Steps            []string
	Comment          string
}

// LedgerEntry is one process measurement together with its protocol and the
// children it produced.
type LedgerEntry struct {
	Measurement ProcessMeasurement
	Protocol    domain.ProtocolName
	ChildIDs    []string
}

// LineageGraph is the connected lineage neighbourhood of one sample.
type LineageGraph struct {
	Sample      Sample
	Ancestors   []Sample
	Descendants []Sample
	Edges       []SampleLineage
}

// CreateExperimentRun records a run on a run container. An Experiment Run
// process is opened with a sub-process per step, and every sample on the
// container gets a measurement without volume.
func (s *Service) CreateExperimentRun(ctx context.Context, in ExperimentRunInput) (ExperimentRun, Result, error) {
	var run ExperimentRun
	res, err := s.run(ctx, "create_experiment_run", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		run, err = s.createExperimentRunTx(ctx, tx, res, in)
		return run.ID, err
	})
	if res.HasBlocking() || err != nil {
		return ExperimentRun{}, res, err
	}
	return run, res, nil
}

func (s *Service) createExperimentRunTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in ExperimentRunInput) (ExperimentRun, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		res.Block(domain.KindValidation, fieldName, "run name is required")
	}
	container, ok := lookupContainer(tx, res, fieldContainer, in.ContainerBarcode)
	if ok {
		spec, err := s.registry.Get(container.Kind)
		switch {
		case err != nil:
			res.BlockErr(fieldContainer, err)
		case !spec.IsRunContainer():
			res.Block(domain.KindValidation, fieldContainer, "%s (%s) is not a run container", container.Barcode, container.Kind)
		}
		for _, existing := range tx.ListExperimentRuns() {
			if existing.ContainerID == container.ID {
				res.Block(domain.KindAlreadyExists, fieldContainer, "%s is already used by run %s", container.Barcode, existing.Name)
				break
			}
		}
	}
	for i, step := range in.Steps {
		if strings.TrimSpace(step) == "" {
			res.Block(domain.KindValidation, "steps", "step %d has no name", i+1)
		}
	}
	if res.HasBlocking() {
		return ExperimentRun{}, nil
	}

	start := s.executionDate(in.StartDate)
	process, err := s.openProcess(ctx, tx, domain.ProtocolExperimentRun, in.Comment, nil)
	if err != nil {
		return ExperimentRun{}, err
	}
	for _, step := range in.Steps {
		if _, err := s.openProcess(ctx, tx, domain.ProtocolName(strings.TrimSpace(step)), "", &process.ID); err != nil {
			return ExperimentRun{}, err
		}
	}
	for _, sample := range tx.ListSamplesInContainer(container.ID) {
		if _, err := s.recordMeasurement(ctx, tx, process.ID, sample.ID, nil, start, in.Comment); err != nil {
			return ExperimentRun{}, err
		}
	}
	actor := ActorFrom(ctx)
	return tx.CreateExperimentRun(ExperimentRun{
		Base:        domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Name:        name,
		RunType:     strings.TrimSpace(in.RunType),
		Instrument:  strings.TrimSpace(in.Instrument),
		ContainerID: container.ID,
		ProcessID:   process.ID,
		StartDate:   start,
	})
}

// ListProcessMeasurements returns the ledger of a sample ordered by execution
// date.
func (s *Service) ListProcessMeasurements(ctx context.Context, sampleID string) ([]LedgerEntry, error) {
	var out []LedgerEntry
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		if _, ok := view.FindSample(sampleID); !ok {
			return domain.NotFoundError{Entity: domain.EntitySample, ID: sampleID}
		}
		children := make(map[string][]string)
		for _, edge := range view.ListSampleLineages() {
			children[edge.ProcessMeasurementID] = append(children[edge.ProcessMeasurementID], edge.ChildID)
		}
		for _, pm := range view.ListProcessMeasurements() {
			if pm.SourceSampleID != sampleID {
				continue
			}
			entry := LedgerEntry{Measurement: pm, ChildIDs: children[pm.ID]}
			if process, ok := view.FindProcess(pm.ProcessID); ok {
				entry.Protocol = process.Protocol
			}
			out = append(out, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Measurement.ExecutionDate.Before(out[j].Measurement.ExecutionDate)
	})
	return out, nil
}

// SampleLineageOf walks lineage edges in both directions from a sample.
func (s *Service) SampleLineageOf(ctx context.Context, sampleID string) (LineageGraph, error) {
	var graph LineageGraph
	err := s.store.View(ctx, func(view domain.TransactionView) error {
		sample, ok := view.FindSample(sampleID)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySample, ID: sampleID}
		}
		graph.Sample = sample
		edges := view.ListSampleLineages()
		up := make(map[string][]SampleLineage)
		down := make(map[string][]SampleLineage)
		for _, e := range edges {
			up[e.ChildID] = append(up[e.ChildID], e)
			down[e.ParentID] = append(down[e.ParentID], e)
		}
		included := make(map[string]bool)
		walk := func(adj map[string][]SampleLineage, next func(SampleLineage) string) []Sample {
			var found []Sample
			seen := map[string]bool{sampleID: true}
			queue := []string{sampleID}
			for len(queue) > 0 {
				id := queue[0]
				queue = queue[1:]
				for _, e := range adj[id] {
					key := e.ID
					if !included[key] {
						included[key] = true
						graph.Edges = append(graph.Edges, e)
					}
					other := next(e)
					if seen[other] {
						continue
					}
					seen[other] = true
					if related, ok := view.FindSample(other); ok {
						found = append(found, related)
					}
					queue = append(queue, other)
				}
			}
			return found
		}
		graph.Ancestors = walk(up, func(e SampleLineage) string { return e.ParentID })
		graph.Descendants = walk(down, func(e SampleLineage) string { return e.ChildID })
		return nil
	})
	return graph, err
}

func (s *Service) executionDate(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

func (s *Service) openProcess(ctx context.Context, tx domain.Transaction, protocol domain.ProtocolName, comment string, parentID *string) (Process, error) {
	actor := ActorFrom(ctx)
	return tx.CreateProcess(Process{
		Base:            domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Protocol:        protocol,
		Comment:         comment,
		ParentProcessID: parentID,
	})
}

func (s *Service) recordMeasurement(ctx context.Context, tx domain.Transaction, processID, sourceID string, used *decimal.Decimal, executed time.Time, comment string) (ProcessMeasurement, error) {
	actor := ActorFrom(ctx)
	return tx.CreateProcessMeasurement(ProcessMeasurement{
		Base:           domain.Base{CreatedBy: actor, UpdatedBy: actor},
		ProcessID:      processID,
		SourceSampleID: sourceID,
		VolumeUsed:     cloneDecimal(used),
		ExecutionDate:  executed,
		Comment:        comment,
	})
}

// recordProcess opens a single-measurement process for sourceID.
func (s *Service) recordProcess(ctx context.Context, tx domain.Transaction, protocol domain.ProtocolName, sourceID string, used *decimal.Decimal, executed time.Time, comment string) (Process, ProcessMeasurement, error) {
	process, err := s.openProcess(ctx, tx, protocol, comment, nil)
	if err != nil {
		return Process{}, ProcessMeasurement{}, err
	}
	pm, err := s.recordMeasurement(ctx, tx, process.ID, sourceID, used, executed, comment)
	if err != nil {
		return Process{}, ProcessMeasurement{}, err
	}
	return process, pm, nil
}
