package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

const (
	fieldSampleKind    = "sample_kind"
	fieldVolume        = "volume"
	fieldVolumeUsed    = "volume_used"
	fieldVolumeInPool  = "volume_in_pool"
	fieldConcentration = "concentration"
	fieldTissueSource  = "tissue_source"
	fieldSourceSample  = "source_sample"
	fieldParents       = "parents"
)

// Destination names where a produced sample is placed. When no container
// with Barcode exists one is created with Kind (a tube by default) inside
// ParentBarcode at ParentCoordinate.
type Destination struct {
	Barcode          string
	Coordinate       string
	Kind             string
	ParentBarcode    string
	ParentCoordinate string
}

// SampleInput describes a freshly submitted sample. Either ContainerBarcode
// names an existing container or Container describes one to get or create.
type SampleInput struct {
	Name             string
	Alias            string
	Kind             string
	TissueSource     string
	ContainerBarcode string
	Container        *ContainerInput
	Coordinate       string
	Volume           decimal.Decimal
	Concentration    *decimal.Decimal
	CreationDate     time.Time
	Comment          string
}

// ExtractionInput describes a nucleic acid extraction from a source sample.
type ExtractionInput struct {
	SourceSampleID string
	SampleKind     string
	VolumeUsed     *decimal.Decimal
	Destination    Destination
	Volume         decimal.Decimal
	Concentration  *decimal.Decimal
	SourceDepleted bool
	ExecutionDate  time.Time
	Comment        string
}

// TransferInput describes moving part of a sample into another position.
type TransferInput struct {
	SourceSampleID string
	VolumeUsed     *decimal.Decimal
	Destination    Destination
	SourceDepleted bool
	ExecutionDate  time.Time
	Comment        string
}

// PoolParent is one contribution to a pool.
type PoolParent struct {
	SourceSampleID string
	VolumeUsed     *decimal.Decimal
	VolumeInPool   decimal.Decimal
	SourceDepleted bool
	Comment        string
}

// PoolInput describes combining several samples into one pooled sample.
type PoolInput struct {
	Name          string
	Parents       []PoolParent
	Destination   Destination
	ExecutionDate time.Time
	Comment       string
}

// UpdateInput describes a manual volume, concentration or depletion edit.
// NewVolume and DeltaVolume are mutually exclusive.
type UpdateInput struct {
	SampleID      string
	NewVolume     *decimal.Decimal
	DeltaVolume   *decimal.Decimal
	Concentration *decimal.Decimal
	Depleted      *bool
	ExecutionDate time.Time
	Comment       string
}

// CreateSample registers a freshly submitted sample.
func (s *Service) CreateSample(ctx context.Context, in SampleInput) (Sample, Result, error) {
	var created Sample
	res, err := s.run(ctx, "create_sample", func(tx domain.Transaction, res *domain.Result) (string, error) {
		created = s.createSampleTx(ctx, tx, res, in)
		return created.ID, nil
	})
	if res.HasBlocking() || err != nil {
		return Sample{}, res, err
	}
	return created, res, nil
}

// ExtractSample draws volume from a biospecimen into a new nucleic acid
// sample and records the Extraction process, measurement and lineage edge.
func (s *Service) ExtractSample(ctx context.Context, in ExtractionInput) (Sample, Result, error) {
	var child Sample
	res, err := s.run(ctx, "extract_sample", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		child, err = s.extractTx(ctx, tx, res, in)
		return child.ID, err
	})
	if res.HasBlocking() || err != nil {
		return Sample{}, res, err
	}
	return child, res, nil
}

// TransferSample moves volume from a sample into a new position, creating a
// child sample with the same descriptive attributes.
func (s *Service) TransferSample(ctx context.Context, in TransferInput) (Sample, Result, error) {
	var child Sample
	res, err := s.run(ctx, "transfer_sample", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		child, err = s.transferTx(ctx, tx, res, in)
		return child.ID, err
	})
	if res.HasBlocking() || err != nil {
		return Sample{}, res, err
	}
	return child, res, nil
}

// PoolSamples combines parents into one pooled sample. Every parent is
// validated and all problems are reported together.
func (s *Service) PoolSamples(ctx context.Context, in PoolInput) (Sample, Result, error) {
	var pool Sample
	res, err := s.run(ctx, "pool_samples", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		pool, err = s.poolTx(ctx, tx, res, in)
		return pool.ID, err
	})
	if res.HasBlocking() || err != nil {
		return Sample{}, res, err
	}
	return pool, res, nil
}

// UpdateSample applies a manual edit and records it under the Update protocol.
func (s *Service) UpdateSample(ctx context.Context, in UpdateInput) (Sample, Result, error) {
	var updated Sample
	res, err := s.run(ctx, "update_sample", func(tx domain.Transaction, res *domain.Result) (string, error) {
		var err error
		updated, err = s.updateTx(ctx, tx, res, in)
		return updated.ID, err
	})
	if res.HasBlocking() || err != nil {
		return Sample{}, res, err
	}
	return updated, res, nil
}

func (s *Service) createSampleTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in SampleInput) Sample {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		res.Block(domain.KindValidation, fieldName, "sample name is required")
	}
	kind, ok := s.kinds.Lookup(in.Kind)
	if !ok {
		res.Block(domain.KindNotFound, fieldSampleKind, "unknown sample kind %q", in.Kind)
	}
	volume := domain.RoundVolume(in.Volume)
	if volume.IsNegative() {
		res.Block(domain.KindConservation, fieldVolume, "volume %s cannot be negative", domain.FormatVolume(volume))
	}
	var concentration *decimal.Decimal
	tissueSource := strings.TrimSpace(in.TissueSource)
	if ok {
		concentration = s.checkConcentration(res, kind, in.Concentration)
		checkTissueSource(res, kind, tissueSource)
	}
	if res.HasBlocking() {
		return Sample{}
	}

	var container Container
	if in.Container != nil {
		container = s.getOrCreateContainerTx(ctx, tx, res, *in.Container)
		if res.HasBlocking() {
			return Sample{}
		}
	} else if container, ok = lookupContainer(tx, res, fieldContainer, in.ContainerBarcode); !ok {
		return Sample{}
	}
	coord, ok := s.checkSamplePlacement(tx, res, container, in.Coordinate, "")
	if !ok {
		return Sample{}
	}

	created := in.CreationDate
	if created.IsZero() {
		created = s.now()
	}
	actor := ActorFrom(ctx)
	sample, err := tx.CreateSample(Sample{
		Base:          domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Name:          name,
		Alias:         strings.TrimSpace(in.Alias),
		Kind:          kind.Name,
		TissueSource:  tissueSource,
		ContainerID:   container.ID,
		Coordinate:    coord,
		Volume:        volume,
		Concentration: concentration,
		Depleted:      volume.IsZero(),
		CreationDate:  created,
		Comment:       in.Comment,
	})
	if err != nil {
		res.BlockErr(fieldCoordinates, err)
		return Sample{}
	}
	return sample
}

func (s *Service) extractTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in ExtractionInput) (Sample, error) {
	parent, parentOK := lookupSample(tx, res, fieldSourceSample, in.SourceSampleID)
	kind, kindOK := s.kinds.Lookup(in.SampleKind)
	switch {
	case !kindOK:
		res.Block(domain.KindNotFound, fieldSampleKind, "unknown sample kind %q", in.SampleKind)
	case !kind.IsExtracted:
		res.Block(domain.KindValidation, fieldSampleKind, "%s is not an extracted sample kind", kind.Name)
	}
	var tissueSource string
	var remaining, used decimal.Decimal
	if parentOK {
		source, ok := domain.TissueSourceFor(parent.Kind)
		if !ok {
			res.Block(domain.KindValidation, fieldSampleKind, "cannot extract from a %s sample", parent.Kind)
		}
		tissueSource = source
		remaining, used, _ = drawFrom(res, parent, in.VolumeUsed, fieldVolumeUsed)
	}
	volume := domain.RoundVolume(in.Volume)
	if volume.IsNegative() {
		res.Block(domain.KindConservation, fieldVolume, "volume %s cannot be negative", domain.FormatVolume(volume))
	}
	var concentration *decimal.Decimal
	if kindOK {
		concentration = s.checkConcentration(res, kind, in.Concentration)
	}
	if res.HasBlocking() {
		return Sample{}, nil
	}
	container, coord, ok := s.resolveDestination(ctx, tx, res, in.Destination, domain.ProtocolExtraction)
	if !ok {
		return Sample{}, nil
	}

	executed := s.executionDate(in.ExecutionDate)
	_, pm, err := s.recordProcess(ctx, tx, domain.ProtocolExtraction, parent.ID, &used, executed, in.Comment)
	if err != nil {
		return Sample{}, err
	}
	actor := ActorFrom(ctx)
	child, err := tx.CreateSample(Sample{
		Base:            domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Name:            parent.Name,
		Alias:           parent.Alias,
		Kind:            kind.Name,
		TissueSource:    tissueSource,
		ContainerID:     container.ID,
		Coordinate:      coord,
		Volume:          volume,
		Concentration:   concentration,
		Depleted:        volume.IsZero(),
		CreationDate:    executed,
		Comment:         in.Comment,
		ExtractedFromID: &parent.ID,
	})
	if err != nil {
		return Sample{}, err
	}
	if err := s.linkAndDraw(ctx, tx, parent, child, pm, remaining, in.SourceDepleted); err != nil {
		return Sample{}, err
	}
	return child, nil
}

func (s *Service) transferTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in TransferInput) (Sample, error) {
	parent, ok := lookupSample(tx, res, fieldSourceSample, in.SourceSampleID)
	if !ok {
		return Sample{}, nil
	}
	remaining, used, ok := drawFrom(res, parent, in.VolumeUsed, fieldVolumeUsed)
	if !ok {
		return Sample{}, nil
	}
	container, coord, ok := s.resolveDestination(ctx, tx, res, in.Destination, domain.ProtocolTransfer)
	if !ok {
		return Sample{}, nil
	}

	executed := s.executionDate(in.ExecutionDate)
	_, pm, err := s.recordProcess(ctx, tx, domain.ProtocolTransfer, parent.ID, &used, executed, in.Comment)
	if err != nil {
		return Sample{}, err
	}
	actor := ActorFrom(ctx)
	child, err := tx.CreateSample(Sample{
		Base:              domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Name:              parent.Name,
		Alias:             parent.Alias,
		Kind:              parent.Kind,
		TissueSource:      parent.TissueSource,
		ContainerID:       container.ID,
		Coordinate:        coord,
		Volume:            used,
		Concentration:     cloneDecimal(parent.Concentration),
		Depleted:          used.IsZero(),
		CreationDate:      executed,
		Comment:           in.Comment,
		TransferredFromID: &parent.ID,
	})
	if err != nil {
		return Sample{}, err
	}
	if err := s.linkAndDraw(ctx, tx, parent, child, pm, remaining, in.SourceDepleted); err != nil {
		return Sample{}, err
	}
	return child, nil
}

type poolDraw struct {
	parent    Sample
	in        PoolParent
	used      decimal.Decimal
	remaining decimal.Decimal
}

func (s *Service) poolTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in PoolInput) (Sample, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		res.Block(domain.KindValidation, fieldName, "pool name is required")
	}
	if len(in.Parents) == 0 {
		res.Block(domain.KindValidation, fieldParents, "at least one parent sample is required")
	}

	draws := make([]poolDraw, 0, len(in.Parents))
	seen := make(map[string]bool, len(in.Parents))
	total := decimal.Zero
	for i, p := range in.Parents {
		prefix := fmt.Sprintf("%s[%d].", fieldParents, i)
		parent, ok := lookupSample(tx, res, prefix+fieldSourceSample, p.SourceSampleID)
		if !ok {
			continue
		}
		if seen[parent.ID] {
			res.Block(domain.KindValidation, prefix+fieldSourceSample, "sample %s is listed more than once", parent.Name)
			continue
		}
		seen[parent.ID] = true
		inPool := domain.RoundVolume(p.VolumeInPool)
		if inPool.IsNegative() {
			res.Block(domain.KindConservation, prefix+fieldVolumeInPool, "volume in pool %s cannot be negative", domain.FormatVolume(inPool))
		}
		remaining, used, ok := drawFrom(res, parent, p.VolumeUsed, prefix+fieldVolumeUsed)
		if !ok {
			continue
		}
		total = total.Add(inPool)
		p.VolumeInPool = inPool
		draws = append(draws, poolDraw{parent: parent, in: p, used: used, remaining: remaining})
	}
	if res.HasBlocking() {
		return Sample{}, nil
	}
	if !total.IsPositive() {
		res.Block(domain.KindValidation, fieldVolumeInPool, "total pool volume must be positive")
		return Sample{}, nil
	}

	kindName := draws[0].parent.Kind
	tissueSource := draws[0].parent.TissueSource
	for _, d := range draws[1:] {
		if d.parent.Kind != kindName {
			res.Block(domain.KindValidation, fieldSampleKind, "pooled samples must share a kind, found %s and %s", kindName, d.parent.Kind)
			return Sample{}, nil
		}
		if d.parent.TissueSource != tissueSource {
			tissueSource = ""
		}
	}
	concentration := pooledConcentration(draws, total)
	if kind, ok := s.kinds.Lookup(string(kindName)); ok && kind.ConcentrationRequired && concentration == nil {
		res.Block(domain.KindValidation, fieldConcentration, "every %s sample in a pool must carry a concentration", kindName)
		return Sample{}, nil
	}
	container, coord, ok := s.resolveDestination(ctx, tx, res, in.Destination, domain.ProtocolPooling)
	if !ok {
		return Sample{}, nil
	}

	executed := s.executionDate(in.ExecutionDate)
	process, err := s.openProcess(ctx, tx, domain.ProtocolPooling, in.Comment, nil)
	if err != nil {
		return Sample{}, err
	}
	members := make([]domain.PoolMember, len(draws))
	measurements := make([]ProcessMeasurement, len(draws))
	for i, d := range draws {
		used := d.used
		measurements[i], err = s.recordMeasurement(ctx, tx, process.ID, d.parent.ID, &used, executed, d.in.Comment)
		if err != nil {
			return Sample{}, err
		}
		members[i] = domain.PoolMember{SourceSampleID: d.parent.ID, VolumeRatio: d.in.VolumeInPool.Div(total)}
	}
	actor := ActorFrom(ctx)
	pool, err := tx.CreateSample(Sample{
		Base:          domain.Base{CreatedBy: actor, UpdatedBy: actor},
		Name:          name,
		Kind:          kindName,
		TissueSource:  tissueSource,
		ContainerID:   container.ID,
		Coordinate:    coord,
		Volume:        domain.RoundVolume(total),
		Concentration: concentration,
		CreationDate:  executed,
		Comment:       in.Comment,
		PoolMembers:   members,
	})
	if err != nil {
		return Sample{}, err
	}
	for i, d := range draws {
		if err := s.linkAndDraw(ctx, tx, d.parent, pool, measurements[i], d.remaining, d.in.SourceDepleted); err != nil {
			return Sample{}, err
		}
	}
	return pool, nil
}

func (s *Service) updateTx(ctx context.Context, tx domain.Transaction, res *domain.Result, in UpdateInput) (Sample, error) {
	sample, ok := lookupSample(tx, res, fieldSourceSample, in.SampleID)
	if !ok {
		return Sample{}, nil
	}
	if in.NewVolume != nil && in.DeltaVolume != nil {
		res.Block(domain.KindValidation, fieldVolume, "a new volume and a volume delta cannot both be given")
		return Sample{}, nil
	}
	next := sample.Volume
	switch {
	case in.NewVolume != nil:
		next = domain.RoundVolume(*in.NewVolume)
	case in.DeltaVolume != nil:
		next = domain.RoundVolume(sample.Volume.Add(*in.DeltaVolume))
	}
	if next.IsNegative() {
		res.Block(domain.KindConservation, fieldVolume, "resulting volume %s cannot be negative", domain.FormatVolume(next))
	}
	var used *decimal.Decimal
	volumeChanged := in.NewVolume != nil || in.DeltaVolume != nil
	if volumeChanged {
		change := domain.RoundVolume(next.Sub(sample.Volume).Abs())
		used = &change
	}
	concentration := sample.Concentration
	if in.Concentration != nil {
		kind, known := s.kinds.Lookup(string(sample.Kind))
		switch {
		case in.Concentration.IsNegative():
			res.Block(domain.KindValidation, fieldConcentration, "concentration cannot be negative")
		case known && !kind.ConcentrationRequired:
			res.Warn(fieldConcentration, "concentration is ignored for %s samples", sample.Kind)
		default:
			c := domain.RoundVolume(*in.Concentration)
			concentration = &c
		}
	}
	if res.HasBlocking() {
		return Sample{}, nil
	}
	depleted := sample.Depleted
	switch {
	case in.Depleted != nil:
		depleted = *in.Depleted
	case volumeChanged && next.IsZero():
		depleted = true
	}

	executed := s.executionDate(in.ExecutionDate)
	if _, _, err := s.recordProcess(ctx, tx, domain.ProtocolUpdate, sample.ID, used, executed, in.Comment); err != nil {
		return Sample{}, err
	}
	return tx.UpdateSample(sample.ID, func(current *Sample) error {
		current.Volume = next
		current.Concentration = concentration
		current.Depleted = depleted
		current.UpdatedBy = ActorFrom(ctx)
		return nil
	})
}

// resolveDestination finds or creates the destination container and checks
// the target position. Auto-created containers carry a timestamped comment.
func (s *Service) resolveDestination(ctx context.Context, tx domain.Transaction, res *domain.Result, dest Destination, protocol domain.ProtocolName) (Container, string, bool) {
	barcode := strings.TrimSpace(dest.Barcode)
	if barcode == "" {
		res.Block(domain.KindValidation, fieldContainer, "destination container barcode is required")
		return Container{}, "", false
	}
	container, ok := tx.FindContainerByBarcode(barcode)
	if !ok {
		kind := strings.TrimSpace(dest.Kind)
		if kind == "" {
			kind = string(containerkind.Tube)
		}
		container = s.createContainerTx(ctx, tx, res, ContainerInput{
			Barcode:       barcode,
			Kind:          kind,
			ParentBarcode: dest.ParentBarcode,
			Coordinate:    dest.ParentCoordinate,
			Comment:       fmt.Sprintf("Automatically generated via %s on %s", strings.ToLower(string(protocol)), s.now().Format(time.RFC3339)),
		})
		if res.HasBlocking() {
			return Container{}, "", false
		}
	}
	coord, ok := s.checkSamplePlacement(tx, res, container, dest.Coordinate, "")
	return container, coord, ok
}

// checkSamplePlacement validates that container holds samples and that the
// normalized coordinate is free. selfID is excluded from the occupancy check.
func (s *Service) checkSamplePlacement(view domain.TransactionView, res *domain.Result, container Container, raw, selfID string) (string, bool) {
	spec, err := s.registry.Get(container.Kind)
	if err != nil {
		res.BlockErr(fieldContainer, err)
		return "", false
	}
	if !spec.IsSampleHolding() {
		res.Block(domain.KindValidation, fieldContainer, "%s (%s) cannot hold samples", container.Barcode, container.Kind)
		return "", false
	}
	coord, ok := s.normalizeCoordinate(res, spec, container, raw)
	if !ok {
		return "", false
	}
	for _, other := range view.ListSamplesInContainer(container.ID) {
		if other.ID != selfID && other.Coordinate == coord {
			res.Block(domain.KindAlreadyExists, fieldCoordinates, "%s is already occupied by sample %s", describePosition(container, coord), other.Name)
			return "", false
		}
	}
	return coord, true
}

func (s *Service) checkConcentration(res *domain.Result, kind domain.SampleKind, given *decimal.Decimal) *decimal.Decimal {
	if !kind.ConcentrationRequired {
		if given != nil {
			res.Warn(fieldConcentration, "concentration is ignored for %s samples", kind.Name)
		}
		return nil
	}
	if given == nil {
		res.Block(domain.KindValidation, fieldConcentration, "concentration is required for %s samples", kind.Name)
		return nil
	}
	if given.IsNegative() {
		res.Block(domain.KindValidation, fieldConcentration, "concentration cannot be negative")
		return nil
	}
	c := domain.RoundVolume(*given)
	return &c
}

func checkTissueSource(res *domain.Result, kind domain.SampleKind, tissueSource string) {
	switch {
	case kind.IsExtracted && tissueSource == "":
		res.Block(domain.KindValidation, fieldTissueSource, "tissue source is required for %s samples", kind.Name)
	case kind.IsExtracted && !domain.IsTissueSource(tissueSource):
		res.Block(domain.KindValidation, fieldTissueSource, "unknown tissue source %q", tissueSource)
	case !kind.IsExtracted && tissueSource != "":
		res.Block(domain.KindValidation, fieldTissueSource, "tissue source is only allowed on extracted samples, not %s", kind.Name)
	}
}

// drawFrom checks that used can be drawn from source and returns the
// remaining and the rounded used volume.
func drawFrom(res *domain.Result, source Sample, used *decimal.Decimal, field string) (decimal.Decimal, decimal.Decimal, bool) {
	if used == nil {
		res.Block(domain.KindValidation, field, "volume used is required")
		return decimal.Zero, decimal.Zero, false
	}
	if source.Depleted {
		res.Block(domain.KindConservation, field, "sample %s is depleted", source.Name)
		return decimal.Zero, decimal.Zero, false
	}
	u := domain.RoundVolume(*used)
	remaining, err := domain.DrawVolume(source.Volume, u)
	if err != nil {
		res.BlockErr(field, fmt.Errorf("sample %s: %w", source.Name, err))
		return decimal.Zero, decimal.Zero, false
	}
	return remaining, u, true
}

// linkAndDraw records the lineage edge from parent to child and decrements
// the parent, depleting it at zero or when flagged.
func (s *Service) linkAndDraw(ctx context.Context, tx domain.Transaction, parent, child Sample, pm ProcessMeasurement, remaining decimal.Decimal, flagDepleted bool) error {
	actor := ActorFrom(ctx)
	if _, err := tx.CreateSampleLineage(SampleLineage{
		Base:                 domain.Base{CreatedBy: actor, UpdatedBy: actor},
		ParentID:             parent.ID,
		ChildID:              child.ID,
		ProcessMeasurementID: pm.ID,
	}); err != nil {
		return err
	}
	_, err := tx.UpdateSample(parent.ID, func(current *Sample) error {
		current.Volume = remaining
		current.Depleted = current.Depleted || flagDepleted || remaining.IsZero()
		current.UpdatedBy = actor
		return nil
	})
	return err
}

func pooledConcentration(draws []poolDraw, total decimal.Decimal) *decimal.Decimal {
	weighted := decimal.Zero
	for _, d := range draws {
		if d.parent.Concentration == nil {
			return nil
		}
		weighted = weighted.Add(d.parent.Concentration.Mul(d.in.VolumeInPool))
	}
	c := domain.RoundVolume(weighted.Div(total))
	return &c
}

func lookupSample(view domain.TransactionView, res *domain.Result, field, id string) (Sample, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		res.Block(domain.KindValidation, field, "sample is required")
		return Sample{}, false
	}
	sample, ok := view.FindSample(id)
	if !ok {
		res.BlockErr(field, domain.NotFoundError{Entity: domain.EntitySample, ID: id})
		return Sample{}, false
	}
	return sample, true
}

func cloneDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := *d
	return &v
}
