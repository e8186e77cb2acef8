package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/coordinate"
	"labcore/pkg/domain"
)

// DateLayout is the calendar date format accepted in batch rows.
const DateLayout = "2006-01-02"

// ContainerRow is one container line of a batch.
type ContainerRow struct {
	Barcode       string `yaml:"barcode" json:"barcode"`
	Kind          string `yaml:"kind" json:"kind"`
	Name          string `yaml:"name" json:"name"`
	ParentBarcode string `yaml:"location" json:"location"`
	Coordinate    string `yaml:"coordinates" json:"coordinates"`
	Comment       string `yaml:"comment" json:"comment"`
}

// SampleRow is one submitted sample line of a batch. When ContainerKind is
// set the container is fetched or created from the Container* columns.
type SampleRow struct {
	Name                   string `yaml:"name" json:"name"`
	Alias                  string `yaml:"alias" json:"alias"`
	Kind                   string `yaml:"sample_kind" json:"sample_kind"`
	TissueSource           string `yaml:"tissue_source" json:"tissue_source"`
	ContainerBarcode       string `yaml:"container_barcode" json:"container_barcode"`
	ContainerKind          string `yaml:"container_kind" json:"container_kind"`
	ContainerName          string `yaml:"container_name" json:"container_name"`
	ContainerParentBarcode string `yaml:"container_location" json:"container_location"`
	ContainerCoordinate    string `yaml:"container_coordinates" json:"container_coordinates"`
	Coordinate             string `yaml:"coordinates" json:"coordinates"`
	Volume                 string `yaml:"volume" json:"volume"`
	Concentration          string `yaml:"concentration" json:"concentration"`
	CreationDate           string `yaml:"creation_date" json:"creation_date"`
	Comment                string `yaml:"comment" json:"comment"`
}

// SourceRef locates a source sample by its container position.
type SourceRef struct {
	Barcode    string `yaml:"source_barcode" json:"source_barcode"`
	Coordinate string `yaml:"source_coordinates" json:"source_coordinates"`
}

// DestinationRow locates or describes the destination of a produced sample.
type DestinationRow struct {
	Barcode          string `yaml:"destination_barcode" json:"destination_barcode"`
	Coordinate       string `yaml:"destination_coordinates" json:"destination_coordinates"`
	Kind             string `yaml:"destination_kind" json:"destination_kind"`
	ParentBarcode    string `yaml:"destination_location" json:"destination_location"`
	ParentCoordinate string `yaml:"destination_location_coordinates" json:"destination_location_coordinates"`
}

// ExtractionRow is one extraction line of a batch.
type ExtractionRow struct {
	SourceRef      `yaml:",inline"`
	DestinationRow `yaml:",inline"`
	SampleKind     string `yaml:"sample_kind" json:"sample_kind"`
	VolumeUsed     string `yaml:"volume_used" json:"volume_used"`
	Volume         string `yaml:"volume" json:"volume"`
	Concentration  string `yaml:"concentration" json:"concentration"`
	SourceDepleted string `yaml:"source_depleted" json:"source_depleted"`
	ExecutionDate  string `yaml:"execution_date" json:"execution_date"`
	Comment        string `yaml:"comment" json:"comment"`
}

// TransferRow is one transfer line of a batch.
type TransferRow struct {
	SourceRef      `yaml:",inline"`
	DestinationRow `yaml:",inline"`
	VolumeUsed     string `yaml:"volume_used" json:"volume_used"`
	SourceDepleted string `yaml:"source_depleted" json:"source_depleted"`
	ExecutionDate  string `yaml:"execution_date" json:"execution_date"`
	Comment        string `yaml:"comment" json:"comment"`
}

// PoolParentRow is one contribution listed under a pool row.
type PoolParentRow struct {
	SourceRef      `yaml:",inline"`
	VolumeUsed     string `yaml:"volume_used" json:"volume_used"`
	VolumeInPool   string `yaml:"volume_in_pool" json:"volume_in_pool"`
	SourceDepleted string `yaml:"source_depleted" json:"source_depleted"`
	Comment        string `yaml:"comment" json:"comment"`
}

// PoolRow is one pool line of a batch.
type PoolRow struct {
	Name           string          `yaml:"name" json:"name"`
	Parents        []PoolParentRow `yaml:"parents" json:"parents"`
	DestinationRow `yaml:",inline"`
	ExecutionDate  string `yaml:"execution_date" json:"execution_date"`
	Comment        string `yaml:"comment" json:"comment"`
}

// UpdateRow is one manual sample edit. Volume and VolumeDelta are mutually
// exclusive.
type UpdateRow struct {
	SourceRef     `yaml:",inline"`
	Volume        string `yaml:"volume" json:"volume"`
	VolumeDelta   string `yaml:"volume_delta" json:"volume_delta"`
	Concentration string `yaml:"concentration" json:"concentration"`
	Depleted      string `yaml:"depleted" json:"depleted"`
	ExecutionDate string `yaml:"execution_date" json:"execution_date"`
	Comment       string `yaml:"comment" json:"comment"`
}

// MoveRow relocates a container.
type MoveRow struct {
	Barcode            string `yaml:"barcode" json:"barcode"`
	DestinationBarcode string `yaml:"location" json:"location"`
	Coordinate         string `yaml:"coordinates" json:"coordinates"`
	Comment            string `yaml:"comment" json:"comment"`
}

// RenameRow changes a container barcode and/or name.
type RenameRow struct {
	Barcode    string `yaml:"barcode" json:"barcode"`
	NewBarcode string `yaml:"new_barcode" json:"new_barcode"`
	NewName    string `yaml:"new_name" json:"new_name"`
	Comment    string `yaml:"comment" json:"comment"`
}

// Batch groups the rows of one import. Sections apply in field order.
type Batch struct {
	Containers  []ContainerRow  `yaml:"containers" json:"containers"`
	Samples     []SampleRow     `yaml:"samples" json:"samples"`
	Extractions []ExtractionRow `yaml:"extractions" json:"extractions"`
	Transfers   []TransferRow   `yaml:"transfers" json:"transfers"`
	Pools       []PoolRow       `yaml:"pools" json:"pools"`
	Updates     []UpdateRow     `yaml:"updates" json:"updates"`
	Moves       []MoveRow       `yaml:"moves" json:"moves"`
	Renames     []RenameRow     `yaml:"renames" json:"renames"`
}

// Rows returns the total number of rows.
func (b Batch) Rows() int {
	return len(b.Containers) + len(b.Samples) + len(b.Extractions) + len(b.Transfers) +
		len(b.Pools) + len(b.Updates) + len(b.Moves) + len(b.Renames)
}

// RowReport is the outcome of one row. Row numbers start at 1 per section.
type RowReport struct {
	Section  string `json:"section"`
	Row      int    `json:"row"`
	EntityID string `json:"entity_id,omitempty"`
	Result   Result `json:"result"`
}

// ImportReport summarises a batch import.
type ImportReport struct {
	Rows      []RowReport `json:"rows"`
	DryRun    bool        `json:"dry_run"`
	Committed bool        `json:"committed"`
	Result    Result      `json:"result"`
}

// Importer applies batches of primitive rows through the service in a single
// transaction. Any blocking row rolls back the whole batch.
type Importer struct {
	svc *Service
}

// NewImporter returns an importer bound to svc.
func NewImporter(svc *Service) *Importer {
	return &Importer{svc: svc}
}

// Import validates and applies batch. With dryRun set every row is validated
// and the transaction is rolled back.
func (im *Importer) Import(ctx context.Context, batch Batch, dryRun bool) (ImportReport, error) {
	if dryRun {
		ctx = domain.WithDryRun(ctx)
	}
	report := ImportReport{DryRun: dryRun}
	s := im.svc
	res, err := s.run(ctx, "import_batch", func(tx domain.Transaction, res *domain.Result) (string, error) {
		report.Rows = report.Rows[:0]
		apply := func(section string, i int, fn func(rowRes *domain.Result) (string, error)) error {
			row := RowReport{Section: section, Row: i + 1}
			id, err := fn(&row.Result)
			if err != nil {
				return fmt.Errorf("%s row %d: %w", section, i+1, err)
			}
			if !row.Result.HasBlocking() {
				row.EntityID = id
			}
			for _, v := range row.Result.Violations {
				v.Field = fmt.Sprintf("%s[%d].%s", section, i+1, v.Field)
				res.Violations = append(res.Violations, v)
			}
			report.Rows = append(report.Rows, row)
			return nil
		}
		for i, row := range batch.Containers {
			if err := apply("containers", i, func(r *domain.Result) (string, error) {
				return s.createContainerTx(ctx, tx, r, ContainerInput(row)).ID, nil
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Samples {
			if err := apply("samples", i, func(r *domain.Result) (string, error) {
				in, ok := parseSampleRow(r, row)
				if !ok {
					return "", nil
				}
				return s.createSampleTx(ctx, tx, r, in).ID, nil
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Extractions {
			if err := apply("extractions", i, func(r *domain.Result) (string, error) {
				in, ok := im.parseExtractionRow(tx, r, row)
				if !ok {
					return "", nil
				}
				child, err := s.extractTx(ctx, tx, r, in)
				return child.ID, err
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Transfers {
			if err := apply("transfers", i, func(r *domain.Result) (string, error) {
				in, ok := im.parseTransferRow(tx, r, row)
				if !ok {
					return "", nil
				}
				child, err := s.transferTx(ctx, tx, r, in)
				return child.ID, err
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Pools {
			if err := apply("pools", i, func(r *domain.Result) (string, error) {
				in, ok := im.parsePoolRow(tx, r, row)
				if !ok {
					return "", nil
				}
				pool, err := s.poolTx(ctx, tx, r, in)
				return pool.ID, err
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Updates {
			if err := apply("updates", i, func(r *domain.Result) (string, error) {
				in, ok := im.parseUpdateRow(tx, r, row)
				if !ok {
					return "", nil
				}
				updated, err := s.updateTx(ctx, tx, r, in)
				return updated.ID, err
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Moves {
			if err := apply("moves", i, func(r *domain.Result) (string, error) {
				moved, err := s.moveContainerTx(ctx, tx, r, row.Barcode, row.DestinationBarcode, row.Coordinate, row.Comment)
				return moved.ID, err
			}); err != nil {
				return "", err
			}
		}
		for i, row := range batch.Renames {
			if err := apply("renames", i, func(r *domain.Result) (string, error) {
				renamed, err := s.renameContainerTx(ctx, tx, r, row.Barcode, row.NewBarcode, row.NewName, row.Comment)
				return renamed.ID, err
			}); err != nil {
				return "", err
			}
		}
		return "", nil
	})
	report.Result = res
	report.Committed = err == nil && !res.HasBlocking() && !dryRun
	return report, err
}

func parseSampleRow(res *domain.Result, row SampleRow) (SampleInput, bool) {
	in := SampleInput{
		Name:             row.Name,
		Alias:            row.Alias,
		Kind:             row.Kind,
		TissueSource:     row.TissueSource,
		ContainerBarcode: row.ContainerBarcode,
		Coordinate:       row.Coordinate,
		Comment:          row.Comment,
	}
	if strings.TrimSpace(row.ContainerKind) != "" {
		in.Container = &ContainerInput{
			Barcode:       row.ContainerBarcode,
			Kind:          row.ContainerKind,
			Name:          row.ContainerName,
			ParentBarcode: row.ContainerParentBarcode,
			Coordinate:    row.ContainerCoordinate,
		}
	}
	in.Volume = parseRequiredVolume(res, fieldVolume, row.Volume)
	in.Concentration = parseOptionalDecimal(res, fieldConcentration, row.Concentration)
	in.CreationDate = parseDate(res, "creation_date", row.CreationDate)
	return in, !res.HasBlocking()
}

func (im *Importer) parseExtractionRow(view domain.TransactionView, res *domain.Result, row ExtractionRow) (ExtractionInput, bool) {
	in := ExtractionInput{
		SourceSampleID: im.resolveSource(view, res, fieldSourceSample, row.SourceRef),
		SampleKind:     row.SampleKind,
		VolumeUsed:     parseOptionalDecimal(res, fieldVolumeUsed, row.VolumeUsed),
		Destination:    Destination(row.DestinationRow),
		Volume:         parseRequiredVolume(res, fieldVolume, row.Volume),
		Concentration:  parseOptionalDecimal(res, fieldConcentration, row.Concentration),
		SourceDepleted: parseBool(res, "source_depleted", row.SourceDepleted),
		ExecutionDate:  parseDate(res, "execution_date", row.ExecutionDate),
		Comment:        row.Comment,
	}
	return in, !res.HasBlocking()
}

func (im *Importer) parseTransferRow(view domain.TransactionView, res *domain.Result, row TransferRow) (TransferInput, bool) {
	in := TransferInput{
		SourceSampleID: im.resolveSource(view, res, fieldSourceSample, row.SourceRef),
		VolumeUsed:     parseOptionalDecimal(res, fieldVolumeUsed, row.VolumeUsed),
		Destination:    Destination(row.DestinationRow),
		SourceDepleted: parseBool(res, "source_depleted", row.SourceDepleted),
		ExecutionDate:  parseDate(res, "execution_date", row.ExecutionDate),
		Comment:        row.Comment,
	}
	return in, !res.HasBlocking()
}

func (im *Importer) parsePoolRow(view domain.TransactionView, res *domain.Result, row PoolRow) (PoolInput, bool) {
	in := PoolInput{
		Name:          row.Name,
		Destination:   Destination(row.DestinationRow),
		ExecutionDate: parseDate(res, "execution_date", row.ExecutionDate),
		Comment:       row.Comment,
		Parents:       make([]PoolParent, 0, len(row.Parents)),
	}
	for i, p := range row.Parents {
		prefix := fmt.Sprintf("%s[%d].", fieldParents, i)
		in.Parents = append(in.Parents, PoolParent{
			SourceSampleID: im.resolveSource(view, res, prefix+fieldSourceSample, p.SourceRef),
			VolumeUsed:     parseOptionalDecimal(res, prefix+fieldVolumeUsed, p.VolumeUsed),
			VolumeInPool:   parseRequiredVolume(res, prefix+fieldVolumeInPool, p.VolumeInPool),
			SourceDepleted: parseBool(res, prefix+"source_depleted", p.SourceDepleted),
			Comment:        p.Comment,
		})
	}
	return in, !res.HasBlocking()
}

func (im *Importer) parseUpdateRow(view domain.TransactionView, res *domain.Result, row UpdateRow) (UpdateInput, bool) {
	in := UpdateInput{
		SampleID:      im.resolveSource(view, res, fieldSourceSample, row.SourceRef),
		NewVolume:     parseOptionalDecimal(res, fieldVolume, row.Volume),
		Concentration: parseOptionalDecimal(res, fieldConcentration, row.Concentration),
		ExecutionDate: parseDate(res, "execution_date", row.ExecutionDate),
		Comment:       row.Comment,
	}
	if raw := strings.TrimSpace(row.VolumeDelta); raw != "" {
		delta, err := decimal.NewFromString(raw)
		if err != nil {
			res.Block(domain.KindValidation, "volume_delta", "invalid volume delta %q", raw)
		} else {
			in.DeltaVolume = &delta
		}
	}
	if strings.TrimSpace(row.Depleted) != "" {
		depleted := parseBool(res, "depleted", row.Depleted)
		in.Depleted = &depleted
	}
	return in, !res.HasBlocking()
}

// resolveSource finds the sample at a container position. The coordinate is
// normalized with the container's grammar; tubes are addressed without one.
func (im *Importer) resolveSource(view domain.TransactionView, res *domain.Result, field string, ref SourceRef) string {
	container, ok := lookupContainer(view, res, field, ref.Barcode)
	if !ok {
		return ""
	}
	spec, err := im.svc.registry.Get(container.Kind)
	if err != nil {
		res.BlockErr(field, err)
		return ""
	}
	coord, err := coordinate.ValidateAndNormalize(ref.Coordinate, spec.Coordinates())
	if err != nil {
		res.BlockErr(field, fmt.Errorf("%s (%s): %w", container.Barcode, container.Kind, err))
		return ""
	}
	for _, s := range view.ListSamplesInContainer(container.ID) {
		if s.Coordinate == coord {
			return s.ID
		}
	}
	res.BlockErr(field, domain.NotFoundError{Entity: domain.EntitySample, ID: describePosition(container, coord)})
	return ""
}

func parseRequiredVolume(res *domain.Result, field, raw string) decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		res.Block(domain.KindValidation, field, "a value is required")
		return decimal.Zero
	}
	v, err := domain.ParseVolume(raw)
	if err != nil {
		res.Block(domain.KindValidation, field, "%v", err)
		return decimal.Zero
	}
	return v
}

func parseOptionalDecimal(res *domain.Result, field, raw string) *decimal.Decimal {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	v, err := domain.ParseVolume(raw)
	if err != nil {
		res.Block(domain.KindValidation, field, "%v", err)
		return nil
	}
	return &v
}

func parseBool(res *domain.Result, field, raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		res.Block(domain.KindValidation, field, "invalid boolean %q", raw)
		return false
	}
	return v
}

func parseDate(res *domain.Result, field, raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	t, err := time.Parse(DateLayout, raw)
	if err != nil {
		res.Block(domain.KindValidation, field, "invalid date %q, expected YYYY-MM-DD", raw)
		return time.Time{}
	}
	return t
}
