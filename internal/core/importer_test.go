package core

import (
	"context"
	"testing"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
	"labcore/pkg/domain"
)

func sampleBatch() Batch {
	return Batch{
		Containers: []ContainerRow{
			{Barcode: "plate001", Kind: "96-well plate"},
		},
		Samples: []SampleRow{
			{Name: "S1", Kind: "BLOOD", ContainerBarcode: "plate001", Coordinate: "A01", Volume: "20", CreationDate: "2026-01-15"},
			{Name: "S2", Kind: "SALIVA", ContainerBarcode: "tube-s2", ContainerKind: "tube", Volume: "5"},
		},
		Extractions: []ExtractionRow{{
			SourceRef:      SourceRef{Barcode: "plate001", Coordinate: "A01"},
			DestinationRow: DestinationRow{Barcode: "dna001"},
			SampleKind:     "DNA",
			VolumeUsed:     "5",
			Volume:         "30",
			Concentration:  "15",
			ExecutionDate:  "2026-01-16",
		}},
		Transfers: []TransferRow{{
			SourceRef:      SourceRef{Barcode: "tube-s2"},
			DestinationRow: DestinationRow{Barcode: "tube-s2b"},
			VolumeUsed:     "5",
		}},
	}
}

func TestImporterCommitsBatch(t *testing.T) {
	svc := newTestService()
	report, err := NewImporter(svc).Import(context.Background(), sampleBatch(), false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Result.HasBlocking() || !report.Committed {
		t.Fatalf("expected committed batch, got %+v", report.Result.Errors())
	}
	if len(report.Rows) != 5 {
		t.Fatalf("expected a report per row, got %d", len(report.Rows))
	}
	for _, row := range report.Rows {
		if row.EntityID == "" {
			t.Fatalf("row %s/%d has no entity", row.Section, row.Row)
		}
	}
	if n := len(svc.Store().ListSamples()); n != 4 {
		t.Fatalf("expected 4 samples, got %d", n)
	}
	s1 := reloadSample(t, svc, report.Rows[1].EntityID)
	if s1.Name != "S1" || !volumeEquals(s1.Volume, "15") || s1.CreationDate.Format(DateLayout) != "2026-01-15" {
		t.Fatalf("unexpected S1 after extraction: %+v", s1)
	}
	s2 := reloadSample(t, svc, report.Rows[2].EntityID)
	if !s2.Depleted {
		t.Fatalf("S2 should be depleted by the transfer")
	}
}

func TestImporterDryRun(t *testing.T) {
	svc := newTestService()
	report, err := NewImporter(svc).Import(context.Background(), sampleBatch(), true)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Result.HasBlocking() || report.Committed || !report.DryRun {
		t.Fatalf("unexpected dry run report: %+v", report)
	}
	if len(svc.Store().ListContainers()) != 0 || len(svc.Store().ListSamples()) != 0 {
		t.Fatalf("dry run must not persist anything")
	}
}

func TestImporterRollsBackOnAnyBadRow(t *testing.T) {
	svc := newTestService()
	batch := sampleBatch()
	batch.Samples = append(batch.Samples, SampleRow{Name: "S3", Kind: "BLOOD", ContainerBarcode: "plate001", Coordinate: "A02", Volume: "abc"})
	batch.Transfers[0].VolumeUsed = "50"

	report, err := NewImporter(svc).Import(context.Background(), batch, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Committed {
		t.Fatalf("a batch with invalid rows must not commit")
	}
	if !report.Result.HasField("samples[3].volume") || !report.Result.HasField("transfers[1].volume_used") {
		t.Fatalf("expected row-addressed violations, got %+v", report.Result.Errors())
	}
	if !report.Result.HasKind(domain.KindConservation) {
		t.Fatalf("expected conservation violation for the over-drawn transfer")
	}
	if len(svc.Store().ListContainers()) != 0 {
		t.Fatalf("nothing may be persisted")
	}
}

func TestImporterAppliesEverySection(t *testing.T) {
	svc := newTestService()
	batch := sampleBatch()
	batch.Containers = append(batch.Containers, ContainerRow{Barcode: "rack001", Kind: "tube rack 8x12"})
	batch.Samples = append(batch.Samples, SampleRow{Name: "S3", Kind: "BLOOD", ContainerBarcode: "plate001", Coordinate: "A02", Volume: "10"})
	batch.Pools = []PoolRow{{
		Name: "P1",
		Parents: []PoolParentRow{
			{SourceRef: SourceRef{Barcode: "plate001", Coordinate: "A01"}, VolumeUsed: "2", VolumeInPool: "2"},
			{SourceRef: SourceRef{Barcode: "plate001", Coordinate: "A02"}, VolumeUsed: "3", VolumeInPool: "3"},
		},
		DestinationRow: DestinationRow{Barcode: "pool001"},
		ExecutionDate:  "2026-01-17",
	}}
	batch.Updates = []UpdateRow{{SourceRef: SourceRef{Barcode: "plate001", Coordinate: "A02"}, VolumeDelta: "-1"}}
	batch.Moves = []MoveRow{{Barcode: "tube-s2b", DestinationBarcode: "rack001", Coordinate: "B02"}}
	batch.Renames = []RenameRow{{Barcode: "dna001", NewName: "DNA one"}}

	report, err := NewImporter(svc).Import(context.Background(), batch, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !report.Committed {
		t.Fatalf("expected committed batch, got %+v", report.Result.Errors())
	}
	if len(report.Rows) != batch.Rows() || batch.Rows() != 11 {
		t.Fatalf("expected 11 row reports, got %d", len(report.Rows))
	}
	ids := map[string]string{}
	for _, row := range report.Rows {
		if row.EntityID == "" {
			t.Fatalf("row %s/%d has no entity", row.Section, row.Row)
		}
		ids[row.Section] = row.EntityID
	}

	pool := reloadSample(t, svc, ids["pools"])
	if pool.Name != "P1" || !volumeEquals(pool.Volume, "5") {
		t.Fatalf("unexpected pool: %+v", pool)
	}
	s3 := reloadSample(t, svc, ids["updates"])
	if s3.Name != "S3" || !volumeEquals(s3.Volume, "6") {
		t.Fatalf("expected S3 at 6 after pooling and the update, got %+v", s3)
	}
	moved, ok := svc.Store().GetContainer(ids["moves"])
	rack, _ := svc.Store().GetContainerByBarcode("rack001")
	if !ok || moved.LocationID == nil || *moved.LocationID != rack.ID || moved.Coordinate != "B02" {
		t.Fatalf("tube-s2b was not moved into rack001: %+v", moved)
	}
	renamed, _ := svc.Store().GetContainer(ids["renames"])
	if renamed.Barcode != "dna001" || renamed.Name != "DNA one" {
		t.Fatalf("unexpected renamed container: %+v", renamed)
	}
}

func TestImporterReportsBadRowsInLaterSections(t *testing.T) {
	svc := newTestService()
	batch := sampleBatch()
	batch.Updates = []UpdateRow{{SourceRef: SourceRef{Barcode: "plate001", Coordinate: "H12"}, Volume: "1"}}
	batch.Moves = []MoveRow{{Barcode: "plate001", Coordinate: "A01"}}
	batch.Renames = []RenameRow{{Barcode: "dna001"}}

	report, err := NewImporter(svc).Import(context.Background(), batch, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if report.Committed {
		t.Fatalf("a batch with invalid rows must not commit")
	}
	for _, field := range []string{"updates[1].source_sample", "moves[1].location", "renames[1].barcode"} {
		if !report.Result.HasField(field) {
			t.Fatalf("expected violation on %s, got %+v", field, report.Result.Errors())
		}
	}
}

func TestImporterNormalizesSourceCoordinates(t *testing.T) {
	spec, err := coordinate.NewSpec(coordinate.Axis{"\u00c9", "F"})
	if err != nil {
		t.Fatalf("spec: %v", err)
	}
	reg, err := containerkind.NewBuilder().
		Define(containerkind.Definition{Name: containerkind.Tube}).
		Define(containerkind.Definition{Name: "strip", Coordinates: spec}).
		Build()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	svc := newTestService(WithRegistry(reg))
	batch := Batch{
		Containers: []ContainerRow{{Barcode: "strip1", Kind: "strip"}},
		Samples:    []SampleRow{{Name: "S1", Kind: "BLOOD", ContainerBarcode: "strip1", Coordinate: "\u00c9", Volume: "10"}},
		// decomposed E + combining acute accent
		Updates: []UpdateRow{{SourceRef: SourceRef{Barcode: "strip1", Coordinate: "E\u0301"}, Volume: "4"}},
	}
	report, err := NewImporter(svc).Import(context.Background(), batch, false)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if !report.Committed {
		t.Fatalf("expected the decomposed coordinate to resolve, got %+v", report.Result.Errors())
	}
	s1 := reloadSample(t, svc, report.Rows[2].EntityID)
	if s1.Coordinate != "\u00c9" || !volumeEquals(s1.Volume, "4") {
		t.Fatalf("unexpected sample after update: %+v", s1)
	}
}

func TestImporterRowParsing(t *testing.T) {
	var res domain.Result
	if parseBool(&res, "flag", "yes"); !res.HasField("flag") {
		t.Fatalf("expected invalid boolean")
	}
	res = domain.Result{}
	if got := parseDate(&res, "date", "2026-13-01"); !got.IsZero() || !res.HasField("date") {
		t.Fatalf("expected invalid date")
	}
	res = domain.Result{}
	if got := parseOptionalDecimal(&res, "c", " "); got != nil || res.HasBlocking() {
		t.Fatalf("blank decimals are absent")
	}
	if got := parseRequiredVolume(&res, "v", ""); !got.IsZero() || !res.HasField("v") {
		t.Fatalf("expected required volume")
	}
}
