package export

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"labcore/internal/blob"
	"labcore/internal/core"
	"labcore/pkg/domain"
)

var exportNow = time.Date(2026, 3, 4, 5, 6, 7, 800_000_000, time.UTC)

func fixedClock() core.Clock { return core.ClockFunc(func() time.Time { return exportNow }) }

func mustVolume(raw string) *decimal.Decimal {
	v := domain.MustVolume(raw)
	return &v
}

// seededService builds a rack holding a plate with two samples plus a tube
// sample that has been extracted into a second tube.
func seededService(t *testing.T) (*core.Service, domain.Sample, domain.Sample) {
	t.Helper()
	ctx := context.Background()
	svc := core.NewInMemoryService(core.WithClock(fixedClock()))
	containers := []core.ContainerInput{
		{Barcode: "rack001", Kind: "freezer rack 4x4"},
		{Barcode: "plate001", Kind: "96-well plate", ParentBarcode: "rack001", Coordinate: "B02"},
		{Barcode: "tube001", Kind: "tube"},
	}
	for _, in := range containers {
		_, res, err := svc.CreateContainer(ctx, in)
		require.NoError(t, err)
		require.False(t, res.HasBlocking(), "create %s: %v", in.Barcode, res.Err())
	}
	for _, in := range []core.SampleInput{
		{Name: "P-B01", Kind: "BLOOD", ContainerBarcode: "plate001", Coordinate: "B01", Volume: domain.MustVolume("10")},
		{Name: "P-A03", Kind: "BLOOD", ContainerBarcode: "plate001", Coordinate: "A03", Volume: domain.MustVolume("10")},
	} {
		_, res, err := svc.CreateSample(ctx, in)
		require.NoError(t, err)
		require.False(t, res.HasBlocking(), "create %s: %v", in.Name, res.Err())
	}
	parent, res, err := svc.CreateSample(ctx, core.SampleInput{Name: "T-1", Kind: "BLOOD", ContainerBarcode: "tube001", Volume: domain.MustVolume("97")})
	require.NoError(t, err)
	require.False(t, res.HasBlocking())
	child, res, err := svc.ExtractSample(ctx, core.ExtractionInput{
		SourceSampleID: parent.ID,
		SampleKind:     "DNA",
		VolumeUsed:     mustVolume("90"),
		Destination:    core.Destination{Barcode: "tube003"},
		Volume:         domain.MustVolume("40"),
		Concentration:  mustVolume("12.5"),
	})
	require.NoError(t, err)
	require.False(t, res.HasBlocking(), "extract: %v", res.Err())
	return svc, parent, child
}

func TestKeyAndParseKind(t *testing.T) {
	assert.Equal(t, "exports/inventory/20260304T050607.800Z.json", Key("exports", KindInventory, exportNow))
	assert.Equal(t, "site-a/exports/lineage/20260304T050607.800Z.json", Key("/site-a/exports/", KindLineage, exportNow))

	k, err := ParseKind(" Lineage ")
	require.NoError(t, err)
	assert.Equal(t, KindLineage, k)
	_, err = ParseKind("ledger")
	assert.Error(t, err)
}

func TestInventoryDocument(t *testing.T) {
	svc, _, _ := seededService(t)
	exp := NewExporter(svc, blob.NewMemory(), WithClock(fixedClock()))

	doc, err := exp.Inventory(context.Background(), exportNow)
	require.NoError(t, err)
	assert.Equal(t, KindInventory, doc.Kind)
	require.Len(t, doc.Containers, 4)

	barcodes := make([]string, 0, len(doc.Containers))
	for _, c := range doc.Containers {
		barcodes = append(barcodes, c.Barcode)
	}
	assert.Equal(t, []string{"plate001", "rack001", "tube001", "tube003"}, barcodes)

	plate := doc.Containers[0]
	assert.Equal(t, "rack001", plate.Location)
	assert.Equal(t, []string{"rack001", "plate001"}, plate.Path)
	require.NotNil(t, plate.Ordinal)
	assert.Equal(t, 6, *plate.Ordinal)
	assert.Equal(t, 96, plate.Capacity)
	require.Len(t, plate.Samples, 2)
	assert.Equal(t, "A03", plate.Samples[0].Coordinate)
	assert.Equal(t, 3, *plate.Samples[0].Ordinal)
	assert.Equal(t, "B01", plate.Samples[1].Coordinate)
	assert.Equal(t, 13, *plate.Samples[1].Ordinal)

	rack := doc.Containers[1]
	assert.Equal(t, 1, rack.Children)
	assert.Nil(t, rack.Ordinal)
	assert.Empty(t, rack.Samples)

	tube := doc.Containers[2]
	require.Len(t, tube.Samples, 1)
	assert.Nil(t, tube.Samples[0].Ordinal)
	assert.True(t, tube.Samples[0].Volume.Equal(domain.MustVolume("7")))
}

func TestLineageDocument(t *testing.T) {
	svc, parent, child := seededService(t)
	exp := NewExporter(svc, blob.NewMemory())

	doc, err := exp.Lineage(context.Background(), exportNow)
	require.NoError(t, err)
	assert.Len(t, doc.Nodes, 4)
	require.Len(t, doc.Edges, 1)
	edge := doc.Edges[0]
	assert.Equal(t, parent.ID, edge.ParentID)
	assert.Equal(t, child.ID, edge.ChildID)
	assert.Equal(t, domain.ProtocolExtraction, edge.Protocol)
	require.NotNil(t, edge.VolumeUsed)
	assert.True(t, edge.VolumeUsed.Equal(domain.MustVolume("90")))

	var tube003 LineageNode
	for _, n := range doc.Nodes {
		if n.ID == child.ID {
			tube003 = n
		}
	}
	assert.Equal(t, "tube003", tube003.Container)
}

func TestPublishWritesJSONToBlob(t *testing.T) {
	svc, _, _ := seededService(t)
	store := blob.NewMemory()
	zcore, logs := observer.New(zapcore.InfoLevel)
	metrics := core.NewExpvarMetricsRecorder("")
	exp := NewExporter(svc, store, WithClock(fixedClock()), WithPrefix("/exports/"), WithLogger(zap.New(zcore)), WithMetrics(metrics))
	ctx := context.Background()

	info, err := exp.Publish(ctx, KindInventory)
	require.NoError(t, err)
	assert.Equal(t, "exports/inventory/20260304T050607.800Z.json", info.Key)
	assert.Equal(t, "application/json", info.ContentType)
	assert.Equal(t, "inventory", info.Metadata["kind"])

	_, rc, err := exp.Open(ctx, info.Key)
	require.NoError(t, err)
	payload, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	var decoded Inventory
	require.NoError(t, json.Unmarshal(payload, &decoded))
	assert.Len(t, decoded.Containers, 4)
	assert.True(t, decoded.GeneratedAt.Equal(exportNow))

	_, err = exp.Publish(ctx, KindLineage)
	require.NoError(t, err)
	listed, err := exp.List(ctx, KindInventory)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, info.Key, listed[0].Key)

	// same clock tick: the write-once store refuses to overwrite
	_, err = exp.Publish(ctx, KindInventory)
	assert.True(t, errors.Is(err, blob.ErrExists))

	assert.Equal(t, 2, logs.FilterMessage("export published").Len())
	assert.Equal(t, 1, logs.FilterMessage("export failed").Len())
	snap := metrics.Snapshot()
	assert.Equal(t, int64(1), snap.Results["export_inventory"]["error"])
	assert.Equal(t, int64(1), snap.Results["export_inventory"]["success"])
}

func TestBuildAndUnknownKind(t *testing.T) {
	svc, _, _ := seededService(t)
	exp := NewExporter(svc, blob.NewMemory(), WithClock(fixedClock()))
	doc, err := exp.Build(context.Background(), KindLineage)
	require.NoError(t, err)
	assert.IsType(t, LineageGraph{}, doc)
	_, err = exp.Build(context.Background(), Kind("ledger"))
	assert.Error(t, err)
	_, err = exp.Publish(context.Background(), Kind("ledger"))
	assert.Error(t, err)
}
