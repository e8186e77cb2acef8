package core

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

var testNow = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestService(opts ...ServiceOption) *Service {
	opts = append([]ServiceOption{WithClock(ClockFunc(func() time.Time { return testNow }))}, opts...)
	return NewInMemoryService(opts...)
}

func vol(raw string) *decimal.Decimal {
	v := domain.MustVolume(raw)
	return &v
}

func requireClean(t *testing.T, what string, res Result, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
	if res.HasBlocking() {
		t.Fatalf("%s: unexpected violations: %+v", what, res.Errors())
	}
}

func requireBlocked(t *testing.T, what string, res Result, err error, field string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: expected violations, got error %v", what, err)
	}
	if !res.HasField(field) {
		t.Fatalf("%s: expected blocking violation on %q, got %+v", what, field, res.Violations)
	}
}

func mustContainer(t *testing.T, svc *Service, barcode string, kind containerkind.Name, parent, coord string) Container {
	t.Helper()
	c, res, err := svc.CreateContainer(context.Background(), ContainerInput{Barcode: barcode, Kind: string(kind), ParentBarcode: parent, Coordinate: coord})
	requireClean(t, "create container "+barcode, res, err)
	return c
}

func mustSample(t *testing.T, svc *Service, in SampleInput) Sample {
	t.Helper()
	s, res, err := svc.CreateSample(context.Background(), in)
	requireClean(t, "create sample "+in.Name, res, err)
	return s
}

func bloodIn(barcode, coord, volume string) SampleInput {
	return SampleInput{Name: "S-" + barcode + coord, Kind: "BLOOD", ContainerBarcode: barcode, Coordinate: coord, Volume: domain.MustVolume(volume)}
}

func dnaIn(barcode, coord, volume, concentration string) SampleInput {
	return SampleInput{
		Name:             "D-" + barcode + coord,
		Kind:             "DNA",
		TissueSource:     "Blood",
		ContainerBarcode: barcode,
		Coordinate:       coord,
		Volume:           domain.MustVolume(volume),
		Concentration:    vol(concentration),
	}
}

func reloadSample(t *testing.T, svc *Service, id string) Sample {
	t.Helper()
	s, ok := svc.Store().GetSample(id)
	if !ok {
		t.Fatalf("sample %s not found", id)
	}
	return s
}

func volumeEquals(got decimal.Decimal, want string) bool {
	return got.Equal(domain.MustVolume(want))
}
