package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundVolumeSnapsToZero(t *testing.T) {
	tiny := decimal.RequireFromString("0.0004")
	if !RoundVolume(tiny).IsZero() {
		t.Fatalf("expected %s to snap to zero", tiny)
	}
	if !RoundVolume(tiny.Neg()).IsZero() {
		t.Fatalf("expected negative rounding noise to snap to zero")
	}
	if got := FormatVolume(RoundVolume(decimal.RequireFromString("1.23456"))); got != "1.235" {
		t.Fatalf("unexpected rounding %s", got)
	}
}

func TestDrawVolume(t *testing.T) {
	remaining, err := DrawVolume(MustVolume("97"), MustVolume("90"))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if !remaining.Equal(MustVolume("7")) {
		t.Fatalf("expected 7.000, got %s", FormatVolume(remaining))
	}

	remaining, err = DrawVolume(MustVolume("13"), MustVolume("13.000"))
	if err != nil || !remaining.IsZero() {
		t.Fatalf("expected exact depletion, got %s %v", remaining, err)
	}

	available := MustVolume("5")
	remaining, err = DrawVolume(available, MustVolume("10"))
	if !errors.Is(err, ErrConservation) {
		t.Fatalf("expected conservation error, got %v", err)
	}
	if !remaining.Equal(available) {
		t.Fatalf("available volume must be returned unchanged")
	}

	if _, err := DrawVolume(available, MustVolume("-1")); !errors.Is(err, ErrConservation) {
		t.Fatalf("expected negative draw to fail")
	}
}

func TestParseVolume(t *testing.T) {
	if _, err := ParseVolume("abc"); err == nil {
		t.Fatalf("expected parse failure")
	}
	v, err := ParseVolume(" 12.5 ")
	if err != nil || FormatVolume(v) != "12.500" {
		t.Fatalf("unexpected parse %s %v", v, err)
	}
}

func TestSampleKinds(t *testing.T) {
	kinds := DefaultSampleKinds()
	dna, ok := kinds.Lookup(" dna ")
	if !ok || !dna.IsExtracted || !dna.ConcentrationRequired {
		t.Fatalf("expected extracted DNA kind, got %+v", dna)
	}
	blood, ok := kinds.Lookup("BLOOD")
	if !ok || blood.IsExtracted {
		t.Fatalf("expected biospecimen kind, got %+v", blood)
	}
	if src, ok := TissueSourceFor(SampleKindBlood); !ok || src != "Blood" {
		t.Fatalf("unexpected tissue source %q", src)
	}
	if _, ok := TissueSourceFor(SampleKindDNA); ok {
		t.Fatalf("extracted kinds have no tissue source mapping")
	}
	for _, source := range []string{"Blood", "Buffy coat", "Gargle"} {
		if !IsTissueSource(source) {
			t.Fatalf("expected %q to be a tissue source", source)
		}
	}
	for _, source := range []string{"", "banana", "blood", "DNA"} {
		if IsTissueSource(source) {
			t.Fatalf("did not expect %q to be a tissue source", source)
		}
	}
	if len(kinds.Names()) != 14 {
		t.Fatalf("unexpected catalog size %d", len(kinds.Names()))
	}
	custom := NewSampleKinds(SampleKind{Name: "LIBRARY", IsExtracted: true})
	if _, ok := custom.Lookup("library"); !ok {
		t.Fatalf("expected custom kind lookup")
	}
}

func TestProtocolConsumesVolume(t *testing.T) {
	for _, p := range []ProtocolName{ProtocolExtraction, ProtocolTransfer, ProtocolPooling} {
		if !p.ConsumesVolume() {
			t.Errorf("%s should consume volume", p)
		}
	}
	for _, p := range []ProtocolName{ProtocolUpdate, ProtocolExperimentRun} {
		if p.ConsumesVolume() {
			t.Errorf("%s should not consume volume", p)
		}
	}
}
