package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// VolumePlaces is the fixed-point precision of volumes and concentrations.
const VolumePlaces = 3

var zeroTolerance = decimal.New(5, -(VolumePlaces + 1))

// RoundVolume rounds to the stored precision and snaps values within half a
// unit of the last place to exactly zero.
func RoundVolume(v decimal.Decimal) decimal.Decimal {
	if v.Abs().LessThan(zeroTolerance) {
		return decimal.Zero
	}
	return v.Round(VolumePlaces)
}

// ParseVolume parses a decimal string into a rounded volume.
func ParseVolume(raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid volume %q: %w", raw, err)
	}
	return RoundVolume(d), nil
}

// MustVolume parses a literal volume; it panics on malformed input.
func MustVolume(raw string) decimal.Decimal {
	d, err := ParseVolume(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// FormatVolume renders a volume with the stored precision.
func FormatVolume(v decimal.Decimal) string {
	return v.StringFixed(VolumePlaces)
}

// DrawVolume subtracts used from available. A negative remainder is a
// conservation violation and is never clamped.
func DrawVolume(available, used decimal.Decimal) (decimal.Decimal, error) {
	if used.IsNegative() {
		return available, fmt.Errorf("%w: volume used %s is negative", ErrConservation, FormatVolume(used))
	}
	if used.GreaterThan(available) {
		return available, fmt.Errorf("%w: volume used %s exceeds available %s", ErrConservation, FormatVolume(used), FormatVolume(available))
	}
	return RoundVolume(available.Sub(used)), nil
}
