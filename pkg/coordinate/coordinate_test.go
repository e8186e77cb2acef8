package coordinate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlphaAxisBounds(t *testing.T) {
	for _, count := range []int{-1, 27} {
		_, err := AlphaAxis(count)
		var rangeErr *RangeError
		require.ErrorAs(t, err, &rangeErr, "count %d", count)
	}

	axis, err := AlphaAxis(26)
	require.NoError(t, err)
	assert.Len(t, axis, 26)
	assert.Equal(t, "A", axis[0])
	assert.Equal(t, "Z", axis[25])

	empty, err := AlphaAxis(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestIntAxisPadding(t *testing.T) {
	axis, err := IntAxis(100, 5)
	require.NoError(t, err)
	require.Len(t, axis, 100)
	assert.Equal(t, "00001", axis[0])
	assert.Equal(t, "00100", axis[99])
	assert.NotContains(t, axis, "1")

	plain, err := IntAxis(3, 0)
	require.NoError(t, err)
	assert.Equal(t, Axis{"1", "2", "3"}, plain)

	_, err = IntAxis(-1, 0)
	var rangeErr *RangeError
	assert.ErrorAs(t, err, &rangeErr)
}

func TestTwoAxisValidation(t *testing.T) {
	spec := MustSpec(MustAlphaAxis(8), MustIntAxis(12, 0))

	got, err := ValidateAndNormalize("A1", spec)
	require.NoError(t, err)
	assert.Equal(t, "A1", got)

	got, err = ValidateAndNormalize("  H12 ", spec)
	require.NoError(t, err)
	assert.Equal(t, "H12", got)

	for _, bad := range []string{"I12", "A13", "1A", "a1", "A01", ""} {
		_, err := ValidateAndNormalize(bad, spec)
		var coordErr *CoordinateError
		assert.ErrorAs(t, err, &coordErr, "expected %q to be rejected", bad)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	specs := []Spec{
		None,
		MustSpec(MustIntAxis(3, 2)),
		MustSpec(MustAlphaAxis(16), MustIntAxis(24, 2)),
	}
	inputs := []string{"", " 02", "P24", "A01 ", "03"}
	for _, spec := range specs {
		for _, in := range inputs {
			first, err := ValidateAndNormalize(in, spec)
			if err != nil {
				continue
			}
			second, err := ValidateAndNormalize(first, spec)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		}
	}
}

func TestValidateAppliesCanonicalComposition(t *testing.T) {
	decomposed := "E\u0301"
	spec := MustSpec(Axis{"\u00c9"})
	got, err := ValidateAndNormalize(decomposed, spec)
	require.NoError(t, err)
	assert.Equal(t, "\u00c9", got)
}

func TestEmptyGrammarRequiresEmptyString(t *testing.T) {
	got, err := ValidateAndNormalize("   ", None)
	require.NoError(t, err)
	assert.Equal(t, "", got)

	_, err = ValidateAndNormalize("A01", None)
	assert.Error(t, err)
}

func TestNewSpecRejectsThreeAxes(t *testing.T) {
	_, err := NewSpec(MustIntAxis(2, 0), MustIntAxis(2, 0), MustIntAxis(2, 0))
	var rangeErr *RangeError
	assert.True(t, errors.As(err, &rangeErr))

	_, err = NewSpec(Axis{"A", "A"})
	assert.Error(t, err)
}

func TestDetectOverlap(t *testing.T) {
	siblings := []Placement{
		{ID: "s1", ParentID: "plate", Coordinate: "A01"},
		{ID: "s2", ParentID: "plate", Coordinate: "A02"},
		{ID: "s3", ParentID: "other", Coordinate: "A03"},
	}
	assert.True(t, DetectOverlap(siblings, Placement{ID: "new", ParentID: "plate", Coordinate: "A01"}))
	assert.False(t, DetectOverlap(siblings, Placement{ID: "s1", ParentID: "plate", Coordinate: "A01"}))
	assert.False(t, DetectOverlap(siblings, Placement{ID: "new", ParentID: "plate", Coordinate: "A03"}))
}

func TestOrdinalConversion(t *testing.T) {
	spec := MustSpec(MustAlphaAxis(2), MustIntAxis(10, 2))

	n, err := ToOrdinal("B01", spec)
	require.NoError(t, err)
	assert.Equal(t, 11, n)

	n, err = ToOrdinal("A01", spec)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for _, bad := range []string{"B1", "C01", "B011", "", "01B"} {
		_, err := ToOrdinal(bad, spec)
		var coordErr *CoordinateError
		assert.ErrorAs(t, err, &coordErr, bad)
	}

	_, err = ToOrdinal("01", MustSpec(MustIntAxis(3, 2)))
	assert.Error(t, err)

	for i := 1; i <= spec.Capacity(); i++ {
		coord, err := FromOrdinal(i, spec)
		require.NoError(t, err)
		back, err := ToOrdinal(coord, spec)
		require.NoError(t, err)
		assert.Equal(t, i, back)
	}
	_, err = FromOrdinal(21, spec)
	assert.Error(t, err)
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "A-H x 01-12", MustSpec(MustAlphaAxis(8), MustIntAxis(12, 2)).String())
	assert.Equal(t, 96, MustSpec(MustAlphaAxis(8), MustIntAxis(12, 2)).Capacity())
}
