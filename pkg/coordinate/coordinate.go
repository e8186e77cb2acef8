// Package coordinate defines the coordinate grammars used by container kinds
// and validates, normalizes and compares coordinate strings against them.
//
// A grammar is declarative: each axis enumerates its exact legal labels, so a
// 12-column axis accepts "12" but never "13".
package coordinate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxAlphaAxis = 26

// Axis is an ordered sequence of distinct labels.
type Axis []string

// AlphaAxis returns the first count uppercase letters.
func AlphaAxis(count int) (Axis, error) {
	if count < 0 || count > maxAlphaAxis {
		return nil, &RangeError{Field: "alpha axis", Value: count, Min: 0, Max: maxAlphaAxis}
	}
	axis := make(Axis, count)
	for i := 0; i < count; i++ {
		axis[i] = string(rune('A' + i))
	}
	return axis, nil
}

// IntAxis returns the labels "1".."count", left-zero-padded to padTo digits
// when padTo is positive.
func IntAxis(count, padTo int) (Axis, error) {
	if count < 0 {
		return nil, &RangeError{Field: "integer axis", Value: count, Min: 0, Max: -1}
	}
	axis := make(Axis, count)
	for i := 1; i <= count; i++ {
		label := strconv.Itoa(i)
		if pad := padTo - len(label); pad > 0 {
			label = strings.Repeat("0", pad) + label
		}
		axis[i-1] = label
	}
	return axis, nil
}

// MustAlphaAxis is AlphaAxis for static catalogs; it panics on a bad count.
func MustAlphaAxis(count int) Axis {
	axis, err := AlphaAxis(count)
	if err != nil {
		panic(err)
	}
	return axis
}

// MustIntAxis is IntAxis for static catalogs; it panics on a bad count.
func MustIntAxis(count, padTo int) Axis {
	axis, err := IntAxis(count, padTo)
	if err != nil {
		panic(err)
	}
	return axis
}

// Index returns the zero-based position of label in the axis.
func (a Axis) Index(label string) (int, bool) {
	for i, l := range a {
		if l == label {
			return i, true
		}
	}
	return 0, false
}

// Spec is the coordinate grammar of a container kind: zero, one or two axes.
// The zero value is the empty grammar which only accepts "".
type Spec struct {
	axes    []Axis
	pattern *regexp.Regexp
}

// None is the grammar of containers without addressable positions.
var None = Spec{}

// NewSpec builds a grammar from up to two axes. The matching expression is
// compiled once here.
func NewSpec(axes ...Axis) (Spec, error) {
	if len(axes) > 2 {
		return Spec{}, &RangeError{Field: "axis count", Value: len(axes), Min: 0, Max: 2}
	}
	if len(axes) == 0 {
		return None, nil
	}
	cloned := make([]Axis, len(axes))
	var b strings.Builder
	b.WriteString("^")
	for i, axis := range axes {
		seen := make(map[string]struct{}, len(axis))
		quoted := make([]string, 0, len(axis))
		for _, label := range axis {
			if label == "" {
				return Spec{}, fmt.Errorf("coordinate: axis %d has an empty label", i)
			}
			if _, dup := seen[label]; dup {
				return Spec{}, fmt.Errorf("coordinate: axis %d repeats label %q", i, label)
			}
			seen[label] = struct{}{}
			quoted = append(quoted, regexp.QuoteMeta(label))
		}
		cloned[i] = append(Axis(nil), axis...)
		if len(quoted) == 0 {
			// an axis without labels admits no coordinate at all
			b.WriteString(`[^\x00-\x{10FFFF}]`)
			continue
		}
		b.WriteString("(" + strings.Join(quoted, "|") + ")")
	}
	b.WriteString("$")
	pattern, err := regexp.Compile(b.String())
	if err != nil {
		return Spec{}, fmt.Errorf("coordinate: compile grammar: %w", err)
	}
	return Spec{axes: cloned, pattern: pattern}, nil
}

// MustSpec is NewSpec for static catalogs.
func MustSpec(axes ...Axis) Spec {
	spec, err := NewSpec(axes...)
	if err != nil {
		panic(err)
	}
	return spec
}

// Dimensions returns the number of axes.
func (s Spec) Dimensions() int { return len(s.axes) }

// IsEmpty reports whether the grammar has no axes.
func (s Spec) IsEmpty() bool { return len(s.axes) == 0 }

// Axes returns a copy of the axes.
func (s Spec) Axes() []Axis {
	out := make([]Axis, len(s.axes))
	for i, a := range s.axes {
		out[i] = append(Axis(nil), a...)
	}
	return out
}

// Capacity is the number of distinct coordinates, 0 for the empty grammar.
func (s Spec) Capacity() int {
	if len(s.axes) == 0 {
		return 0
	}
	n := 1
	for _, a := range s.axes {
		n *= len(a)
	}
	return n
}

func (s Spec) String() string {
	if len(s.axes) == 0 {
		return "none"
	}
	parts := make([]string, len(s.axes))
	for i, a := range s.axes {
		if len(a) == 0 {
			parts[i] = "[]"
			continue
		}
		parts[i] = a[0] + "-" + a[len(a)-1]
	}
	return strings.Join(parts, " x ")
}

// ValidateAndNormalize trims raw, applies canonical composition and checks
// the result against the grammar. The normalized string is returned.
func ValidateAndNormalize(raw string, spec Spec) (string, error) {
	value := norm.NFC.String(strings.TrimSpace(raw))
	if spec.IsEmpty() {
		if value != "" {
			return "", &CoordinateError{Value: raw, Reason: "container kind has no coordinate system"}
		}
		return value, nil
	}
	if !spec.pattern.MatchString(value) {
		return "", &CoordinateError{Value: raw, Reason: fmt.Sprintf("does not match grammar %s", spec)}
	}
	return value, nil
}

// Placement locates an item (container or sample) inside a parent.
type Placement struct {
	ID         string
	ParentID   string
	Coordinate string
}

// DetectOverlap reports whether a sibling other than candidate already
// occupies the candidate's coordinate in the same parent.
func DetectOverlap(siblings []Placement, candidate Placement) bool {
	for _, s := range siblings {
		if candidate.ID != "" && s.ID == candidate.ID {
			continue
		}
		if s.ParentID == candidate.ParentID && s.Coordinate == candidate.Coordinate {
			return true
		}
	}
	return false
}

// ToOrdinal maps a row+column coordinate of a two-axis grammar to its
// 1-based row-major index.
func ToOrdinal(coord string, spec Spec) (int, error) {
	if spec.Dimensions() != 2 {
		return 0, &CoordinateError{Value: coord, Reason: "ordinal conversion requires a two-axis grammar"}
	}
	rows, cols := spec.axes[0], spec.axes[1]
	for i, row := range rows {
		if !strings.HasPrefix(coord, row) {
			continue
		}
		if j, ok := cols.Index(coord[len(row):]); ok {
			return i*len(cols) + j + 1, nil
		}
	}
	return 0, &CoordinateError{Value: coord, Reason: fmt.Sprintf("not a position of grammar %s", spec)}
}

// FromOrdinal is the inverse of ToOrdinal.
func FromOrdinal(ordinal int, spec Spec) (string, error) {
	if spec.Dimensions() != 2 {
		return "", &CoordinateError{Value: strconv.Itoa(ordinal), Reason: "ordinal conversion requires a two-axis grammar"}
	}
	capacity := spec.Capacity()
	if ordinal < 1 || ordinal > capacity {
		return "", &RangeError{Field: "ordinal", Value: ordinal, Min: 1, Max: capacity}
	}
	cols := spec.axes[1]
	idx := ordinal - 1
	return spec.axes[0][idx/len(cols)] + cols[idx%len(cols)], nil
}
