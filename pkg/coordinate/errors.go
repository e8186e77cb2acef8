package coordinate

import "fmt"

// RangeError reports a numeric input outside its legal range. Max < Min
// means the range is unbounded above.
type RangeError struct {
	Field string
	Value int
	Min   int
	Max   int
}

func (e *RangeError) Error() string {
	if e.Max < e.Min {
		return fmt.Sprintf("%s %d out of range (min %d)", e.Field, e.Value, e.Min)
	}
	return fmt.Sprintf("%s %d out of range [%d, %d]", e.Field, e.Value, e.Min, e.Max)
}

// CoordinateError reports a coordinate string rejected by a grammar.
type CoordinateError struct {
	Value  string
	Reason string
}

func (e *CoordinateError) Error() string {
	return fmt.Sprintf("invalid coordinate %q: %s", e.Value, e.Reason)
}
