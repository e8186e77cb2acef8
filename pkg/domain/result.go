package domain

import (
	"errors"
	"fmt"
	"strings"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
)

// ErrorKind classifies a violation so callers can react without parsing messages.
type ErrorKind string

// Error kinds reported by validation.
const (
	KindRange         ErrorKind = "range"
	KindCoordinate    ErrorKind = "coordinate"
	KindNotFound      ErrorKind = "not_found"
	KindAlreadyExists ErrorKind = "already_exists"
	KindValidation    ErrorKind = "validation"
	KindConservation  ErrorKind = "conservation"
)

// Sentinels matched by errors.Is against ValidationError and wrapped errors.
var (
	ErrRange         = errors.New("value out of range")
	ErrCoordinate    = errors.New("invalid coordinate")
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation failed")
	ErrConservation  = errors.New("volume conservation violated")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindRange:
		return ErrRange
	case KindCoordinate:
		return ErrCoordinate
	case KindNotFound:
		return ErrNotFound
	case KindAlreadyExists:
		return ErrAlreadyExists
	case KindConservation:
		return ErrConservation
	default:
		return ErrValidation
	}
}

// KindOf classifies an error returned by the coordinate, registry or
// persistence layers.
func KindOf(err error) ErrorKind {
	var (
		rangeErr *coordinate.RangeError
		coordErr *coordinate.CoordinateError
		kindErr  *containerkind.NotFoundError
	)
	switch {
	case errors.As(err, &rangeErr), errors.Is(err, ErrRange):
		return KindRange
	case errors.As(err, &coordErr), errors.Is(err, ErrCoordinate):
		return KindCoordinate
	case errors.As(err, &kindErr), errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadyExists):
		return KindAlreadyExists
	case errors.Is(err, ErrConservation):
		return KindConservation
	default:
		return KindValidation
	}
}

// Violation reports a failed validation or rule evaluation.
type Violation struct {
	Rule     string     `json:"rule,omitempty"`
	Severity Severity   `json:"severity"`
	Kind     ErrorKind  `json:"kind,omitempty"`
	Field    string     `json:"field,omitempty"`
	Message  string     `json:"message"`
	Entity   EntityType `json:"entity,omitempty"`
	EntityID string     `json:"entity_id,omitempty"`
}

func (v Violation) String() string {
	if v.Field == "" {
		return v.Message
	}
	return v.Field + ": " + v.Message
}

// Result aggregates violations from validation and the rules engine.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// Block records a blocking violation on field.
func (r *Result) Block(kind ErrorKind, field, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Severity: SeverityBlock, Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)})
}

// BlockErr records err as a blocking violation, classified with KindOf.
func (r *Result) BlockErr(field string, err error) {
	r.Violations = append(r.Violations, Violation{Severity: SeverityBlock, Kind: KindOf(err), Field: field, Message: err.Error()})
}

// Warn records an informational warning.
func (r *Result) Warn(field, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{Severity: SeverityWarn, Field: field, Message: fmt.Sprintf(format, args...)})
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Errors returns the blocking violations in insertion order.
func (r Result) Errors() []Violation { return r.filter(SeverityBlock) }

// Warnings returns the warning violations in insertion order.
func (r Result) Warnings() []Violation { return r.filter(SeverityWarn) }

func (r Result) filter(sev Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == sev {
			out = append(out, v)
		}
	}
	return out
}

// HasField reports whether a blocking violation names field.
func (r Result) HasField(field string) bool {
	for _, v := range r.Errors() {
		if v.Field == field {
			return true
		}
	}
	return false
}

// HasKind reports whether a blocking violation has the given kind.
func (r Result) HasKind(kind ErrorKind) bool {
	for _, v := range r.Errors() {
		if v.Kind == kind {
			return true
		}
	}
	return false
}

// Err returns a ValidationError when the result blocks, nil otherwise.
func (r Result) Err() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}
	return &ValidationError{Violations: errs}
}

// ValidationError carries every blocking violation of an operation.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Is matches ErrValidation and the sentinel of every contained kind.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	for _, v := range e.Violations {
		if v.Kind.sentinel() == target {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// Is matches ErrNotFound.
func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// AlreadyExistsError is returned when a uniqueness constraint would be violated.
type AlreadyExistsError struct {
	Entity EntityType
	Key    string
}

func (e AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s %s already exists", e.Entity, e.Key)
}

// Is matches ErrAlreadyExists.
func (e AlreadyExistsError) Is(target error) bool { return target == ErrAlreadyExists }
