package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Warn("name", "reusing container %s", "tube001")
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	if result.Err() != nil {
		t.Fatalf("warnings must not produce an error")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Kind: KindConservation, Field: "volume_used", Message: "too much"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if len(result.Errors()) != 1 || len(result.Warnings()) != 1 {
		t.Fatalf("unexpected split: %+v", result)
	}
	if !result.HasField("volume_used") || !result.HasKind(KindConservation) {
		t.Fatalf("expected field and kind lookups to match")
	}
	err := result.Err()
	if !errors.Is(err, ErrConservation) || !errors.Is(err, ErrValidation) {
		t.Fatalf("expected conservation and validation sentinels, got %v", err)
	}
	if errors.Is(err, ErrCoordinate) {
		t.Fatalf("unexpected coordinate match")
	}
	if (RuleViolationError{Result: result}).Error() == "" {
		t.Fatalf("expected error string")
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestKindOf(t *testing.T) {
	_, rangeErr := coordinate.AlphaAxis(40)
	_, coordErr := coordinate.ValidateAndNormalize("Z9", coordinate.MustSpec(coordinate.MustAlphaAxis(2)))
	_, kindErr := containerkind.Default().Parse("crate")
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{rangeErr, KindRange},
		{coordErr, KindCoordinate},
		{kindErr, KindNotFound},
		{NotFoundError{Entity: EntitySample, ID: "x"}, KindNotFound},
		{fmt.Errorf("wrapped: %w", AlreadyExistsError{Entity: EntityContainer, Key: "tube001"}), KindAlreadyExists},
		{fmt.Errorf("%w: short", ErrConservation), KindConservation},
		{errors.New("other"), KindValidation},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.want {
			t.Errorf("KindOf(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if names := engine.Rules(); len(names) != 1 || names[0] != "warn" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) ListContainers() []Container                          { return nil }
func (emptyView) FindContainer(string) (Container, bool)               { return Container{}, false }
func (emptyView) FindContainerByBarcode(string) (Container, bool)      { return Container{}, false }
func (emptyView) ListChildContainers(string) []Container               { return nil }
func (emptyView) ListSamples() []Sample                                { return nil }
func (emptyView) FindSample(string) (Sample, bool)                     { return Sample{}, false }
func (emptyView) ListSamplesInContainer(string) []Sample               { return nil }
func (emptyView) ListProcesses() []Process                             { return nil }
func (emptyView) FindProcess(string) (Process, bool)                   { return Process{}, false }
func (emptyView) ListProcessMeasurements() []ProcessMeasurement        { return nil }
func (emptyView) FindProcessMeasurement(string) (ProcessMeasurement, bool) {
	return ProcessMeasurement{}, false
}
func (emptyView) ListSampleLineages() []SampleLineage { return nil }
func (emptyView) ListExperimentRuns() []ExperimentRun { return nil }

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

func TestDryRunContext(t *testing.T) {
	ctx := context.Background()
	if IsDryRun(ctx) {
		t.Fatalf("plain context must not be dry run")
	}
	if !IsDryRun(WithDryRun(ctx)) {
		t.Fatalf("expected dry run flag")
	}
}

type anonymousRule struct{}

func (anonymousRule) Name() string { return "anonymous" }

func (anonymousRule) Evaluate(context.Context, RuleView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Severity: SeverityBlock, Message: "nope"}}}, nil
}

func TestRulesEngineAttributesViolations(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(anonymousRule{})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 || res.Violations[0].Rule != "anonymous" {
		t.Fatalf("expected violation attributed to rule, got %+v", res.Violations)
	}
}

func TestRulesEngineWrapsRuleErrors(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	_, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err == nil || err.Error() != "rule error: boom" {
		t.Fatalf("expected wrapped rule error, got %v", err)
	}
}

func TestRulesEngineRejectsDuplicateNames(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"dup"})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate rule name")
		}
	}()
	engine.Register(staticRule{"dup"})
}
