package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope. Uniqueness of container barcodes,
// sample positions and lineage triples is enforced here so that a lost race
// surfaces as an AlreadyExistsError instead of a silent overwrite.
type Transaction interface {
	TransactionView
	Snapshot() TransactionView
	Now() time.Time
	CreateContainer(Container) (Container, error)
	UpdateContainer(id string, mutator func(*Container) error) (Container, error)
	DeleteContainer(id string) error
	CreateSample(Sample) (Sample, error)
	UpdateSample(id string, mutator func(*Sample) error) (Sample, error)
	CreateProcess(Process) (Process, error)
	CreateProcessMeasurement(ProcessMeasurement) (ProcessMeasurement, error)
	CreateSampleLineage(SampleLineage) (SampleLineage, error)
	CreateExperimentRun(ExperimentRun) (ExperimentRun, error)
}

// TransactionView provides read-only access to snapshot data.
type TransactionView interface {
	ListContainers() []Container
	FindContainer(id string) (Container, bool)
	FindContainerByBarcode(barcode string) (Container, bool)
	ListChildContainers(parentID string) []Container
	ListSamples() []Sample
	FindSample(id string) (Sample, bool)
	ListSamplesInContainer(containerID string) []Sample
	ListProcesses() []Process
	FindProcess(id string) (Process, bool)
	ListProcessMeasurements() []ProcessMeasurement
	FindProcessMeasurement(id string) (ProcessMeasurement, bool)
	ListSampleLineages() []SampleLineage
	ListExperimentRuns() []ExperimentRun
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetContainer(id string) (Container, bool)
	GetContainerByBarcode(barcode string) (Container, bool)
	ListContainers() []Container
	GetSample(id string) (Sample, bool)
	ListSamples() []Sample
	ListProcesses() []Process
	ListProcessMeasurements() []ProcessMeasurement
	ListSampleLineages() []SampleLineage
	ListExperimentRuns() []ExperimentRun
}

type dryRunKey struct{}

// WithDryRun marks ctx so that stores validate and evaluate rules for a
// transaction but never commit it.
func WithDryRun(ctx context.Context) context.Context {
	return context.WithValue(ctx, dryRunKey{}, true)
}

// IsDryRun reports whether ctx was marked by WithDryRun.
func IsDryRun(ctx context.Context) bool {
	v, _ := ctx.Value(dryRunKey{}).(bool)
	return v
}
