// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by labcore.
package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/containerkind"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityContainer identifies a physical container record.
	EntityContainer EntityType = "container"
	// EntitySample identifies a sample record.
	EntitySample EntityType = "sample"
	// EntityProcess identifies a process record grouping measurements under one protocol.
	EntityProcess EntityType = "process"
	// EntityProcessMeasurement identifies a ledger row for one source sample.
	EntityProcessMeasurement EntityType = "process_measurement"
	// EntitySampleLineage identifies a parent/child lineage edge.
	EntitySampleLineage EntityType = "sample_lineage"
	// EntityExperimentRun identifies an instrument run.
	EntityExperimentRun EntityType = "experiment_run"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported to the caller but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// Container is a physical container instance: a tube, plate, rack, freezer or room.
type Container struct {
	Base
	Barcode    string             `json:"barcode"`
	Name       string             `json:"name"`
	Kind       containerkind.Name `json:"kind"`
	LocationID *string            `json:"location_id"`
	Coordinate string             `json:"coordinate"`
	Comment    string             `json:"comment"`
}

// Sample is the physical portion of a derived sample held in one container
// position.
type Sample struct {
	Base
	Name              string           `json:"name"`
	Alias             string           `json:"alias"`
	Kind              SampleKindName   `json:"sample_kind"`
	TissueSource      string           `json:"tissue_source,omitempty"`
	ContainerID       string           `json:"container_id"`
	Coordinate        string           `json:"coordinate"`
	Volume            decimal.Decimal  `json:"volume"`
	Concentration     *decimal.Decimal `json:"concentration,omitempty"`
	Depleted          bool             `json:"depleted"`
	CreationDate      time.Time        `json:"creation_date"`
	Comment           string           `json:"comment"`
	ExtractedFromID   *string          `json:"extracted_from_id,omitempty"`
	TransferredFromID *string          `json:"transferred_from_id,omitempty"`
	PoolMembers       []PoolMember     `json:"pool_members,omitempty"`
}

// IsPool reports whether the sample was produced by pooling.
func (s Sample) IsPool() bool { return len(s.PoolMembers) > 0 }

// PoolMember records the share of one source sample inside a pool.
type PoolMember struct {
	SourceSampleID string          `json:"source_sample_id"`
	VolumeRatio    decimal.Decimal `json:"volume_ratio"`
}

// ProtocolName names the laboratory protocol a process follows.
type ProtocolName string

// Protocols recorded by the ledger.
const (
	ProtocolExtraction    ProtocolName = "Extraction"
	ProtocolTransfer      ProtocolName = "Transfer"
	ProtocolUpdate        ProtocolName = "Update"
	ProtocolPooling       ProtocolName = "Pooling"
	ProtocolExperimentRun ProtocolName = "Experiment Run"
)

// ConsumesVolume reports whether measurements under the protocol must carry
// a volume drawn from the source sample.
func (p ProtocolName) ConsumesVolume() bool {
	switch p {
	case ProtocolExtraction, ProtocolTransfer, ProtocolPooling:
		return true
	default:
		return false
	}
}

// Process groups the measurements of one protocol execution.
type Process struct {
	Base
	Protocol        ProtocolName `json:"protocol"`
	Comment         string       `json:"comment"`
	ParentProcessID *string      `json:"parent_process_id"`
}

// ProcessMeasurement records the volume consumed from one source sample.
type ProcessMeasurement struct {
	Base
	ProcessID      string           `json:"process_id"`
	SourceSampleID string           `json:"source_sample_id"`
	VolumeUsed     *decimal.Decimal `json:"volume_used"`
	ExecutionDate  time.Time        `json:"execution_date"`
	Comment        string           `json:"comment"`
}

// SampleLineage is a parent to child edge produced by one measurement.
type SampleLineage struct {
	Base
	ParentID             string `json:"parent_id"`
	ChildID              string `json:"child_id"`
	ProcessMeasurementID string `json:"process_measurement_id"`
}

// LineageKey is the uniqueness key of a lineage edge.
type LineageKey struct {
	ParentID             string
	ChildID              string
	ProcessMeasurementID string
}

// Key returns the edge uniqueness key.
func (l SampleLineage) Key() LineageKey {
	return LineageKey{ParentID: l.ParentID, ChildID: l.ChildID, ProcessMeasurementID: l.ProcessMeasurementID}
}

// ExperimentRun is an instrument run loaded on a run container.
type ExperimentRun struct {
	Base
	Name        string    `json:"name"`
	RunType     string    `json:"run_type"`
	Instrument  string    `json:"instrument"`
	ContainerID string    `json:"container_id"`
	ProcessID   string    `json:"process_id"`
	StartDate   time.Time `json:"start_date"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)
