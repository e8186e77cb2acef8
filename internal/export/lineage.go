package export

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/domain"
)

// LineageGraph is the whole derivation graph: every sample as a node and
// every lineage edge annotated with the measurement that produced it.
type LineageGraph struct {
	Kind        Kind          `json:"kind"`
	GeneratedAt time.Time     `json:"generated_at"`
	Nodes       []LineageNode `json:"nodes"`
	Edges       []LineageEdge `json:"edges"`
}

type LineageNode struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Kind       domain.SampleKindName `json:"sample_kind"`
	Container  string                `json:"container"`
	Coordinate string                `json:"coordinate,omitempty"`
	Depleted   bool                  `json:"depleted"`
}

type LineageEdge struct {
	ParentID      string              `json:"parent_id"`
	ChildID       string              `json:"child_id"`
	MeasurementID string              `json:"process_measurement_id"`
	Protocol      domain.ProtocolName `json:"protocol,omitempty"`
	VolumeUsed    *decimal.Decimal    `json:"volume_used,omitempty"`
	ExecutionDate time.Time           `json:"execution_date"`
}

// Lineage builds the lineage document from one consistent store view.
func (e *Exporter) Lineage(ctx context.Context, at time.Time) (LineageGraph, error) {
	doc := LineageGraph{Kind: KindLineage, GeneratedAt: at, Nodes: []LineageNode{}, Edges: []LineageEdge{}}
	err := e.store.View(ctx, func(view domain.TransactionView) error {
		for _, s := range view.ListSamples() {
			node := LineageNode{ID: s.ID, Name: s.Name, Kind: s.Kind, Coordinate: s.Coordinate, Depleted: s.Depleted}
			if c, ok := view.FindContainer(s.ContainerID); ok {
				node.Container = c.Barcode
			}
			doc.Nodes = append(doc.Nodes, node)
		}
		for _, l := range view.ListSampleLineages() {
			edge := LineageEdge{ParentID: l.ParentID, ChildID: l.ChildID, MeasurementID: l.ProcessMeasurementID}
			if pm, ok := view.FindProcessMeasurement(l.ProcessMeasurementID); ok {
				edge.VolumeUsed = pm.VolumeUsed
				edge.ExecutionDate = pm.ExecutionDate
				if p, ok := view.FindProcess(pm.ProcessID); ok {
					edge.Protocol = p.Protocol
				}
			}
			doc.Edges = append(doc.Edges, edge)
		}
		return nil
	})
	if err != nil {
		return LineageGraph{}, err
	}
	sort.Slice(doc.Nodes, func(i, j int) bool {
		if doc.Nodes[i].Name != doc.Nodes[j].Name {
			return doc.Nodes[i].Name < doc.Nodes[j].Name
		}
		return doc.Nodes[i].ID < doc.Nodes[j].ID
	})
	sort.Slice(doc.Edges, func(i, j int) bool {
		a, b := doc.Edges[i], doc.Edges[j]
		if !a.ExecutionDate.Equal(b.ExecutionDate) {
			return a.ExecutionDate.Before(b.ExecutionDate)
		}
		if a.ParentID != b.ParentID {
			return a.ParentID < b.ParentID
		}
		return a.ChildID < b.ChildID
	})
	return doc, nil
}
