package export

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"labcore/pkg/containerkind"
	"labcore/pkg/coordinate"
	"labcore/pkg/domain"
)

// Inventory is a point-in-time listing of every container with the samples it holds.
type Inventory struct {
	Kind        Kind             `json:"kind"`
	GeneratedAt time.Time        `json:"generated_at"`
	Containers  []ContainerEntry `json:"containers"`
}

// ContainerEntry describes one container. Path lists barcodes from the
// outermost location down to the container itself.
type ContainerEntry struct {
	ID         string             `json:"id"`
	Barcode    string             `json:"barcode"`
	Name       string             `json:"name"`
	Kind       containerkind.Name `json:"kind"`
	Location   string             `json:"location,omitempty"`
	Coordinate string             `json:"coordinate,omitempty"`
	Ordinal    *int               `json:"ordinal,omitempty"`
	Path       []string           `json:"path"`
	Capacity   int                `json:"capacity,omitempty"`
	Children   int                `json:"child_containers"`
	Samples    []SampleEntry      `json:"samples"`
}

// SampleEntry describes one sample inside a container.
type SampleEntry struct {
	ID            string                `json:"id"`
	Name          string                `json:"name"`
	Kind          domain.SampleKindName `json:"sample_kind"`
	Coordinate    string                `json:"coordinate,omitempty"`
	Ordinal       *int                  `json:"ordinal,omitempty"`
	Volume        decimal.Decimal       `json:"volume"`
	Concentration *decimal.Decimal      `json:"concentration,omitempty"`
	Depleted      bool                  `json:"depleted"`
	Pool          bool                  `json:"pool"`
	CreationDate  time.Time             `json:"creation_date"`
}

// Inventory builds the inventory document from one consistent store view.
func (e *Exporter) Inventory(ctx context.Context, at time.Time) (Inventory, error) {
	doc := Inventory{Kind: KindInventory, GeneratedAt: at, Containers: []ContainerEntry{}}
	err := e.store.View(ctx, func(view domain.TransactionView) error {
		containers := view.ListContainers()
		byID := make(map[string]domain.Container, len(containers))
		for _, c := range containers {
			byID[c.ID] = c
		}
		for _, c := range containers {
			entry := ContainerEntry{
				ID:         c.ID,
				Barcode:    c.Barcode,
				Name:       c.Name,
				Kind:       c.Kind,
				Coordinate: c.Coordinate,
				Path:       locationPath(c, byID),
				Children:   len(view.ListChildContainers(c.ID)),
				Samples:    []SampleEntry{},
			}
			if c.LocationID != nil {
				if parent, ok := byID[*c.LocationID]; ok {
					entry.Location = parent.Barcode
					entry.Ordinal = e.ordinal(parent.Kind, c.Coordinate)
				}
			}
			if spec, err := e.registry.Get(c.Kind); err == nil {
				entry.Capacity = spec.Coordinates().Capacity()
			}
			for _, s := range view.ListSamplesInContainer(c.ID) {
				entry.Samples = append(entry.Samples, SampleEntry{
					ID:            s.ID,
					Name:          s.Name,
					Kind:          s.Kind,
					Coordinate:    s.Coordinate,
					Ordinal:       e.ordinal(c.Kind, s.Coordinate),
					Volume:        s.Volume,
					Concentration: s.Concentration,
					Depleted:      s.Depleted,
					Pool:          s.IsPool(),
					CreationDate:  s.CreationDate,
				})
			}
			sortSamples(entry.Samples)
			doc.Containers = append(doc.Containers, entry)
		}
		return nil
	})
	if err != nil {
		return Inventory{}, err
	}
	sort.Slice(doc.Containers, func(i, j int) bool { return doc.Containers[i].Barcode < doc.Containers[j].Barcode })
	return doc, nil
}

// ordinal is the 1-based row-major position of coord in a two-axis grid, or nil.
func (e *Exporter) ordinal(kind containerkind.Name, coord string) *int {
	if coord == "" {
		return nil
	}
	spec, err := e.registry.Get(kind)
	if err != nil || spec.Coordinates().Dimensions() != 2 {
		return nil
	}
	n, err := coordinate.ToOrdinal(coord, spec.Coordinates())
	if err != nil {
		return nil
	}
	return &n
}

func locationPath(c domain.Container, byID map[string]domain.Container) []string {
	path := []string{c.Barcode}
	seen := map[string]bool{c.ID: true}
	for cur := c; cur.LocationID != nil; {
		parent, ok := byID[*cur.LocationID]
		if !ok || seen[parent.ID] {
			break
		}
		seen[parent.ID] = true
		path = append(path, parent.Barcode)
		cur = parent
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

func sortSamples(samples []SampleEntry) {
	sort.SliceStable(samples, func(i, j int) bool {
		a, b := samples[i], samples[j]
		switch {
		case a.Ordinal != nil && b.Ordinal != nil && *a.Ordinal != *b.Ordinal:
			return *a.Ordinal < *b.Ordinal
		case a.Coordinate != b.Coordinate:
			return a.Coordinate < b.Coordinate
		default:
			return a.Name < b.Name
		}
	})
}
