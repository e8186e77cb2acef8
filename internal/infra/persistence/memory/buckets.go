package memory

import (
	"encoding/json"
	"fmt"
)

// SnapshotBuckets lists the named buckets a durable backend stores, one JSON
// payload per bucket, in write order.
var SnapshotBuckets = []string{"containers", "samples", "processes", "measurements", "lineages", "runs"}

// Bucket is one encoded slice of a Snapshot.
type Bucket struct {
	Name    string
	Payload []byte
}

func (s *Snapshot) targets() map[string]any {
	return map[string]any{
		"containers":   &s.Containers,
		"samples":      &s.Samples,
		"processes":    &s.Processes,
		"measurements": &s.Measurements,
		"lineages":     &s.Lineages,
		"runs":         &s.Runs,
	}
}

// EncodeBuckets marshals the snapshot into SnapshotBuckets order.
func (s Snapshot) EncodeBuckets() ([]Bucket, error) {
	targets := s.targets()
	out := make([]Bucket, 0, len(SnapshotBuckets))
	for _, name := range SnapshotBuckets {
		data, err := json.Marshal(targets[name])
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out = append(out, Bucket{Name: name, Payload: data})
	}
	return out, nil
}

// DecodeBucket fills the named bucket from payload. Unknown buckets and empty
// payloads are skipped and report false.
func (s *Snapshot) DecodeBucket(name string, payload []byte) (bool, error) {
	target, ok := s.targets()[name]
	if !ok || len(payload) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}
