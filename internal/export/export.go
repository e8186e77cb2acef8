// Package export publishes read-only JSON views of the lab state (the
// container inventory and the sample lineage graph) to blob storage under
// `<prefix>/<kind>/<timestamp>.json`.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"labcore/internal/blob"
	"labcore/internal/core"
	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

// Kind names an export document type.
type Kind string

const (
	KindInventory Kind = "inventory"
	KindLineage   Kind = "lineage"
)

// DefaultPrefix is the blob key prefix exports are written under.
const DefaultPrefix = "exports"

// TimestampLayout formats the generation time inside export keys. It sorts
// lexically in time order.
const TimestampLayout = "20060102T150405.000Z"

// ParseKind validates a user-supplied export kind.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindInventory, KindLineage:
		return k, nil
	default:
		return "", fmt.Errorf("unknown export kind %q (want %s or %s)", raw, KindInventory, KindLineage)
	}
}

// Key returns the blob key of an export generated at.
func Key(prefix string, kind Kind, at time.Time) string {
	return path.Join(strings.Trim(prefix, "/"), string(kind), at.UTC().Format(TimestampLayout)+".json")
}

// Exporter builds export documents from a service's store and writes them to blob storage.
type Exporter struct {
	store    domain.PersistentStore
	registry *containerkind.Registry
	blobs    blob.Store
	prefix   string
	clock    core.Clock
	logger   *zap.Logger
	metrics  core.MetricsRecorder
}

// Option customises an Exporter.
type Option func(*Exporter)

// WithPrefix overrides DefaultPrefix.
func WithPrefix(prefix string) Option {
	return func(e *Exporter) {
		if p := strings.Trim(prefix, "/ "); p != "" {
			e.prefix = p
		}
	}
}

// WithClock sets the clock stamped on documents and keys.
func WithClock(clock core.Clock) Option {
	return func(e *Exporter) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithLogger sets the logger used for publish events.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Exporter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records publish latency and outcome as "export_<kind>".
func WithMetrics(recorder core.MetricsRecorder) Option {
	return func(e *Exporter) { e.metrics = recorder }
}

// NewExporter reads from svc's store and registry and writes to blobs.
func NewExporter(svc *core.Service, blobs blob.Store, opts ...Option) *Exporter {
	e := &Exporter{
		store:    svc.Store(),
		registry: svc.Registry(),
		blobs:    blobs,
		prefix:   DefaultPrefix,
		clock:    core.ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Build assembles the document for kind without writing it.
func (e *Exporter) Build(ctx context.Context, kind Kind) (any, error) {
	return e.build(ctx, kind, e.clock.Now().UTC())
}

func (e *Exporter) build(ctx context.Context, kind Kind, at time.Time) (any, error) {
	switch kind {
	case KindInventory:
		return e.Inventory(ctx, at)
	case KindLineage:
		return e.Lineage(ctx, at)
	default:
		return nil, fmt.Errorf("unknown export kind %q", kind)
	}
}

// Publish builds the document for kind and stores it as indented JSON.
func (e *Exporter) Publish(ctx context.Context, kind Kind) (blob.Info, error) {
	start := time.Now()
	info, err := e.publish(ctx, kind)
	if e.metrics != nil {
		e.metrics.Observe(ctx, "export_"+string(kind), err == nil, time.Since(start))
	}
	if err != nil {
		e.logger.Error("export failed", zap.String("kind", string(kind)), zap.Error(err))
		return blob.Info{}, err
	}
	e.logger.Info("export published",
		zap.String("kind", string(kind)),
		zap.String("key", info.Key),
		zap.Int64("size_bytes", info.Size),
		zap.String("driver", string(e.blobs.Driver())))
	return info, nil
}

func (e *Exporter) publish(ctx context.Context, kind Kind) (blob.Info, error) {
	at := e.clock.Now().UTC()
	doc, err := e.build(ctx, kind, at)
	if err != nil {
		return blob.Info{}, err
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode %s export: %w", kind, err)
	}
	key := Key(e.prefix, kind, at)
	return e.blobs.Put(ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"kind":         string(kind),
			"generated_at": at.Format(time.RFC3339Nano),
		},
	})
}

// List returns published exports of kind, oldest first.
func (e *Exporter) List(ctx context.Context, kind Kind) ([]blob.Info, error) {
	return e.blobs.List(ctx, path.Join(e.prefix, string(kind))+"/")
}

// Open fetches a published export; the caller closes the reader.
func (e *Exporter) Open(ctx context.Context, key string) (blob.Info, io.ReadCloser, error) {
	return e.blobs.Get(ctx, key)
}
