package core

import (
	"context"
	"errors"
	"time"

	"labcore/internal/infra/persistence/memory"
	"labcore/pkg/containerkind"
	"labcore/pkg/domain"
)

// Service exposes the transactional container, sample and ledger operations.
//
// Every mutating operation runs in a single store transaction and returns the
// produced value, a domain.Result and an error. Validation problems are
// reported as blocking violations in the Result with a nil error; the error is
// reserved for infrastructure faults.
type Service struct {
	store    domain.PersistentStore
	registry *containerkind.Registry
	kinds    domain.SampleKinds
	clock    Clock
	logger   Logger
	audit    AuditRecorder
	metrics  MetricsRecorder
	tracer   Tracer
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock overrides the clock used for execution dates and auto comments.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(recorder AuditRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.audit = recorder
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(s *Service) {
		if recorder != nil {
			s.metrics = recorder
		}
	}
}

// WithTracer sets the tracer wrapping each operation.
func WithTracer(tracer Tracer) ServiceOption {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithRegistry replaces the default container kind catalog.
func WithRegistry(registry *containerkind.Registry) ServiceOption {
	return func(s *Service) {
		if registry != nil {
			s.registry = registry
		}
	}
}

// WithSampleKinds replaces the default sample kind catalog.
func WithSampleKinds(kinds domain.SampleKinds) ServiceOption {
	return func(s *Service) { s.kinds = kinds }
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		registry: containerkind.Default(),
		kinds:    domain.DefaultSampleKinds(),
		clock:    systemClock{},
		logger:   noopLogger{},
		audit:    noopAuditRecorder{},
		metrics:  noopMetricsRecorder{},
		tracer:   noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service over a fresh in-memory store evaluating
// the default rules for the registry in use.
func NewInMemoryService(opts ...ServiceOption) *Service {
	svc := NewService(nil, opts...)
	svc.store = memory.NewStore(NewDefaultRulesEngine(svc.registry))
	return svc
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// Registry returns the container kind catalog.
func (s *Service) Registry() *containerkind.Registry { return s.registry }

// SampleKinds returns the sample kind catalog.
func (s *Service) SampleKinds() domain.SampleKinds { return s.kinds }

func (s *Service) now() time.Time { return s.clock.Now() }

type operationMeta struct {
	entity domain.EntityType
	action domain.Action
}

var operations = map[string]operationMeta{
	"create_container":        {domain.EntityContainer, domain.ActionCreate},
	"get_or_create_container": {domain.EntityContainer, domain.ActionCreate},
	"move_container":          {domain.EntityContainer, domain.ActionUpdate},
	"rename_container":        {domain.EntityContainer, domain.ActionUpdate},
	"delete_container":        {domain.EntityContainer, domain.ActionDelete},
	"create_sample":           {domain.EntitySample, domain.ActionCreate},
	"extract_sample":          {domain.EntitySample, domain.ActionCreate},
	"transfer_sample":         {domain.EntitySample, domain.ActionCreate},
	"pool_samples":            {domain.EntitySample, domain.ActionCreate},
	"update_sample":           {domain.EntitySample, domain.ActionUpdate},
	"create_experiment_run":   {domain.EntityExperimentRun, domain.ActionCreate},
	"import_batch":            {},
}

// txFunc performs one operation inside a transaction. Validation problems are
// recorded on res; the returned ID names the primary record produced.
type txFunc func(tx domain.Transaction, res *domain.Result) (string, error)

// run executes fn in one store transaction and folds validation outcomes
// into the returned Result. A blocking violation recorded by fn aborts the
// transaction just like a blocking rule.
func (s *Service) run(ctx context.Context, op string, fn txFunc) (domain.Result, error) {
	start := s.now()
	ctx, span := s.tracer.Start(ctx, op)

	var local domain.Result
	var entityID string
	storeRes, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		local = domain.Result{}
		id, err := fn(tx, &local)
		if err != nil {
			return err
		}
		if local.HasBlocking() {
			return domain.RuleViolationError{Result: local}
		}
		entityID = id
		return nil
	})

	res := local
	var violation domain.RuleViolationError
	switch {
	case err == nil:
		res.Merge(storeRes)
	case errors.As(err, &violation):
		if !local.HasBlocking() {
			res.Merge(violation.Result)
		}
		err = nil
	case errors.Is(err, domain.ErrAlreadyExists), errors.Is(err, domain.ErrNotFound):
		// lost races against the store's uniqueness and reference checks
		res.BlockErr("", err)
		err = nil
	}

	duration := s.now().Sub(start)
	switch {
	case err != nil:
		span.End(err)
		s.logger.Error("operation failed", "operation", op, "error", err)
		s.recordAudit(ctx, op, entityID, AuditStatusError, err.Error(), duration)
	case res.HasBlocking():
		verr := res.Err()
		span.End(verr)
		s.logger.Warn("operation rejected", "operation", op, "violations", len(res.Errors()))
		s.recordAudit(ctx, op, "", AuditStatusRejected, verr.Error(), duration)
	default:
		span.End(nil)
		s.logger.Info("operation committed", "operation", op, "entity_id", entityID, "dry_run", domain.IsDryRun(ctx), "warnings", len(res.Warnings()))
		s.recordAudit(ctx, op, entityID, AuditStatusSuccess, "", duration)
	}
	s.metrics.Observe(ctx, op, err == nil && !res.HasBlocking(), duration)
	return res, err
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, status AuditStatus, errMsg string, duration time.Duration) {
	meta := operations[op]
	s.audit.Record(ctx, AuditEntry{
		Operation: op,
		Entity:    meta.entity,
		Action:    meta.action,
		EntityID:  entityID,
		Actor:     ActorFrom(ctx),
		Status:    status,
		Error:     errMsg,
		DryRun:    domain.IsDryRun(ctx),
		Duration:  duration,
		Timestamp: s.now(),
	})
}
