// Package core hosts the meal tracking application services: the external
// ingredient resolver, the unit of work and the orchestrators built on them.
package core

import (
	"context"
	"errors"
	"time"

	"mealcore/internal/blob"
	"mealcore/internal/infra/persistence/memory"
	"mealcore/pkg/domain"
)

// Clock supplies timestamps to the service layer.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns the current time in UTC, falling back to time.Now when nil.
func (f ClockFunc) Now() time.Time {
	if f == nil {
		return time.Now().UTC()
	}
	return f().UTC()
}

// Logger is the structured logging seam. internal/logging adapts zap to it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation error, if any.
type TraceSpan interface {
	End(err error)
}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// IngredientLookup searches an external food database.
type IngredientLookup interface {
	Search(ctx context.Context, query string) ([]domain.ExternalIngredient, error)
}

// ServiceOption configures optional collaborators.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	ids     domain.IDGenerator
	blobs   blob.Store
	lookup  IngredientLookup
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		clock:   ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
		ids:     UUIDGenerator{},
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger routes service logs to logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetricsRecorder records per-operation outcomes.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer wraps operations in spans.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithIDGenerator overrides id generation for new records.
func WithIDGenerator(ids domain.IDGenerator) ServiceOption {
	return func(o *serviceOptions) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithBlobStore enables ingredient image uploads.
func WithBlobStore(store blob.Store) ServiceOption {
	return func(o *serviceOptions) {
		if store != nil {
			o.blobs = store
		}
	}
}

// WithIngredientLookup enables external ingredient search.
func WithIngredientLookup(lookup IngredientLookup) ServiceOption {
	return func(o *serviceOptions) {
		if lookup != nil {
			o.lookup = lookup
		}
	}
}

// ErrNotConfigured is returned by operations whose optional collaborator was
// not supplied.
var ErrNotConfigured = errors.New("collaborator not configured")

// Service exposes the meal tracking use cases.
type Service struct {
	store   domain.PersistentStore
	uow     *UnitOfWork
	clock   Clock
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
	ids     domain.IDGenerator
	blobs   blob.Store
	lookup  IngredientLookup
}

// NewService wires a service over store.
func NewService(store domain.PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return &Service{
		store:   store,
		uow:     NewUnitOfWork(store),
		clock:   cfg.clock,
		logger:  cfg.logger,
		metrics: cfg.metrics,
		tracer:  cfg.tracer,
		ids:     cfg.ids,
		blobs:   cfg.blobs,
		lookup:  cfg.lookup,
	}
}

// NewInMemoryService is a convenience constructor for tests and tooling.
func NewInMemoryService(opts ...ServiceOption) *Service {
	return NewService(memory.NewStore(), opts...)
}

// Store returns the underlying persistent store.
func (s *Service) Store() domain.PersistentStore { return s.store }

func (s *Service) now() time.Time { return s.clock.Now() }

// run wraps an operation with tracing, metrics and logging.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	err := fn(ctx)
	s.metrics.Observe(ctx, op, err == nil, time.Since(start))
	span.End(err)
	switch {
	case err == nil:
		s.logger.Debug("operation completed", "operation", op)
	case domain.IsValidation(err), domain.IsNotFound(err), domain.IsAuth(err):
		s.logger.Warn("operation rejected", "operation", op, "error", err)
	default:
		s.logger.Error("operation failed", "operation", op, "error", err)
	}
	return err
}

// storeFailure classifies a repository error. Domain rejections pass through
// unchanged; anything else is reported as a driver failure.
func storeFailure(op string, err error) error {
	if err == nil || domain.IsValidation(err) || domain.IsNotFound(err) || domain.IsAuth(err) || domain.IsInfrastructure(err) {
		return err
	}
	return domain.InfrastructureError{Op: op, Err: err}
}
