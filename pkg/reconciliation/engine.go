// Package reconciliation runs whole reconciliation and collapse passes over the
// catalog.
package reconciliation

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apartments"
	"github.com/Ramsey-B/fern/pkg/collapse"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/store"
)

// EventEmitter publishes written entity changes.
type EventEmitter interface {
	EmitEntityChange(ctx context.Context, change events.EntityChange) error
}

// GraphProjector mirrors entity provenance into the graph.
type GraphProjector interface {
	ProjectEntity(ctx context.Context, entity models.UnifiedEntity, refs []models.RecordRef) error
}

// Locker serializes writers of one key.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// Config tunes an engine.
type Config struct {
	Workers int           `mapstructure:"RECONCILE_WORKERS"`
	LockTTL time.Duration `mapstructure:"RECONCILE_LOCK_TTL"`
}

// Engine is the caller-facing entry point.
type Engine struct {
	logger    ectologger.Logger
	store     store.Store
	retrier   *retry.Retrier
	matcher   *matching.Matcher
	scheduler *scheduler.Scheduler
	collapser *collapse.Collapser
	policies  *apartments.PolicyResolver
	cfg       Config

	emitter EventEmitter
	graph   GraphProjector
	locker  Locker
	newID   func() string
}

// Option customizes an Engine.
type Option func(*Engine)

// WithEmitter publishes events for written changes.
func WithEmitter(emitter EventEmitter) Option {
	return func(e *Engine) { e.emitter = emitter }
}

// WithGraph projects provenance for written changes.
func WithGraph(graph GraphProjector) Option {
	return func(e *Engine) { e.graph = graph }
}

// WithLocker takes a per-entity lock around every write.
func WithLocker(locker Locker) Option {
	return func(e *Engine) { e.locker = locker }
}

// WithIDGenerator replaces the uuid generator for new entities.
func WithIDGenerator(newID func() string) Option {
	return func(e *Engine) { e.newID = newID }
}

// NewEngine creates an engine.
func NewEngine(
	logger ectologger.Logger,
	st store.Store,
	retrier *retry.Retrier,
	matcher *matching.Matcher,
	sched *scheduler.Scheduler,
	collapser *collapse.Collapser,
	policies *apartments.PolicyResolver,
	cfg Config,
	opts ...Option,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = time.Minute
	}

	e := &Engine{
		logger:    logger,
		store:     st,
		retrier:   retrier,
		matcher:   matcher,
		scheduler: sched,
		collapser: collapser,
		policies:  policies,
		cfg:       cfg,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunDuplicateCollapse collapses duplicates inside one source collection.
func (e *Engine) RunDuplicateCollapse(ctx context.Context, source models.SourceName, dryRun bool) (models.CollapseReport, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciliation.Engine.RunDuplicateCollapse")
	defer span.End()

	return e.collapser.Collapse(ctx, source, collapse.Options{DryRun: dryRun})
}

// RunBackfill stamps updated_at on every source record that lacks one.
func (e *Engine) RunBackfill(ctx context.Context, dryRun bool) (scheduler.BackfillResult, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciliation.Engine.RunBackfill")
	defer span.End()

	return scheduler.BackfillUpdatedAt(ctx, e.logger, e.store, scheduler.SourceCollections(), e.scheduler.Now(), dryRun)
}

func since(start time.Time, operation string) {
	metrics.RecordRun(operation, time.Since(start).Seconds())
}
