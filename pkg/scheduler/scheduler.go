// Package scheduler decides which unified entities are stale and rebuilds them
// from their linked sources.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apartments"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/store"
)

// RebuildOptions tune one rebuild.
type RebuildOptions struct {
	Policy apartments.MergePolicy
	// Force rebuilds even when no source is newer, e.g. after a new link.
	Force  bool
	DryRun bool
}

// Scheduler rebuilds stale entities.
type Scheduler struct {
	logger  ectologger.Logger
	store   store.Store
	builder *Builder
	retrier *retry.Retrier
	now     func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// NewScheduler creates a scheduler.
func NewScheduler(logger ectologger.Logger, st store.Store, builder *Builder, retrier *retry.Retrier, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:  logger,
		store:   st,
		builder: builder,
		retrier: retrier,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now is the scheduler's clock.
func (s *Scheduler) Now() time.Time {
	return s.now().UTC()
}

// ShouldRebuild is true when the entity was never merged or a linked source
// changed after the last merge.
func ShouldRebuild(entity models.UnifiedEntity, sourceTimestamp time.Time) bool {
	if entity.LastMergedAt == nil {
		return true
	}
	return sourceTimestamp.After(*entity.LastMergedAt)
}

// LatestUpdate is the newest updated_at across linked records. A record
// without one counts as updated at now and is reported; BackfillUpdatedAt is
// what persists that stamp.
func LatestUpdate(entityID string, linked Linked, now time.Time) (time.Time, []models.IntegrityWarning) {
	var latest time.Time
	var warnings []models.IntegrityWarning
	for _, spec := range models.Sources() {
		record, ok := linked[spec.Name]
		if !ok {
			continue
		}
		if record.UpdatedAt == nil {
			warnings = append(warnings, models.IntegrityWarning{
				Ref:    record.Ref(),
				Kind:   "missing_updated_at",
				Detail: fmt.Sprintf("linked to %s without updated_at, counted as now", entityID),
			})
			if now.After(latest) {
				latest = now
			}
			continue
		}
		if record.UpdatedAt.After(latest) {
			latest = *record.UpdatedAt
		}
	}
	return latest, warnings
}

// SourceTimestamp loads the entity's linked records and returns their newest
// updated_at, counting a missing one as now. It never writes.
func (s *Scheduler) SourceTimestamp(ctx context.Context, entity models.UnifiedEntity) (time.Time, []models.IntegrityWarning, error) {
	linked, warnings, err := s.LoadLinked(ctx, entity)
	if err != nil {
		return time.Time{}, nil, err
	}
	ts, more := LatestUpdate(entity.ID, linked, s.Now())
	return ts, append(warnings, more...), nil
}

// LoadLinked fetches the current version of every linked record. A link to a
// record that no longer exists is reported and ignored.
func (s *Scheduler) LoadLinked(ctx context.Context, entity models.UnifiedEntity) (Linked, []models.IntegrityWarning, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.LoadLinked")
	defer span.End()

	linked := make(Linked, len(entity.Provenance))
	var warnings []models.IntegrityWarning

	for _, ref := range entity.Refs() {
		spec, ok := models.LookupSource(ref.Source)
		if !ok {
			warnings = append(warnings, models.IntegrityWarning{Ref: ref, Kind: "unknown_source", Detail: "provenance names an unknown source"})
			continue
		}

		var doc store.Document
		err := s.retrier.Do(ctx, "find_source", func(ctx context.Context) error {
			var err error
			doc, err = s.store.FindOne(ctx, spec.Collection, store.ByID(ref.ID))
			if errors.Is(err, store.ErrNotFound) {
				return retry.Permanent(err)
			}
			return err
		})
		if errors.Is(err, store.ErrNotFound) {
			warnings = append(warnings, models.IntegrityWarning{Ref: ref, Kind: "dangling_link", Detail: "linked record not found"})
			continue
		}
		if err != nil {
			return nil, warnings, models.NewRecordError(models.ErrPersistenceFailure, ref, "load linked record", err)
		}

		linked[ref.Source] = models.SourceRecordFromDocument(spec, doc)
	}

	return linked, warnings, nil
}

// Rebuild refreshes one entity. Nothing is written when no linked source is
// newer than the last merge, or when opts.DryRun is set.
func (s *Scheduler) Rebuild(ctx context.Context, entity models.UnifiedEntity, opts RebuildOptions) (Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Scheduler.Rebuild")
	defer span.End()

	log := s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"name":      entity.Name,
		"dry_run":   opts.DryRun,
	})

	linked, warnings, err := s.LoadLinked(ctx, entity)
	if err != nil {
		return Outcome{EntityID: entity.ID, Warnings: warnings}, err
	}
	latest, more := LatestUpdate(entity.ID, linked, s.Now())
	warnings = append(warnings, more...)
	for _, w := range more {
		metrics.RecordIntegrityWarning(w.Kind)
	}

	if !opts.Force && !ShouldRebuild(entity, latest) {
		log.Debug("No linked source changed since last merge")
		return Outcome{EntityID: entity.ID, Policy: opts.Policy, Warnings: warnings}, nil
	}

	// Stamping at least the newest source time keeps a source with a clock
	// ahead of ours from making the entity stale forever.
	now := s.Now()
	if latest.After(now) {
		now = latest
	}

	doc, outcome, err := s.builder.Build(ctx, entity, linked, opts.Policy, now)
	outcome.Warnings = append(warnings, outcome.Warnings...)
	if err != nil {
		return outcome, err
	}

	log = log.WithFields(map[string]any{
		"changed":  outcome.Changed,
		"replaced": outcome.Replaced,
		"added":    outcome.Added,
	})

	if opts.DryRun {
		log.WithField("changes", outcome.Changes).Info("Dry run: would write unified entity")
		return outcome, nil
	}

	err = s.retrier.Do(ctx, "upsert_unified", func(ctx context.Context) error {
		return s.store.Upsert(ctx, models.UnifiedCollection, store.ByID(entity.ID), doc)
	})
	if err != nil {
		log.WithError(err).Error("Failed to write unified entity")
		return outcome, models.NewRecordError(models.ErrPersistenceFailure, models.RecordRef{Source: "unified", ID: entity.ID}, "upsert", err)
	}
	outcome.Written = true

	if outcome.Changed {
		log.WithField("changes", outcome.Changes).Info("Rebuilt unified entity")
	} else {
		log.Debug("Rebuilt unified entity without content changes")
	}
	return outcome, nil
}
