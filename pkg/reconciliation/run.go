package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apartments"
	"github.com/Ramsey-B/fern/pkg/cache"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/scheduler"
	"github.com/Ramsey-B/fern/pkg/store"
)

// Filter narrows a run to some buildings.
type Filter struct {
	// Building is a case-insensitive regular expression over building names.
	Building string `json:"building,omitempty"`
	// IDs restricts the run to these unified entities.
	IDs []string `json:"ids,omitempty"`
}

// Options tune one reconciliation run.
type Options struct {
	Filter        Filter
	Threshold     float64
	TypeThreshold int
	DryRun        bool
	// Backfill stamps missing source updated_at values with now before the
	// run. DefaultOptions enables it.
	Backfill bool
	// ForceReplace and CopyOnly add building names to the configured lists.
	ForceReplace []string
	CopyOnly     []string
}

// DefaultOptions returns the standard thresholds with backfill enabled.
func DefaultOptions() Options {
	return Options{
		Threshold:     matching.DefaultThreshold,
		TypeThreshold: apartments.DefaultTypeThreshold,
		Backfill:      true,
	}
}

// Entity actions reported per rebuilt entity.
const (
	ActionCreated  = "created"
	ActionMerged   = "merged"
	ActionReplaced = "replaced"
	ActionSkipped  = "skipped"
	ActionError    = "error"
)

type job struct {
	entity models.UnifiedEntity
	force  bool
}

type jobResult struct {
	outcome scheduler.Outcome
	action  string
	err     error
}

// pool is the source records of one run, by source, in store order.
type pool map[models.SourceName][]models.SourceRecord

func (p pool) candidates(source models.SourceName) []matching.Candidate {
	out := make([]matching.Candidate, len(p[source]))
	for i, r := range p[source] {
		out[i] = matching.CandidateFromRecord(r)
	}
	return out
}

// RunReconciliation links, creates and rebuilds unified entities. One
// entity's failure is recorded and the run continues.
func (e *Engine) RunReconciliation(ctx context.Context, opts Options) (models.ReconciliationReport, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciliation.Engine.RunReconciliation")
	defer span.End()
	defer since(time.Now(), "reconcile")

	if opts.Threshold <= 0 {
		opts.Threshold = matching.DefaultThreshold
	}
	if opts.TypeThreshold < 0 {
		opts.TypeThreshold = apartments.DefaultTypeThreshold
	}

	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"building":       opts.Filter.Building,
		"threshold":      opts.Threshold,
		"type_threshold": opts.TypeThreshold,
		"dry_run":        opts.DryRun,
	})
	report := models.ReconciliationReport{DryRun: opts.DryRun}

	if opts.Backfill {
		stamped, err := e.RunBackfill(ctx, opts.DryRun)
		if err != nil {
			return report, err
		}
		log.WithField("stamped", stamped.Total()).Info("Backfilled source timestamps")
	}

	all, err := e.loadEntities(ctx)
	if err != nil {
		return report, err
	}
	sources, err := e.loadSources(ctx)
	if err != nil {
		return report, err
	}

	// Every existing link is consumed, including links of entities outside
	// the filter, so no record is ever claimed twice.
	refs := make([]models.RecordRef, 0, len(all)*len(models.Sources()))
	for _, entity := range all {
		refs = append(refs, entity.Refs()...)
	}
	consumed := matching.NewConsumedSet(refs...)

	selected, err := filterEntities(all, opts.Filter)
	if err != nil {
		return report, err
	}

	jobs := e.linkPass(ctx, selected, sources, opts.Threshold, consumed, &report)
	if len(opts.Filter.IDs) == 0 {
		created, err := e.createPass(ctx, sources, opts, consumed, &report)
		if err != nil {
			return report, err
		}
		jobs = append(jobs, created...)
	}

	policies := e.policies.WithThreshold(opts.TypeThreshold).WithNames(opts.ForceReplace, opts.CopyOnly)
	results := e.rebuildAll(ctx, jobs, policies, opts.DryRun)

	for i, res := range results {
		report.Processed++
		report.Warnings = append(report.Warnings, res.outcome.Warnings...)
		metrics.RecordEntityAction(res.action)

		switch res.action {
		case ActionCreated:
			report.Created++
		case ActionMerged:
			report.Merged++
		case ActionReplaced:
			report.Replaced++
		case ActionSkipped:
			report.Skipped++
		case ActionError:
			report.Errors++
			report.EntityErrors = append(report.EntityErrors, entityError(jobs[i].entity.ID, res.err))
		}
		report.Added += res.outcome.Added
	}

	log.WithFields(map[string]any{
		"processed": report.Processed,
		"created":   report.Created,
		"merged":    report.Merged,
		"replaced":  report.Replaced,
		"skipped":   report.Skipped,
		"unmatched": report.Unmatched,
		"errors":    report.Errors,
		"linked":    report.Linked,
	}).Info("Reconciliation finished")

	return report, nil
}

func (e *Engine) loadEntities(ctx context.Context) ([]models.UnifiedEntity, error) {
	var docs []store.Document
	err := e.retrier.Do(ctx, "load_unified", func(ctx context.Context) error {
		var err error
		docs, err = e.store.FindMany(ctx, models.UnifiedCollection, store.Query{})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load unified entities: %w", err)
	}

	entities := make([]models.UnifiedEntity, len(docs))
	for i, doc := range docs {
		entities[i] = models.UnifiedFromDocument(doc)
	}
	return entities, nil
}

func (e *Engine) loadSources(ctx context.Context) (pool, error) {
	out := make(pool)
	for _, spec := range models.Sources() {
		var docs []store.Document
		err := e.retrier.Do(ctx, "load_source", func(ctx context.Context) error {
			var err error
			docs, err = e.store.FindMany(ctx, spec.Collection, store.Query{})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load %s records: %w", spec.Name, err)
		}

		records := make([]models.SourceRecord, len(docs))
		for i, doc := range docs {
			records[i] = models.SourceRecordFromDocument(spec, doc)
		}
		out[spec.Name] = records
	}
	return out, nil
}

func filterEntities(entities []models.UnifiedEntity, filter Filter) ([]models.UnifiedEntity, error) {
	q := store.Query{IDs: filter.IDs}
	if filter.Building != "" {
		q.Matches = map[string]string{models.FieldDevelopmentName: filter.Building}
	}
	if q.IsZero() {
		return entities, nil
	}

	out := make([]models.UnifiedEntity, 0)
	for _, entity := range entities {
		ok, err := q.Eval(entity.Data)
		if err != nil {
			return nil, fmt.Errorf("invalid building filter: %w", err)
		}
		if ok {
			out = append(out, entity)
		}
	}
	return out, nil
}

// linkPass offers every source an entity is not yet linked to. A new link
// forces a rebuild, since the new source may be older than the last merge.
func (e *Engine) linkPass(ctx context.Context, entities []models.UnifiedEntity, sources pool, threshold float64, consumed *matching.ConsumedSet, report *models.ReconciliationReport) []job {
	ctx, span := tracing.StartSpan(ctx, "reconciliation.Engine.linkPass")
	defer span.End()

	jobs := make([]job, 0, len(entities))
	for _, entity := range entities {
		j := job{entity: entity}
		if entity.NormalizedKey == "" {
			jobs = append(jobs, j)
			continue
		}

		self := matching.Candidate{
			Ref:  models.RecordRef{Source: "unified", ID: entity.ID},
			Name: entity.Name,
			Key:  entity.NormalizedKey,
		}
		for _, spec := range models.Sources() {
			if entity.Linked(spec.Name) {
				continue
			}
			result := e.matcher.Match(ctx, []matching.Candidate{self}, sources.candidates(spec.Name), threshold, consumed)
			if len(result.Pairs) == 0 {
				continue
			}

			target := result.Pairs[0].Target
			j.entity.Provenance = cloneProvenance(j.entity.Provenance)
			j.entity.Provenance[spec.Name] = target.Ref.ID
			j.force = true
			report.Linked++

			e.logger.WithContext(ctx).WithFields(map[string]any{
				"entity_id": entity.ID,
				"source":    target.Ref.String(),
				"score":     result.Pairs[0].Score,
			}).Info("Linked source record to unified entity")
		}
		jobs = append(jobs, j)
	}
	return jobs
}

// seedSources are matched in order against each unlinked base record.
var seedSources = []models.SourceName{models.SourceAvito, models.SourceDomClick, models.SourceCian}

// createPass turns unconsumed base records into new entities. A new entity
// needs a match from a source that seeds entities; otherwise the base record
// is reported as unmatched and nothing it touched is consumed.
func (e *Engine) createPass(ctx context.Context, sources pool, opts Options, consumed *matching.ConsumedSet, report *models.ReconciliationReport) ([]job, error) {
	ctx, span := tracing.StartSpan(ctx, "reconciliation.Engine.createPass")
	defer span.End()

	var nameFilter store.Query
	if opts.Filter.Building != "" {
		nameFilter.Matches = map[string]string{"name": opts.Filter.Building}
	}

	jobs := make([]job, 0)
	for _, spec := range models.Sources() {
		if spec.Role != models.RoleBase {
			continue
		}

		for _, base := range sources[spec.Name] {
			if consumed.Has(base.Ref()) {
				continue
			}
			if !nameFilter.IsZero() {
				ok, err := nameFilter.Eval(map[string]any{"name": base.DisplayName})
				if err != nil {
					return nil, fmt.Errorf("invalid building filter: %w", err)
				}
				if !ok {
					continue
				}
			}

			self := matching.CandidateFromRecord(base)
			if self.Key == "" {
				report.Unmatched++
				report.UnmatchedRecords = append(report.UnmatchedRecords, unmatched(base, "no usable name"))
				continue
			}

			provenance := map[models.SourceName]string{spec.Name: base.ID}
			trial := consumed.Overlay()
			trial.Add(base.Ref())
			seeded := false
			for _, source := range seedSources {
				result := e.matcher.Match(ctx, []matching.Candidate{self}, sources.candidates(source), opts.Threshold, trial)
				if len(result.Pairs) == 0 {
					continue
				}
				provenance[source] = result.Pairs[0].Target.Ref.ID
				if seedSpec, ok := models.LookupSource(source); ok && seedSpec.SeedsEntity {
					seeded = true
				}
			}

			if !seeded {
				report.Unmatched++
				report.UnmatchedRecords = append(report.UnmatchedRecords, unmatched(base, models.ErrMatchingMiss.Error()))
				continue
			}

			trial.Commit()
			entity := models.UnifiedEntity{
				ID:            e.newID(),
				Name:          base.DisplayName,
				NormalizedKey: base.NormalizedKey,
				Coordinates:   base.Coordinates,
				Provenance:    provenance,
			}
			jobs = append(jobs, job{entity: entity, force: true})

			e.logger.WithContext(ctx).WithFields(map[string]any{
				"entity_id": entity.ID,
				"base":      base.Ref().String(),
				"name":      base.DisplayName,
				"sources":   len(provenance),
			}).Info("Matched base record to new unified entity")
		}
	}
	return jobs, nil
}

// rebuildAll rebuilds jobs on a bounded worker pool. Results keep job order.
func (e *Engine) rebuildAll(ctx context.Context, jobs []job, policies *apartments.PolicyResolver, dryRun bool) []jobResult {
	results := make([]jobResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range jobs {
		g.Go(func() error {
			results[i] = e.rebuildOne(gctx, jobs[i], policies, dryRun)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *Engine) rebuildOne(ctx context.Context, j job, policies *apartments.PolicyResolver, dryRun bool) jobResult {
	ctx, span := tracing.StartSpan(ctx, "reconciliation.Engine.rebuildOne")
	defer span.End()

	policy := policies.Resolve(j.entity.NormalizedKey)
	opts := scheduler.RebuildOptions{Policy: policy, Force: j.force, DryRun: dryRun}

	var outcome scheduler.Outcome
	rebuild := func() error {
		var err error
		outcome, err = e.scheduler.Rebuild(ctx, j.entity, opts)
		return err
	}

	var err error
	if e.locker != nil && !dryRun {
		err = e.locker.WithLock(ctx, cache.EntityLockKey(j.entity.ID), e.cfg.LockTTL, rebuild)
	} else {
		err = rebuild()
	}
	if outcome.EntityID == "" {
		outcome.EntityID = j.entity.ID
	}
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("entity_id", j.entity.ID).Error("Failed to rebuild unified entity")
		return jobResult{outcome: outcome, action: ActionError, err: err}
	}

	action := classify(outcome)
	if outcome.Written && outcome.Changed {
		e.publish(ctx, j.entity, outcome, action)
	}
	return jobResult{outcome: outcome, action: action}
}

// classify maps an outcome onto the report buckets.
func classify(o scheduler.Outcome) string {
	switch {
	case !o.Rebuilt:
		return ActionSkipped
	case o.Created:
		return ActionCreated
	case o.Policy.Kind == apartments.PolicyCopyOnly:
		return ActionSkipped
	case o.Replaced:
		return ActionReplaced
	case o.Changed:
		return ActionMerged
	default:
		return ActionSkipped
	}
}

// publish sends the change to the event and graph sinks. Both are best-effort.
func (e *Engine) publish(ctx context.Context, entity models.UnifiedEntity, outcome scheduler.Outcome, action string) {
	written := models.UnifiedFromDocument(outcome.Document)
	log := e.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"action":    action,
	})

	if e.emitter != nil {
		change := events.EntityChange{
			Type:     events.ChangeType(outcome.Created, outcome.Replaced),
			EntityID: entity.ID,
			Name:     written.Name,
			Document: outcome.Document,
			Sources:  written.Refs(),
			Changes:  outcome.Changes,
			Policy:   outcome.Policy.String(),
			Added:    outcome.Added,
		}
		if err := e.emitter.EmitEntityChange(ctx, change); err != nil {
			log.WithError(err).Warn("Failed to emit entity change event")
		}
	}

	if e.graph != nil {
		if err := e.graph.ProjectEntity(ctx, written, written.Refs()); err != nil {
			log.WithError(err).Warn("Failed to project entity provenance")
		}
	}
}

func entityError(id string, err error) models.EntityError {
	kind := "unknown"
	switch {
	case errors.Is(err, models.ErrPersistenceFailure):
		kind = "persistence_failure"
	case errors.Is(err, models.ErrMissingCoordinates):
		kind = "missing_coordinates"
	case errors.Is(err, models.ErrDataIntegrity):
		kind = "data_integrity"
	case errors.Is(err, cache.ErrLockNotAcquired):
		kind = "lock_not_acquired"
	}
	return models.EntityError{EntityID: id, Kind: kind, Message: err.Error()}
}

func unmatched(r models.SourceRecord, reason string) models.UnmatchedRecord {
	return models.UnmatchedRecord{Source: r.Source, ID: r.ID, Name: r.DisplayName, Reason: reason}
}

func cloneProvenance(p map[models.SourceName]string) map[models.SourceName]string {
	out := make(map[models.SourceName]string, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}
