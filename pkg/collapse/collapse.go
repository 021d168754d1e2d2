// Package collapse merges duplicate records inside one source collection.
package collapse

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/retry"
	"github.com/Ramsey-B/fern/pkg/store"
)

// Listener is told about every collapsed cluster after it is persisted.
type Listener interface {
	Collapsed(ctx context.Context, source models.SourceName, canonicalID string, removedIDs []string) error
}

// Options tune a collapse pass.
type Options struct {
	DryRun bool
}

// Collapser collapses duplicate source records.
type Collapser struct {
	logger    ectologger.Logger
	store     store.Store
	retrier   *retry.Retrier
	listeners []Listener
}

// NewCollapser creates a collapser.
func NewCollapser(logger ectologger.Logger, st store.Store, retrier *retry.Retrier, listeners ...Listener) *Collapser {
	return &Collapser{logger: logger, store: st, retrier: retrier, listeners: listeners}
}

// member is one record taking part in a pass.
type member struct {
	index  int
	record models.SourceRecord
	count  int
}

// Collapse merges duplicates in the source's collection. DomClick records are
// first grouped by URL slug, then every source is grouped by normalized name.
// Each loser is merged into the canonical record, the canonical record is
// persisted, and only then is the loser deleted.
func (c *Collapser) Collapse(ctx context.Context, source models.SourceName, opts Options) (models.CollapseReport, error) {
	ctx, span := tracing.StartSpan(ctx, "collapse.Collapser.Collapse")
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.RecordRun("collapse", time.Since(start).Seconds())
	}()

	report := models.CollapseReport{Source: source, DryRun: opts.DryRun}
	spec, ok := models.LookupSource(source)
	if !ok {
		return report, fmt.Errorf("unknown source %q", source)
	}

	log := c.logger.WithContext(ctx).WithFields(map[string]any{
		"source":  source,
		"dry_run": opts.DryRun,
	})

	docs, err := c.store.FindMany(ctx, spec.Collection, store.Query{})
	if err != nil {
		return report, models.NewRecordError(models.ErrPersistenceFailure, models.RecordRef{Source: source}, "load collection", err)
	}

	members := make([]*member, 0, len(docs))
	for i, doc := range docs {
		record := models.SourceRecordFromDocument(spec, doc)
		members = append(members, &member{index: i, record: record, count: models.ApartmentCount(spec, doc)})
	}

	if spec.Name == models.SourceDomClick && spec.URLPath != "" {
		groups := groupBy(members, func(m *member) string {
			return Slug(store.GetString(m.record.Data, spec.URLPath))
		})
		members, err = c.collapseGroups(ctx, spec, groups, members, opts, &report)
		if err != nil {
			return report, err
		}
	}

	for _, m := range members {
		if m.record.NormalizedKey == "" {
			report.Warnings = append(report.Warnings, models.IntegrityWarning{
				Ref:    m.record.Ref(),
				Kind:   "empty_name",
				Detail: "record has no usable name and cannot be grouped",
			})
			metrics.RecordIntegrityWarning("empty_name")
		}
	}
	groups := groupBy(members, func(m *member) string { return m.record.NormalizedKey })
	members, err = c.collapseGroups(ctx, spec, groups, members, opts, &report)
	if err != nil {
		return report, err
	}

	if err := c.stampNames(ctx, spec, members, opts); err != nil {
		return report, err
	}

	if indexer, ok := c.store.(store.UniqueIndexer); ok && !opts.DryRun {
		if err := indexer.EnsureUniqueIndex(ctx, spec.Collection, models.FieldNormalizedName); err != nil {
			log.WithError(err).Warn("Failed to ensure unique normalized_name index")
		}
	}

	log.WithFields(map[string]any{
		"clusters": report.ClustersFound,
		"deleted":  report.RecordsDeleted,
	}).Info("Collapsed duplicate records")

	return report, nil
}

// collapseGroups collapses every group with more than one member and returns
// the members still standing, in input order.
func (c *Collapser) collapseGroups(ctx context.Context, spec models.SourceSpec, groups [][]*member, members []*member, opts Options, report *models.CollapseReport) ([]*member, error) {
	removed := make(map[int]bool)

	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		report.ClustersFound++

		canonical := Canonical(group)
		losers := make([]*member, 0, len(group)-1)
		for _, m := range group {
			if m != canonical {
				losers = append(losers, m)
			}
		}

		removedIDs, err := c.collapseCluster(ctx, spec, canonical, losers, opts)
		report.RecordsDeleted += len(removedIDs)
		if !opts.DryRun {
			metrics.DuplicatesCollapsed.WithLabelValues(string(spec.Name)).Add(float64(len(removedIDs)))
		}
		for _, m := range losers[:len(removedIDs)] {
			removed[m.index] = true
		}
		if err != nil {
			return nil, err
		}

		if !opts.DryRun {
			for _, l := range c.listeners {
				if lerr := l.Collapsed(ctx, spec.Name, canonical.record.ID, removedIDs); lerr != nil {
					c.logger.WithContext(ctx).WithError(lerr).Warn("Collapse listener failed")
				}
			}
		}
	}

	out := make([]*member, 0, len(members)-len(removed))
	for _, m := range members {
		if !removed[m.index] {
			out = append(out, m)
		}
	}
	return out, nil
}

// collapseCluster folds each loser into canonical in turn. It returns the ids
// of losers actually removed (or that would be, on a dry run).
func (c *Collapser) collapseCluster(ctx context.Context, spec models.SourceSpec, canonical *member, losers []*member, opts Options) ([]string, error) {
	removed := make([]string, 0, len(losers))

	for _, loser := range losers {
		merged := MergeRecords(spec, canonical.record.Data, loser.record.Data)
		next := models.SourceRecordFromDocument(spec, merged)

		log := c.logger.WithContext(ctx).WithFields(map[string]any{
			"source":    spec.Name,
			"canonical": canonical.record.ID,
			"duplicate": loser.record.ID,
		})

		if opts.DryRun {
			log.Info("Dry run: would merge and delete duplicate")
		} else {
			err := c.retrier.Do(ctx, "upsert_canonical", func(ctx context.Context) error {
				return c.store.Upsert(ctx, spec.Collection, store.ByID(canonical.record.ID), merged)
			})
			if err != nil {
				return removed, models.NewRecordError(models.ErrPersistenceFailure, canonical.record.Ref(), "persist canonical", err)
			}

			err = c.retrier.Do(ctx, "delete_duplicate", func(ctx context.Context) error {
				return c.store.DeleteOne(ctx, spec.Collection, loser.record.ID)
			})
			if err != nil {
				return removed, models.NewRecordError(models.ErrPersistenceFailure, loser.record.Ref(), "delete duplicate", err)
			}
			log.Info("Merged and deleted duplicate")
		}

		canonical.record = next
		canonical.count = models.ApartmentCount(spec, merged)
		removed = append(removed, loser.record.ID)
	}

	return removed, nil
}

// stampNames writes normalized_name onto records whose stored value is stale.
// It runs after every loser is gone, so a canonical record never collides
// with a duplicate still holding the same stamp.
func (c *Collapser) stampNames(ctx context.Context, spec models.SourceSpec, members []*member, opts Options) error {
	if opts.DryRun {
		return nil
	}
	ops := make([]store.WriteOp, 0)
	for _, m := range members {
		key := m.record.NormalizedKey
		if key == "" || store.GetString(m.record.Data, models.FieldNormalizedName) == key {
			continue
		}
		doc := merging.DeepCopyMap(m.record.Data)
		doc[models.FieldNormalizedName] = key
		ops = append(ops, store.WriteOp{Kind: store.WriteUpsert, ID: m.record.ID, Document: doc})
	}
	if len(ops) == 0 {
		return nil
	}
	return c.retrier.Do(ctx, "stamp_names", func(ctx context.Context) error {
		return c.store.BulkWrite(ctx, spec.Collection, ops)
	})
}

// Canonical picks the member with the most apartments, then the newest
// updated_at. Ties keep the earliest member.
func Canonical(group []*member) *member {
	best := group[0]
	for _, m := range group[1:] {
		if better(m, best) {
			best = m
		}
	}
	return best
}

func better(a, b *member) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	at, bt := timeOf(a.record), timeOf(b.record)
	return at.After(bt)
}

func timeOf(r models.SourceRecord) time.Time {
	if r.UpdatedAt == nil {
		return time.Time{}
	}
	return *r.UpdatedAt
}

// groupBy buckets members by key in first-seen order. Empty keys are dropped.
func groupBy(members []*member, key func(*member) string) [][]*member {
	index := make(map[string]int)
	groups := make([][]*member, 0)
	for _, m := range members {
		k := key(m)
		if k == "" {
			continue
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], m)
	}
	return groups
}

// Slug is the lowercased last path segment of a listing URL.
func Slug(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	path := raw
	if u, err := url.Parse(raw); err == nil {
		path = u.Path
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return ""
	}
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	return strings.ToLower(path)
}
