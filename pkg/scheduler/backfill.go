package scheduler

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
)

// BackfillResult counts stamped records per collection.
type BackfillResult map[string]int

// Total is the number of stamped records.
func (r BackfillResult) Total() int {
	total := 0
	for _, n := range r {
		total += n
	}
	return total
}

// BackfillUpdatedAt stamps now on every source record that has no parseable
// updated_at. It is the one place a missing timestamp becomes "now"; running
// it twice stamps nothing the second time.
func BackfillUpdatedAt(ctx context.Context, logger ectologger.Logger, st store.Store, collections []string, now time.Time, dryRun bool) (BackfillResult, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.BackfillUpdatedAt")
	defer span.End()

	result := make(BackfillResult, len(collections))
	stamp := models.FormatTime(now)

	for _, collection := range collections {
		docs, err := st.FindMany(ctx, collection, store.Query{})
		if err != nil {
			return result, err
		}

		ops := make([]store.WriteOp, 0)
		for _, doc := range docs {
			if _, ok := models.ParseTime(doc[models.FieldUpdatedAt]); ok {
				continue
			}
			doc[models.FieldUpdatedAt] = stamp
			ops = append(ops, store.WriteOp{Kind: store.WriteUpsert, ID: store.DocumentID(doc), Document: doc})
		}
		result[collection] = len(ops)

		log := logger.WithContext(ctx).WithFields(map[string]any{
			"collection": collection,
			"stamped":    len(ops),
			"dry_run":    dryRun,
		})
		if len(ops) == 0 {
			log.Debug("No records missing updated_at")
			continue
		}
		if dryRun {
			log.Info("Dry run: would stamp updated_at")
			continue
		}
		if err := st.BulkWrite(ctx, collection, ops); err != nil {
			return result, err
		}
		log.Info("Stamped missing updated_at")
	}

	return result, nil
}

// SourceCollections lists every source collection.
func SourceCollections() []string {
	specs := models.Sources()
	out := make([]string, len(specs))
	for i, spec := range specs {
		out[i] = spec.Collection
	}
	return out
}
