// Package document stores JSON documents in Postgres, one jsonb row per
// document keyed by collection and _id.
package document

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Ramsey-B/fern/internal/database"
	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/store"
)

const documentsTable = "documents"

const uniqueViolation = "23505"

var identifier = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// DocumentRow is one stored document.
type DocumentRow struct {
	ID   string                         `db:"id"`
	Data database.JSONB[store.Document] `db:"data"`
}

type querier interface {
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository implements store.Store and store.UniqueIndexer.
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a document repository.
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) FindOne(ctx context.Context, collection string, q store.Query) (store.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.FindOne")
	defer span.End()

	docs, err := r.find(ctx, r.db, collection, q, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, store.ErrNotFound
	}
	return docs[0], nil
}

func (r *Repository) FindMany(ctx context.Context, collection string, q store.Query) ([]store.Document, error) {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.FindMany")
	defer span.End()

	return r.find(ctx, r.db, collection, q, 0)
}

func (r *Repository) find(ctx context.Context, db querier, collection string, q store.Query, limit int) ([]store.Document, error) {
	query, args, err := selectQuery(collection, q, limit)
	if err != nil {
		return nil, err
	}

	var rows []DocumentRow
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("collection", collection).Error("Failed to query documents")
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}

	docs := make([]store.Document, 0, len(rows))
	for _, row := range rows {
		doc := row.Data.GetValue()
		if doc == nil {
			doc = store.Document{}
		}
		doc[store.IDField] = row.ID
		docs = append(docs, doc)
	}
	return docs, nil
}

// selectQuery renders q as a jsonb query, in insertion order.
func selectQuery(collection string, q store.Query, limit int) (string, []any, error) {
	sb := database.NewSelectBuilder()
	sb.Select("id", "data")
	sb.From(documentsTable)

	conditions := []string{sb.Equal("collection", collection)}
	if len(q.IDs) > 0 {
		ids := make([]any, len(q.IDs))
		for i, id := range q.IDs {
			ids[i] = id
		}
		conditions = append(conditions, sb.In("id", ids...))
	}

	for _, path := range sortedKeys(q.Equals) {
		value, err := database.JSONB[any]{Data: q.Equals[path]}.Value()
		if err != nil {
			return "", nil, fmt.Errorf("encoding value for %s: %w", path, err)
		}
		conditions = append(conditions, fmt.Sprintf("data #> %s = %s::jsonb", sb.Var(pq.Array(store.SplitPath(path))), sb.Var(value)))
	}

	for _, path := range sortedKeys(q.Matches) {
		pattern := q.Matches[path]
		if _, err := regexp.Compile("(?i)" + pattern); err != nil {
			return "", nil, fmt.Errorf("invalid pattern for %s: %w", path, err)
		}
		conditions = append(conditions, fmt.Sprintf("data #>> %s ~* %s", sb.Var(pq.Array(store.SplitPath(path))), sb.Var(pattern)))
	}

	sb.Where(conditions...)
	sb.OrderBy("seq")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	return query, args, nil
}

func (r *Repository) Upsert(ctx context.Context, collection string, q store.Query, doc store.Document) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.Upsert")
	defer span.End()

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := r.upsert(ctx, tx, collection, q, doc); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) upsert(ctx context.Context, tx database.Tx, collection string, q store.Query, doc store.Document) error {
	cloned, err := store.Clone(doc)
	if err != nil {
		return err
	}
	if cloned == nil {
		cloned = store.Document{}
	}

	id := store.DocumentID(cloned)
	if id == "" && !q.IsZero() {
		existing, err := r.find(ctx, tx, collection, q, 1)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			id = store.DocumentID(existing[0])
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	cloned[store.IDField] = id

	ib := database.NewInsertBuilder()
	ib.InsertInto(documentsTable)
	ib.Cols("collection", "id", "data")
	ib.Values(collection, id, database.JSONB[store.Document]{Data: cloned})
	ub := ib.OnConflict("collection", "id")
	ub.Set(
		ub.Assign("data", database.Excluded("data")),
		ub.Assign("updated_at", time.Now().UTC()),
	)

	query, args := ib.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return httperror.NewHTTPErrorf(http.StatusConflict, "unique index violation on %s/%s: %v", collection, id, err)
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"collection": collection,
			"id":         id,
		}).Error("Failed to upsert document")
		return fmt.Errorf("upserting %s/%s: %w", collection, id, err)
	}
	return nil
}

func (r *Repository) DeleteOne(ctx context.Context, collection string, id string) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.DeleteOne")
	defer span.End()

	return r.delete(ctx, r.db, collection, id)
}

func (r *Repository) delete(ctx context.Context, db querier, collection, id string) error {
	del := database.NewDeleteBuilder()
	del.DeleteFrom(documentsTable)
	del.Where(del.Equal("collection", collection), del.Equal("id", id))

	query, args := del.Build()
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"collection": collection,
			"id":         id,
		}).Error("Failed to delete document")
		return fmt.Errorf("deleting %s/%s: %w", collection, id, err)
	}
	return nil
}

// BulkWrite applies ops in one transaction.
func (r *Repository) BulkWrite(ctx context.Context, collection string, ops []store.WriteOp) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.BulkWrite")
	defer span.End()

	if len(ops) == 0 {
		return nil
	}

	ctx, tx, err := r.db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, op := range ops {
		switch op.Kind {
		case store.WriteDelete:
			err = r.delete(ctx, tx, collection, op.ID)
		case store.WriteUpsert:
			q := store.Query{}
			doc := op.Document
			if op.ID != "" {
				q = store.ByID(op.ID)
				if doc != nil && store.DocumentID(doc) == "" {
					doc[store.IDField] = op.ID
				}
			}
			err = r.upsert(ctx, tx, collection, q, doc)
		default:
			err = fmt.Errorf("unsupported write kind %q", op.Kind)
		}
		if err != nil {
			return err
		}
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"collection": collection,
		"ops":        len(ops),
	}).Debug("Applied bulk write")
	return tx.Commit(ctx)
}

// EnsureUniqueIndex creates a partial unique expression index over path for
// one collection. Empty values are not indexed.
func (r *Repository) EnsureUniqueIndex(ctx context.Context, collection string, path string) error {
	ctx, span := tracing.StartSpan(ctx, "document.Repository.EnsureUniqueIndex")
	defer span.End()

	ddl, err := uniqueIndexDDL(collection, path)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, ddl); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"collection": collection,
			"path":       path,
		}).Error("Failed to create unique index")
		return fmt.Errorf("creating unique index on %s.%s: %w", collection, path, err)
	}
	return nil
}

func uniqueIndexDDL(collection, path string) (string, error) {
	segments := store.SplitPath(path)
	for _, part := range append([]string{collection}, segments...) {
		if !identifier.MatchString(part) {
			return "", fmt.Errorf("invalid index identifier %q", part)
		}
	}

	expr := fmt.Sprintf("(data #>> '{%s}')", strings.Join(segments, ","))
	name := fmt.Sprintf("uniq_%s_%s_%s", documentsTable, collection, strings.Join(segments, "_"))
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s) WHERE collection = '%s' AND %s <> ''",
		name, documentsTable, expr, collection, expr), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
