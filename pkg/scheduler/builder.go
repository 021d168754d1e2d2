package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/apartments"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/merging"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/Ramsey-B/fern/pkg/store"
)

// Geocoder resolves a structured address from coordinates.
type Geocoder interface {
	Reverse(ctx context.Context, c models.Coordinates) (models.AddressParts, error)
}

// Linked holds the current source records an entity is built from.
type Linked map[models.SourceName]models.SourceRecord

// coordinateOrder is where missing coordinates are taken from.
var coordinateOrder = []models.SourceName{models.SourceDomRF, models.SourceAvito, models.SourceDomClick}

// apartmentOrder is the order candidate units are collected in. Earlier
// sources win when two list the same URL.
var apartmentOrder = []models.SourceName{models.SourceDomClick, models.SourceAvito, models.SourceCian}

// nameOrder is where a development name is taken from when avito has none.
var nameOrder = []models.SourceName{models.SourceAvito, models.SourceDomClick, models.SourceCian, models.SourceDomRF}

// Outcome describes one rebuild.
type Outcome struct {
	EntityID string `json:"entity_id"`
	// Rebuilt is false when no linked source was newer than the last merge.
	Rebuilt bool `json:"rebuilt"`
	// Changed is true when the content differs from what was stored.
	Changed  bool                      `json:"changed"`
	Created  bool                      `json:"created"`
	Replaced bool                      `json:"replaced"`
	Written  bool                      `json:"written"`
	Policy   apartments.MergePolicy    `json:"policy"`
	Added    int                       `json:"added_apartments"`
	Changes  []string                  `json:"changes,omitempty"`
	Warnings []models.IntegrityWarning `json:"warnings,omitempty"`
	Document store.Document            `json:"-"`
}

// Builder composes a unified document from its linked sources.
type Builder struct {
	logger     ectologger.Logger
	reconciler *apartments.Reconciler
	geocoder   Geocoder
}

// NewBuilder creates a builder. geocoder may be nil.
func NewBuilder(logger ectologger.Logger, geocoder Geocoder) *Builder {
	return &Builder{
		logger:     logger,
		reconciler: apartments.NewReconciler(logger),
		geocoder:   geocoder,
	}
}

// Build produces the next version of entity's document. The field merge and
// the apartment reconciliation land in the same document, so a caller writes
// it once or not at all.
func (b *Builder) Build(ctx context.Context, entity models.UnifiedEntity, linked Linked, policy apartments.MergePolicy, now time.Time) (store.Document, Outcome, error) {
	ctx, span := tracing.StartSpan(ctx, "scheduler.Builder.Build")
	defer span.End()

	ref := models.RecordRef{Source: "unified", ID: entity.ID}
	outcome := Outcome{EntityID: entity.ID, Rebuilt: true, Created: entity.Data == nil, Policy: policy}
	log := b.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"policy":    policy.String(),
	})

	doc := merging.DeepCopyMap(entity.Data)
	if doc == nil {
		doc = make(store.Document)
	}
	doc[store.IDField] = entity.ID
	doc[models.FieldSourceIDs] = models.ProvenanceDocument(entity.Provenance)

	if err := fillCoordinates(doc, linked); err != nil {
		return nil, outcome, models.NewRecordError(models.ErrDataIntegrity, ref, "coordinates", err)
	}

	doc = b.mergeDevelopment(doc, linked)
	outcome.Warnings = append(outcome.Warnings, b.fillAddress(ctx, ref, doc)...)

	if policy.Kind != apartments.PolicyCopyOnly {
		existing := models.ApartmentTypesFromDocument(store.GetMap(doc, models.FieldApartmentTypes))
		candidates := collectCandidates(log, linked)
		result := b.reconciler.Reconcile(ctx, ref, existing, candidates, policy)
		doc[models.FieldApartmentTypes] = result.Types.ToDocument()
		outcome.Replaced = result.Replaced
		outcome.Added = result.Added
		outcome.Warnings = append(outcome.Warnings, result.Warnings...)
	}

	doc[models.FieldNormalizedName] = normalizers.NormalizeBuildingName(store.GetString(doc, models.FieldDevelopmentName))

	outcome.Changed = entity.Data == nil || !fingerprint.Equal(entity.Data, doc)
	if outcome.Changed {
		doc[models.FieldUpdatedAt] = models.FormatTime(now)
		_, outcome.Changes = merging.MergeExcept(entity.Data, doc, fingerprint.Bookkeeping...)
	}
	doc[models.FieldLastMergedAt] = models.FormatTime(now)

	outcome.Document = doc
	return doc, outcome, nil
}

// fillCoordinates keeps the entity's coordinates once set, otherwise takes
// them from the first linked source that has them.
func fillCoordinates(doc store.Document, linked Linked) error {
	if models.ParseCoordinates(doc) != nil {
		return nil
	}
	for _, source := range coordinateOrder {
		record, ok := linked[source]
		if !ok || record.Coordinates == nil {
			continue
		}
		doc[models.FieldLatitude] = record.Coordinates.Lat
		doc[models.FieldLongitude] = record.Coordinates.Lon
		return nil
	}
	return models.ErrMissingCoordinates
}

// mergeDevelopment folds the name source's development block into doc, then
// the photo source's photos and construction progress.
func (b *Builder) mergeDevelopment(doc store.Document, linked Linked) store.Document {
	if avito, ok := linked[models.SourceAvito]; ok {
		dev := pick(store.GetMap(avito.Data, models.FieldDevelopment), "name", "address", "price_range", "parameters", "korpuses")
		doc, _ = merging.Merge(doc, map[string]any{models.FieldDevelopment: dev})
	}

	if dc, ok := linked[models.SourceDomClick]; ok {
		incoming := map[string]any{}
		if photos := store.GetSlice(dc.Data, models.FieldDevelopmentPhotos); len(photos) > 0 {
			incoming[models.FieldDevelopment] = map[string]any{"photos": photos}
		}
		progress, found := store.GetPath(dc.Data, models.FieldDevelopment+store.PathSeparator+models.FieldConstruction)
		if !found || merging.IsEmpty(progress) {
			progress = dc.Data[models.FieldConstruction]
		}
		if !merging.IsEmpty(progress) {
			incoming[models.FieldConstruction] = progress
		}
		doc, _ = merging.Merge(doc, incoming)
	}

	if store.GetString(doc, models.FieldDevelopmentName) == "" {
		for _, source := range nameOrder {
			if record, ok := linked[source]; ok && record.DisplayName != "" {
				store.SetPath(doc, models.FieldDevelopmentName, record.DisplayName)
				break
			}
		}
	}
	return doc
}

// fillAddress fills missing address parts from the geocoder. Failures are
// reported and the build goes on.
func (b *Builder) fillAddress(ctx context.Context, ref models.RecordRef, doc store.Document) []models.IntegrityWarning {
	if b.geocoder == nil || store.GetString(doc, models.FieldAddressFull) != "" {
		return nil
	}
	coords := models.ParseCoordinates(doc)
	if coords == nil {
		return nil
	}

	address, err := b.geocoder.Reverse(ctx, *coords)
	if err != nil {
		b.logger.WithContext(ctx).WithError(err).WithField("entity_id", ref.ID).Warn("Geocoder failed, address left unset")
		kind := "geocoder_failure"
		if !errors.Is(err, models.ErrExternalService) {
			err = fmt.Errorf("%w: %w", models.ErrExternalService, err)
		}
		metrics.RecordIntegrityWarning(kind)
		return []models.IntegrityWarning{{Ref: ref, Kind: kind, Detail: err.Error()}}
	}

	for key, value := range address.Fields() {
		if merging.IsEmpty(doc[key]) {
			doc[key] = value
		}
	}
	return nil
}

// collectCandidates converts every linked source's apartments.
func collectCandidates(log ectologger.Logger, linked Linked) models.ApartmentTypes {
	candidates := make(models.ApartmentTypes)
	for _, source := range apartmentOrder {
		record, ok := linked[source]
		if !ok {
			continue
		}
		spec, _ := models.LookupSource(source)
		types, skipped := apartments.FromSource(spec, record.Data)
		if skipped > 0 {
			log.WithFields(map[string]any{
				"source":  record.Ref().String(),
				"skipped": skipped,
			}).Debug("Skipped source apartments without photos or type")
		}
		candidates = apartments.Union(candidates, types)
	}
	return candidates
}

func pick(m map[string]any, keys ...string) map[string]any {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := m[k]; ok {
			out[k] = v
		}
	}
	return out
}
