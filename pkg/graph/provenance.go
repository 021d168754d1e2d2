package graph

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/models"
)

const upsertUnified = `
MERGE (u:UnifiedHouse {id: $id})
SET u.name = $name, u.normalized_name = $key, u.updated_at = datetime()`

const linkSources = `
MATCH (u:UnifiedHouse {id: $id})
UNWIND $sources AS src
MERGE (s:SourceRecord {key: src.key})
SET s.source = src.source, s.id = src.id
MERGE (u)-[:BUILT_FROM]->(s)`

const pruneSources = `
MATCH (u:UnifiedHouse {id: $id})-[r:BUILT_FROM]->(s:SourceRecord)
WHERE NOT s.key IN $keys
DELETE r`

const repointCollapsed = `
MATCH (loser:SourceRecord) WHERE loser.key IN $removed
OPTIONAL MATCH (u:UnifiedHouse)-[:BUILT_FROM]->(loser)
MERGE (c:SourceRecord {key: $canonical})
SET c.source = $source, c.id = $canonical_id
WITH loser, c, collect(u) AS houses
FOREACH (h IN houses | MERGE (h)-[:BUILT_FROM]->(c))
DETACH DELETE loser`

// ProvenanceService keeps the UnifiedHouse to SourceRecord graph in step with
// the document store.
type ProvenanceService struct {
	executor Executor
	logger   ectologger.Logger
}

// NewProvenanceService creates a provenance projector.
func NewProvenanceService(executor Executor, logger ectologger.Logger) *ProvenanceService {
	return &ProvenanceService{
		executor: executor,
		logger:   logger,
	}
}

// ProjectEntity upserts the unified node and makes its BUILT_FROM edges match
// refs exactly.
func (s *ProvenanceService) ProjectEntity(ctx context.Context, entity models.UnifiedEntity, refs []models.RecordRef) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ProvenanceService.ProjectEntity")
	defer span.End()

	sources := make([]map[string]any, len(refs))
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.String()
		sources[i] = map[string]any{"key": keys[i], "source": string(ref.Source), "id": ref.ID}
	}

	err := s.executor.Write(ctx,
		Statement{Cypher: upsertUnified, Params: map[string]any{"id": entity.ID, "name": entity.Name, "key": entity.NormalizedKey}},
		Statement{Cypher: linkSources, Params: map[string]any{"id": entity.ID, "sources": sources}},
		Statement{Cypher: pruneSources, Params: map[string]any{"id": entity.ID, "keys": keys}},
	)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("entity_id", entity.ID).Error("Failed to project entity provenance")
		return fmt.Errorf("failed to project entity provenance: %w", err)
	}

	s.logger.WithContext(ctx).WithFields(map[string]any{
		"entity_id": entity.ID,
		"sources":   len(refs),
	}).Debug("Projected entity provenance")
	return nil
}

// Collapsed moves the edges of removed source records onto the surviving one
// and deletes the removed nodes.
func (s *ProvenanceService) Collapsed(ctx context.Context, source models.SourceName, canonicalID string, removedIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "graph.ProvenanceService.Collapsed")
	defer span.End()

	if len(removedIDs) == 0 {
		return nil
	}

	removed := make([]string, len(removedIDs))
	for i, id := range removedIDs {
		removed[i] = models.RecordRef{Source: source, ID: id}.String()
	}

	err := s.executor.Write(ctx, Statement{Cypher: repointCollapsed, Params: map[string]any{
		"removed":      removed,
		"canonical":    models.RecordRef{Source: source, ID: canonicalID}.String(),
		"canonical_id": canonicalID,
		"source":       string(source),
	}})
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("canonical_id", canonicalID).Error("Failed to collapse provenance nodes")
		return fmt.Errorf("failed to collapse provenance nodes: %w", err)
	}
	return nil
}
