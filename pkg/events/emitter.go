// Package events handles event emission for catalog changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/internal/tracing"
	"github.com/Ramsey-B/fern/pkg/fingerprint"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/models"
)

// Publisher is the part of the Kafka producer the emitter needs.
type Publisher interface {
	PublishEntityEvent(ctx context.Context, event *kafka.EntityEvent) error
	PublishCollapseEvent(ctx context.Context, event *kafka.CollapseEvent) error
}

// Emitter handles event emission for fern
type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

// NewEmitter creates a new event emitter
func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

// EmitEntityChange emits a unified.* event carrying the written document and
// its content fingerprint.
func (e *Emitter) EmitEntityChange(ctx context.Context, change EntityChange) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.EmitEntityChange")
	defer span.End()

	data, err := json.Marshal(change.Document)
	if err != nil {
		return err
	}

	sources := make([]string, len(change.Sources))
	for i, ref := range change.Sources {
		sources[i] = ref.String()
	}

	event := &kafka.EntityEvent{
		EventType:     string(change.Type),
		EntityID:      change.EntityID,
		Name:          change.Name,
		Data:          data,
		SourceRecords: sources,
		ChangedFields: change.Changes,
		Policy:        change.Policy,
		Added:         change.Added,
		Fingerprint:   fingerprint.Document(change.Document),
	}

	if err := e.publisher.PublishEntityEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithField("entity_id", change.EntityID).Errorf("Failed to emit %s event", change.Type)
		return err
	}

	return nil
}

// Collapsed emits a source.collapsed event.
func (e *Emitter) Collapsed(ctx context.Context, source models.SourceName, canonicalID string, removedIDs []string) error {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.Collapsed")
	defer span.End()

	event := &kafka.CollapseEvent{
		EventType:   string(EventTypeSourceCollapsed),
		Source:      string(source),
		CanonicalID: canonicalID,
		RemovedIDs:  removedIDs,
	}

	if err := e.publisher.PublishCollapseEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to emit source.collapsed event")
		return err
	}

	return nil
}
