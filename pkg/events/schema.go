package events

import (
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/store"
)

// EventType defines the type of event
type EventType string

const (
	// Unified building events
	EventTypeUnifiedCreated  EventType = "unified.created"
	EventTypeUnifiedMerged   EventType = "unified.merged"
	EventTypeUnifiedReplaced EventType = "unified.replaced"

	// Source collection events
	EventTypeSourceCollapsed EventType = "source.collapsed"
)

// ChangeType picks the event type for a rebuilt entity.
func ChangeType(created, replaced bool) EventType {
	switch {
	case created:
		return EventTypeUnifiedCreated
	case replaced:
		return EventTypeUnifiedReplaced
	default:
		return EventTypeUnifiedMerged
	}
}

// EntityChange is one written change to a unified building.
type EntityChange struct {
	Type     EventType
	EntityID string
	Name     string
	Document store.Document
	Sources  []models.RecordRef
	Changes  []string
	Policy   string
	Added    int
}
