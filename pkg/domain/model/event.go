package model

import (
	"time"

	"github.com/cronxco/tapestry/pkg/domain/types"
)

// Event is one normalized occurrence derived from a provider item.
// (SourceID, IntegrationID) is unique: re-ingesting the same provider item
// must not create a second event.
type Event struct {
	ID            types.EventID
	SourceID      string
	IntegrationID types.IntegrationID
	UserID        types.UserID
	Service       types.Service
	Domain        string
	Action        string
	Time          time.Time

	ActorID  types.ObjectID
	TargetID types.ObjectID

	Value           *int64
	ValueMultiplier *int64
	ValueUnit       string
	Metadata        map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// EventDraft is the normalizer's output for one provider item: the event
// fields plus the actor/target objects to upsert and child blocks to create.
type EventDraft struct {
	SourceID string
	Service  types.Service
	Domain   string
	Action   string
	Time     time.Time

	Actor  ObjectDraft
	Target *ObjectDraft

	Value           *int64
	ValueMultiplier *int64
	ValueUnit       string
	Metadata        map[string]any

	Blocks []BlockDraft

	// ReconcileBlocks requests block reconciliation when the event already
	// exists: blocks no longer present are soft-removed, new ones created,
	// unchanged ones left alone. Used for living-checklist sources.
	ReconcileBlocks bool
}

// Validate checks the draft carries the fields every event requires
func (d *EventDraft) Validate() error {
	if d.SourceID == "" {
		return types.ErrProviderData
	}
	if err := d.Service.Validate(); err != nil {
		return err
	}
	if d.Action == "" || d.Domain == "" {
		return types.ErrProviderData
	}
	if d.Time.IsZero() {
		return types.ErrProviderData
	}
	if d.Actor.Title == "" || d.Actor.Concept == "" {
		return types.ErrProviderData
	}
	return nil
}
