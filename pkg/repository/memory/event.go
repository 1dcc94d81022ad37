package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

type eventRepository struct {
	mu sync.Mutex
	// keyed by the deterministic (integration, source) identity so duplicate
	// writes collide the same way the Firestore document ID does
	events map[string]*model.Event
	blocks map[types.EventID][]*model.Block
}

func newEventRepository() *eventRepository {
	return &eventRepository{
		events: make(map[string]*model.Event),
		blocks: make(map[types.EventID][]*model.Block),
	}
}

func copyEvent(e *model.Event) *model.Event {
	cp := *e
	if e.Metadata != nil {
		cp.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func copyBlock(b *model.Block) *model.Block {
	cp := *b
	if b.Metadata != nil {
		cp.Metadata = make(map[string]any, len(b.Metadata))
		for k, v := range b.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *eventRepository) GetBySourceID(ctx context.Context, integrationID types.IntegrationID, sourceID string) (*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	event, exists := r.events[model.EventIdentityKey(integrationID, sourceID)]
	if !exists || event.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "event not found",
			goerr.V("integration_id", integrationID), goerr.V("source_id", sourceID))
	}

	return copyEvent(event), nil
}

func (r *eventRepository) Create(ctx context.Context, event *model.Event, blocks []*model.Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := model.EventIdentityKey(event.IntegrationID, event.SourceID)
	if _, exists := r.events[key]; exists {
		// concurrent duplicate of the same source item: first write wins
		return nil
	}

	now := time.Now().UTC()
	created := copyEvent(event)
	if created.ID == "" {
		created.ID = types.NewEventID()
	}
	created.CreatedAt = now
	created.UpdatedAt = now
	r.events[key] = created

	for _, block := range blocks {
		b := copyBlock(block)
		if b.ID == "" {
			b.ID = types.NewBlockID()
		}
		b.EventID = created.ID
		b.CreatedAt = now
		b.UpdatedAt = now
		r.blocks[created.ID] = append(r.blocks[created.ID], b)
	}

	return nil
}

func (r *eventRepository) ListByIntegration(ctx context.Context, integrationID types.IntegrationID, limit int) ([]*model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var events []*model.Event
	for _, event := range r.events {
		if event.DeletedAt != nil || event.IntegrationID != integrationID {
			continue
		}
		events = append(events, copyEvent(event))
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].Time.After(events[j].Time)
	})
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}

	return events, nil
}

func (r *eventRepository) ListBlocks(ctx context.Context, eventID types.EventID) ([]*model.Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	blocks := make([]*model.Block, 0, len(r.blocks[eventID]))
	for _, block := range r.blocks[eventID] {
		blocks = append(blocks, copyBlock(block))
	}

	return blocks, nil
}

func equalValue(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (r *eventRepository) ReconcileBlocks(ctx context.Context, eventID types.EventID, userID types.UserID, drafts []model.BlockDraft, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]model.BlockDraft, len(drafts))
	for _, draft := range drafts {
		wanted[draft.ReconcileKey()] = draft
	}

	existing := make(map[string]*model.Block)
	for _, block := range r.blocks[eventID] {
		existing[block.ReconcileKey()] = block
	}

	// blocks gone from the source are soft-removed, not deleted
	for key, block := range existing {
		if _, keep := wanted[key]; !keep && !block.Removed() {
			block.MarkRemoved(now)
		}
	}

	for key, draft := range wanted {
		if block, ok := existing[key]; ok {
			// a block that reappeared after removal is restored in place
			if block.Removed() {
				block.DeletedAt = nil
				delete(block.Metadata, "removed")
				delete(block.Metadata, "removed_at")
				block.UpdatedAt = now
			}
			// value changes on a matched block (a task getting checked
			// off) are carried through
			if !equalValue(block.Value, draft.Value) || !equalValue(block.ValueMultiplier, draft.ValueMultiplier) {
				block.Value = draft.Value
				block.ValueMultiplier = draft.ValueMultiplier
				block.ValueUnit = draft.ValueUnit
				block.UpdatedAt = now
			}
			continue
		}

		r.blocks[eventID] = append(r.blocks[eventID], &model.Block{
			ID:              types.NewBlockID(),
			EventID:         eventID,
			UserID:          userID,
			BlockType:       draft.BlockType,
			Title:           draft.Title,
			Value:           draft.Value,
			ValueMultiplier: draft.ValueMultiplier,
			ValueUnit:       draft.ValueUnit,
			Metadata:        draft.Metadata,
			Time:            draft.Time,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}

	return nil
}
