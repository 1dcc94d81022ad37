package firestore

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

type eventDocument struct {
	ID              string         `firestore:"id"`
	SourceID        string         `firestore:"source_id"`
	IntegrationID   string         `firestore:"integration_id"`
	UserID          string         `firestore:"user_id"`
	Service         string         `firestore:"service"`
	Domain          string         `firestore:"domain"`
	Action          string         `firestore:"action"`
	Time            time.Time      `firestore:"time"`
	ActorID         string         `firestore:"actor_id"`
	TargetID        string         `firestore:"target_id"`
	Value           *int64         `firestore:"value"`
	ValueMultiplier *int64         `firestore:"value_multiplier"`
	ValueUnit       string         `firestore:"value_unit"`
	Metadata        map[string]any `firestore:"metadata"`
	CreatedAt       time.Time      `firestore:"created_at"`
	UpdatedAt       time.Time      `firestore:"updated_at"`
	DeletedAt       *time.Time     `firestore:"deleted_at"`
}

func (d *eventDocument) toModel() *model.Event {
	return &model.Event{
		ID:              types.EventID(d.ID),
		SourceID:        d.SourceID,
		IntegrationID:   types.IntegrationID(d.IntegrationID),
		UserID:          types.UserID(d.UserID),
		Service:         types.Service(d.Service),
		Domain:          d.Domain,
		Action:          d.Action,
		Time:            d.Time,
		ActorID:         types.ObjectID(d.ActorID),
		TargetID:        types.ObjectID(d.TargetID),
		Value:           d.Value,
		ValueMultiplier: d.ValueMultiplier,
		ValueUnit:       d.ValueUnit,
		Metadata:        d.Metadata,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		DeletedAt:       d.DeletedAt,
	}
}

type blockDocument struct {
	ID              string         `firestore:"id"`
	EventID         string         `firestore:"event_id"`
	UserID          string         `firestore:"user_id"`
	BlockType       string         `firestore:"block_type"`
	Title           string         `firestore:"title"`
	Value           *int64         `firestore:"value"`
	ValueMultiplier *int64         `firestore:"value_multiplier"`
	ValueUnit       string         `firestore:"value_unit"`
	Metadata        map[string]any `firestore:"metadata"`
	Time            time.Time      `firestore:"time"`
	CreatedAt       time.Time      `firestore:"created_at"`
	UpdatedAt       time.Time      `firestore:"updated_at"`
	DeletedAt       *time.Time     `firestore:"deleted_at"`
}

func (d *blockDocument) toModel() *model.Block {
	return &model.Block{
		ID:              types.BlockID(d.ID),
		EventID:         types.EventID(d.EventID),
		UserID:          types.UserID(d.UserID),
		BlockType:       d.BlockType,
		Title:           d.Title,
		Value:           d.Value,
		ValueMultiplier: d.ValueMultiplier,
		ValueUnit:       d.ValueUnit,
		Metadata:        d.Metadata,
		Time:            d.Time,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
		DeletedAt:       d.DeletedAt,
	}
}

func blockToDocument(b *model.Block) *blockDocument {
	return &blockDocument{
		ID:              b.ID.String(),
		EventID:         b.EventID.String(),
		UserID:          b.UserID.String(),
		BlockType:       b.BlockType,
		Title:           b.Title,
		Value:           b.Value,
		ValueMultiplier: b.ValueMultiplier,
		ValueUnit:       b.ValueUnit,
		Metadata:        b.Metadata,
		Time:            b.Time,
		CreatedAt:       b.CreatedAt,
		UpdatedAt:       b.UpdatedAt,
		DeletedAt:       b.DeletedAt,
	}
}

type eventRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newEventRepository(client *firestore.Client) *eventRepository {
	return &eventRepository{client: client}
}

func (r *eventRepository) eventsCollection() string {
	return collection(r.collectionPrefix, "events")
}

func (r *eventRepository) blocksCollection() string {
	return collection(r.collectionPrefix, "blocks")
}

func (r *eventRepository) GetBySourceID(ctx context.Context, integrationID types.IntegrationID, sourceID string) (*model.Event, error) {
	docID := model.EventIdentityKey(integrationID, sourceID)
	doc, err := r.client.Collection(r.eventsCollection()).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(types.ErrNotFound, "event not found",
				goerr.V("integration_id", integrationID), goerr.V("source_id", sourceID))
		}
		return nil, goerr.Wrap(err, "failed to get event", goerr.V("source_id", sourceID))
	}

	var eventDoc eventDocument
	if err := doc.DataTo(&eventDoc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal event", goerr.V("source_id", sourceID))
	}
	if eventDoc.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "event deleted", goerr.V("source_id", sourceID))
	}

	return eventDoc.toModel(), nil
}

// Create writes the event under its deterministic identity document ID so a
// concurrent duplicate of the same source item collides instead of
// duplicating. The losing writer treats the collision as a no-op.
func (r *eventRepository) Create(ctx context.Context, event *model.Event, blocks []*model.Block) error {
	id := event.ID
	if id == "" {
		id = types.NewEventID()
	}

	now := time.Now().UTC()
	doc := &eventDocument{
		ID:              id.String(),
		SourceID:        event.SourceID,
		IntegrationID:   event.IntegrationID.String(),
		UserID:          event.UserID.String(),
		Service:         event.Service.String(),
		Domain:          event.Domain,
		Action:          event.Action,
		Time:            event.Time,
		ActorID:         event.ActorID.String(),
		TargetID:        event.TargetID.String(),
		Value:           event.Value,
		ValueMultiplier: event.ValueMultiplier,
		ValueUnit:       event.ValueUnit,
		Metadata:        event.Metadata,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	docID := model.EventIdentityKey(event.IntegrationID, event.SourceID)
	docRef := r.client.Collection(r.eventsCollection()).Doc(docID)
	if _, err := docRef.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return nil
		}
		return goerr.Wrap(err, "failed to create event", goerr.V("source_id", event.SourceID))
	}

	for _, block := range blocks {
		b := *block
		if b.ID == "" {
			b.ID = types.NewBlockID()
		}
		b.EventID = id
		b.CreatedAt = now
		b.UpdatedAt = now

		blockRef := r.client.Collection(r.blocksCollection()).Doc(b.ID.String())
		if _, err := blockRef.Set(ctx, blockToDocument(&b)); err != nil {
			return goerr.Wrap(err, "failed to create block",
				goerr.V("event_id", id), goerr.V("title", b.Title))
		}
	}

	return nil
}

func (r *eventRepository) ListByIntegration(ctx context.Context, integrationID types.IntegrationID, limit int) ([]*model.Event, error) {
	query := r.client.Collection(r.eventsCollection()).
		Where("integration_id", "==", integrationID.String()).
		OrderBy("time", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var events []*model.Event
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate events")
		}

		var eventDoc eventDocument
		if err := doc.DataTo(&eventDoc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal event")
		}
		if eventDoc.DeletedAt != nil {
			continue
		}
		events = append(events, eventDoc.toModel())
	}

	return events, nil
}

func (r *eventRepository) ListBlocks(ctx context.Context, eventID types.EventID) ([]*model.Block, error) {
	iter := r.client.Collection(r.blocksCollection()).
		Where("event_id", "==", eventID.String()).
		Documents(ctx)
	defer iter.Stop()

	var blocks []*model.Block
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate blocks")
		}

		var blockDoc blockDocument
		if err := doc.DataTo(&blockDoc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal block")
		}
		blocks = append(blocks, blockDoc.toModel())
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
	existing, err := r.ListBlocks(ctx, eventID)
	if err != nil {
		return err
	}

	wanted := make(map[string]model.BlockDraft, len(drafts))
	for _, draft := range drafts {
		wanted[draft.ReconcileKey()] = draft
	}

	current := make(map[string]*model.Block, len(existing))
	for _, block := range existing {
		current[block.ReconcileKey()] = block
	}

	for key, block := range current {
		if draft, keep := wanted[key]; keep {
			var updates []firestore.Update
			if block.Removed() {
				// reappeared after removal: restore in place
				updates = append(updates,
					firestore.Update{Path: "deleted_at", Value: nil},
					firestore.Update{Path: "metadata.removed", Value: firestore.Delete},
					firestore.Update{Path: "metadata.removed_at", Value: firestore.Delete},
				)
			}
			// value changes on a matched block (a task getting checked
			// off) are carried through
			if !equalValue(block.Value, draft.Value) || !equalValue(block.ValueMultiplier, draft.ValueMultiplier) {
				updates = append(updates,
					firestore.Update{Path: "value", Value: draft.Value},
					firestore.Update{Path: "value_multiplier", Value: draft.ValueMultiplier},
					firestore.Update{Path: "value_unit", Value: draft.ValueUnit},
				)
			}
			if len(updates) == 0 {
				continue
			}
			updates = append(updates, firestore.Update{Path: "updated_at", Value: now})
			_, err := r.client.Collection(r.blocksCollection()).Doc(block.ID.String()).Update(ctx, updates)
			if err != nil {
				return goerr.Wrap(err, "failed to update block", goerr.V("block_id", block.ID))
			}
			continue
		}

		if block.Removed() {
			continue
		}
		_, err := r.client.Collection(r.blocksCollection()).Doc(block.ID.String()).Update(ctx, []firestore.Update{
			{Path: "deleted_at", Value: now},
			{Path: "metadata.removed", Value: true},
			{Path: "metadata.removed_at", Value: now.UTC().Format(time.RFC3339)},
			{Path: "updated_at", Value: now},
		})
		if err != nil {
			return goerr.Wrap(err, "failed to soft-remove block", goerr.V("block_id", block.ID))
		}
	}

	for key, draft := range wanted {
		if _, exists := current[key]; exists {
			continue
		}

		block := &model.Block{
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
		}
		blockRef := r.client.Collection(r.blocksCollection()).Doc(block.ID.String())
		if _, err := blockRef.Set(ctx, blockToDocument(block)); err != nil {
			return goerr.Wrap(err, "failed to create block",
				goerr.V("event_id", eventID), goerr.V("title", draft.Title))
		}
	}

	return nil
}
