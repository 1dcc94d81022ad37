package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

type objectRepository struct {
	mu sync.Mutex
	// keyed by the natural identity (user, concept, type, title)
	objects map[string]*model.EventObject
	byID    map[types.ObjectID]*model.EventObject
}

func newObjectRepository() *objectRepository {
	return &objectRepository{
		objects: make(map[string]*model.EventObject),
		byID:    make(map[types.ObjectID]*model.EventObject),
	}
}

func copyObject(o *model.EventObject) *model.EventObject {
	cp := *o
	if o.Metadata != nil {
		cp.Metadata = make(map[string]any, len(o.Metadata))
		for k, v := range o.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func (r *objectRepository) Upsert(ctx context.Context, userID types.UserID, draft *model.ObjectDraft) (*model.EventObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	key := draft.IdentityKey(userID)

	if existing, ok := r.objects[key]; ok {
		// identity fields are never mutated; everything else last-write-wins
		existing.Content = draft.Content
		existing.Metadata = draft.Metadata
		if !draft.Time.IsZero() {
			existing.Time = draft.Time
		}
		existing.DeletedAt = nil
		existing.UpdatedAt = now
		return copyObject(existing), nil
	}

	created := &model.EventObject{
		ID:         types.NewObjectID(),
		UserID:     userID,
		Concept:    draft.Concept,
		ObjectType: draft.ObjectType,
		Title:      draft.Title,
		Content:    draft.Content,
		Metadata:   draft.Metadata,
		Time:       draft.Time,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.objects[key] = created
	r.byID[created.ID] = created

	return copyObject(created), nil
}

func (r *objectRepository) Get(ctx context.Context, id types.ObjectID) (*model.EventObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	object, exists := r.byID[id]
	if !exists || object.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "event object not found", goerr.V("id", id))
	}

	return copyObject(object), nil
}
