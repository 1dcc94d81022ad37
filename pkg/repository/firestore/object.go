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

type objectDocument struct {
	ID         string         `firestore:"id"`
	UserID     string         `firestore:"user_id"`
	Concept    string         `firestore:"concept"`
	ObjectType string         `firestore:"object_type"`
	Title      string         `firestore:"title"`
	Content    string         `firestore:"content"`
	Metadata   map[string]any `firestore:"metadata"`
	Time       time.Time      `firestore:"time"`
	CreatedAt  time.Time      `firestore:"created_at"`
	UpdatedAt  time.Time      `firestore:"updated_at"`
	DeletedAt  *time.Time     `firestore:"deleted_at"`
}

func (d *objectDocument) toModel() *model.EventObject {
	return &model.EventObject{
		ID:         types.ObjectID(d.ID),
		UserID:     types.UserID(d.UserID),
		Concept:    d.Concept,
		ObjectType: d.ObjectType,
		Title:      d.Title,
		Content:    d.Content,
		Metadata:   d.Metadata,
		Time:       d.Time,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
		DeletedAt:  d.DeletedAt,
	}
}

type objectRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newObjectRepository(client *firestore.Client) *objectRepository {
	return &objectRepository{client: client}
}

func (r *objectRepository) objectsCollection() string {
	return collection(r.collectionPrefix, "event_objects")
}

// Upsert writes under the deterministic natural-key document ID inside a
// transaction: identity fields are set once and never mutated, the rest is
// last-write-wins. Safe under concurrent execution.
func (r *objectRepository) Upsert(ctx context.Context, userID types.UserID, draft *model.ObjectDraft) (*model.EventObject, error) {
	docRef := r.client.Collection(r.objectsCollection()).Doc(draft.IdentityKey(userID))

	var result *model.EventObject
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()

		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return goerr.Wrap(err, "failed to get event object")
			}

			created := &objectDocument{
				ID:         types.NewObjectID().String(),
				UserID:     userID.String(),
				Concept:    draft.Concept,
				ObjectType: draft.ObjectType,
				Title:      draft.Title,
				Content:    draft.Content,
				Metadata:   draft.Metadata,
				Time:       draft.Time,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			result = created.toModel()
			return tx.Set(docRef, created)
		}

		var objectDoc objectDocument
		if err := doc.DataTo(&objectDoc); err != nil {
			return goerr.Wrap(err, "failed to unmarshal event object")
		}

		objectDoc.Content = draft.Content
		objectDoc.Metadata = draft.Metadata
		if !draft.Time.IsZero() {
			objectDoc.Time = draft.Time
		}
		objectDoc.DeletedAt = nil
		objectDoc.UpdatedAt = now

		result = objectDoc.toModel()
		return tx.Set(docRef, &objectDoc)
	})

	if err != nil {
		return nil, goerr.Wrap(err, "failed to upsert event object",
			goerr.V("concept", draft.Concept), goerr.V("title", draft.Title))
	}

	return result, nil
}

func (r *objectRepository) Get(ctx context.Context, id types.ObjectID) (*model.EventObject, error) {
	// objects are keyed by natural identity, so lookup by ID is a query
	iter := r.client.Collection(r.objectsCollection()).
		Where("id", "==", id.String()).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, goerr.Wrap(types.ErrNotFound, "event object not found", goerr.V("id", id))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to query event object", goerr.V("id", id))
	}

	var objectDoc objectDocument
	if err := doc.DataTo(&objectDoc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal event object", goerr.V("id", id))
	}
	if objectDoc.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "event object deleted", goerr.V("id", id))
	}

	return objectDoc.toModel(), nil
}
