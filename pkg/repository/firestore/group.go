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

type groupDocument struct {
	ID             string     `firestore:"id"`
	UserID         string     `firestore:"user_id"`
	Service        string     `firestore:"service"`
	AccountID      string     `firestore:"account_id"`
	AccessToken    string     `firestore:"access_token"`
	RefreshToken   string     `firestore:"refresh_token"`
	TokenExpiresAt *time.Time `firestore:"token_expires_at"`
	CreatedAt      time.Time  `firestore:"created_at"`
	UpdatedAt      time.Time  `firestore:"updated_at"`
	DeletedAt      *time.Time `firestore:"deleted_at"`
}

func (d *groupDocument) toModel() *model.IntegrationGroup {
	return &model.IntegrationGroup{
		ID:             types.GroupID(d.ID),
		UserID:         types.UserID(d.UserID),
		Service:        types.Service(d.Service),
		AccountID:      d.AccountID,
		AccessToken:    d.AccessToken,
		RefreshToken:   d.RefreshToken,
		TokenExpiresAt: d.TokenExpiresAt,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		DeletedAt:      d.DeletedAt,
	}
}

type groupRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newGroupRepository(client *firestore.Client) *groupRepository {
	return &groupRepository{client: client}
}

func (r *groupRepository) groupsCollection() string {
	return collection(r.collectionPrefix, "integration_groups")
}

func (r *groupRepository) Create(ctx context.Context, group *model.IntegrationGroup) (*model.IntegrationGroup, error) {
	id := group.ID
	if id == "" {
		id = types.NewGroupID()
	}

	now := time.Now().UTC()
	doc := &groupDocument{
		ID:             id.String(),
		UserID:         group.UserID.String(),
		Service:        group.Service.String(),
		AccountID:      group.AccountID,
		AccessToken:    group.AccessToken,
		RefreshToken:   group.RefreshToken,
		TokenExpiresAt: group.TokenExpiresAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	docRef := r.client.Collection(r.groupsCollection()).Doc(id.String())
	if _, err := docRef.Set(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to create integration group", goerr.V("id", id))
	}

	return doc.toModel(), nil
}

func (r *groupRepository) Get(ctx context.Context, id types.GroupID) (*model.IntegrationGroup, error) {
	doc, err := r.client.Collection(r.groupsCollection()).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get integration group", goerr.V("id", id))
	}

	var groupDoc groupDocument
	if err := doc.DataTo(&groupDoc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal integration group", goerr.V("id", id))
	}
	if groupDoc.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "integration group deleted", goerr.V("id", id))
	}

	return groupDoc.toModel(), nil
}

func (r *groupRepository) GetByAccount(ctx context.Context, userID types.UserID, service types.Service, accountID string) (*model.IntegrationGroup, error) {
	iter := r.client.Collection(r.groupsCollection()).
		Where("user_id", "==", userID.String()).
		Where("service", "==", service.String()).
		Where("account_id", "==", accountID).
		Documents(ctx)
	defer iter.Stop()

	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to query integration groups")
		}

		var groupDoc groupDocument
		if err := doc.DataTo(&groupDoc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal integration group")
		}
		if groupDoc.DeletedAt != nil {
			continue
		}
		return groupDoc.toModel(), nil
	}

	return nil, goerr.Wrap(types.ErrNotFound, "integration group not found",
		goerr.V("user_id", userID), goerr.V("service", service), goerr.V("account_id", accountID))
}

func (r *groupRepository) ListByUser(ctx context.Context, userID types.UserID) ([]*model.IntegrationGroup, error) {
	iter := r.client.Collection(r.groupsCollection()).
		Where("user_id", "==", userID.String()).
		Documents(ctx)
	defer iter.Stop()

	var groups []*model.IntegrationGroup
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate integration groups")
		}

		var groupDoc groupDocument
		if err := doc.DataTo(&groupDoc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal integration group")
		}
		if groupDoc.DeletedAt != nil {
			continue
		}
		groups = append(groups, groupDoc.toModel())
	}

	return groups, nil
}

func (r *groupRepository) UpdateTokens(ctx context.Context, id types.GroupID, accessToken, refreshToken string, expiresAt *time.Time) error {
	updates := []firestore.Update{
		{Path: "access_token", Value: accessToken},
		{Path: "token_expires_at", Value: expiresAt},
		{Path: "updated_at", Value: time.Now().UTC()},
	}
	if refreshToken != "" {
		updates = append(updates, firestore.Update{Path: "refresh_token", Value: refreshToken})
	}

	_, err := r.client.Collection(r.groupsCollection()).Doc(id.String()).Update(ctx, updates)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to update tokens", goerr.V("id", id))
	}
	return nil
}

func (r *groupRepository) SetAccountID(ctx context.Context, id types.GroupID, accountID string) error {
	_, err := r.client.Collection(r.groupsCollection()).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "account_id", Value: accountID},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to set account ID", goerr.V("id", id))
	}
	return nil
}

func (r *groupRepository) SoftDelete(ctx context.Context, id types.GroupID) error {
	now := time.Now().UTC()
	_, err := r.client.Collection(r.groupsCollection()).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "deleted_at", Value: now},
		{Path: "updated_at", Value: now},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to delete integration group", goerr.V("id", id))
	}
	return nil
}
