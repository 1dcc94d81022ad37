package firestore

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

type integrationDocument struct {
	ID           string `firestore:"id"`
	GroupID      string `firestore:"group_id"`
	UserID       string `firestore:"user_id"`
	Service      string `firestore:"service"`
	InstanceType string `firestore:"instance_type"`
	// Config is stored as JSON so provider-specific Extra fields survive
	// round-trips without a fixed document schema
	ConfigJSON             string     `firestore:"config_json"`
	LastTriggeredAt        *time.Time `firestore:"last_triggered_at"`
	LastSuccessfulUpdateAt *time.Time `firestore:"last_successful_update_at"`
	CreatedAt              time.Time  `firestore:"created_at"`
	UpdatedAt              time.Time  `firestore:"updated_at"`
	DeletedAt              *time.Time `firestore:"deleted_at"`
}

func (d *integrationDocument) toModel() (*model.Integration, error) {
	var config model.SyncConfig
	if d.ConfigJSON != "" {
		if err := json.Unmarshal([]byte(d.ConfigJSON), &config); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal integration config", goerr.V("id", d.ID))
		}
	}

	return &model.Integration{
		ID:                     types.IntegrationID(d.ID),
		GroupID:                types.GroupID(d.GroupID),
		UserID:                 types.UserID(d.UserID),
		Service:                types.Service(d.Service),
		InstanceType:           types.InstanceType(d.InstanceType),
		Config:                 config,
		LastTriggeredAt:        d.LastTriggeredAt,
		LastSuccessfulUpdateAt: d.LastSuccessfulUpdateAt,
		CreatedAt:              d.CreatedAt,
		UpdatedAt:              d.UpdatedAt,
		DeletedAt:              d.DeletedAt,
	}, nil
}

type integrationRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newIntegrationRepository(client *firestore.Client) *integrationRepository {
	return &integrationRepository{client: client}
}

func (r *integrationRepository) integrationsCollection() string {
	return collection(r.collectionPrefix, "integrations")
}

func (r *integrationRepository) Create(ctx context.Context, integration *model.Integration) (*model.Integration, error) {
	id := integration.ID
	if id == "" {
		id = types.NewIntegrationID()
	}

	configJSON, err := json.Marshal(integration.Config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal integration config")
	}

	now := time.Now().UTC()
	doc := &integrationDocument{
		ID:           id.String(),
		GroupID:      integration.GroupID.String(),
		UserID:       integration.UserID.String(),
		Service:      integration.Service.String(),
		InstanceType: integration.InstanceType.String(),
		ConfigJSON:   string(configJSON),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	docRef := r.client.Collection(r.integrationsCollection()).Doc(id.String())
	if _, err := docRef.Set(ctx, doc); err != nil {
		return nil, goerr.Wrap(err, "failed to create integration", goerr.V("id", id))
	}

	return doc.toModel()
}

func (r *integrationRepository) Get(ctx context.Context, id types.IntegrationID) (*model.Integration, error) {
	doc, err := r.client.Collection(r.integrationsCollection()).Doc(id.String()).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
		}
		return nil, goerr.Wrap(err, "failed to get integration", goerr.V("id", id))
	}

	var integrationDoc integrationDocument
	if err := doc.DataTo(&integrationDoc); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal integration", goerr.V("id", id))
	}
	if integrationDoc.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "integration deleted", goerr.V("id", id))
	}

	return integrationDoc.toModel()
}

func (r *integrationRepository) list(ctx context.Context, query firestore.Query) ([]*model.Integration, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	var integrations []*model.Integration
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate integrations")
		}

		var integrationDoc integrationDocument
		if err := doc.DataTo(&integrationDoc); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal integration")
		}
		if integrationDoc.DeletedAt != nil {
			continue
		}

		integration, err := integrationDoc.toModel()
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, integration)
	}

	return integrations, nil
}

func (r *integrationRepository) ListByGroup(ctx context.Context, groupID types.GroupID) ([]*model.Integration, error) {
	return r.list(ctx, r.client.Collection(r.integrationsCollection()).Where("group_id", "==", groupID.String()))
}

func (r *integrationRepository) ListActive(ctx context.Context) ([]*model.Integration, error) {
	return r.list(ctx, r.client.Collection(r.integrationsCollection()).Query)
}

func (r *integrationRepository) UpdateConfig(ctx context.Context, id types.IntegrationID, config model.SyncConfig) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return goerr.Wrap(err, "failed to marshal integration config")
	}

	_, err = r.client.Collection(r.integrationsCollection()).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "config_json", Value: string(configJSON)},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to update integration config", goerr.V("id", id))
	}
	return nil
}

// ClaimTrigger uses a transaction so two concurrent schedulers cannot both
// claim the same integration
func (r *integrationRepository) ClaimTrigger(ctx context.Context, id types.IntegrationID, now time.Time, inflightWindow time.Duration) error {
	docRef := r.client.Collection(r.integrationsCollection()).Doc(id.String())

	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
			}
			return goerr.Wrap(err, "failed to get integration", goerr.V("id", id))
		}

		var integrationDoc integrationDocument
		if err := doc.DataTo(&integrationDoc); err != nil {
			return goerr.Wrap(err, "failed to unmarshal integration", goerr.V("id", id))
		}
		if integrationDoc.DeletedAt != nil {
			return goerr.Wrap(types.ErrNotFound, "integration deleted", goerr.V("id", id))
		}

		if integrationDoc.LastTriggeredAt != nil && now.Sub(*integrationDoc.LastTriggeredAt) < inflightWindow {
			return goerr.Wrap(types.ErrAlreadyTriggered, "run in flight", goerr.V("id", id))
		}

		return tx.Update(docRef, []firestore.Update{
			{Path: "last_triggered_at", Value: now},
			{Path: "updated_at", Value: now},
		})
	})

	return err
}

func (r *integrationRepository) MarkSucceeded(ctx context.Context, id types.IntegrationID, now time.Time) error {
	_, err := r.client.Collection(r.integrationsCollection()).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "last_successful_update_at", Value: now},
		{Path: "last_triggered_at", Value: nil},
		{Path: "updated_at", Value: now},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to mark integration succeeded", goerr.V("id", id))
	}
	return nil
}

func (r *integrationRepository) MarkFailed(ctx context.Context, id types.IntegrationID) error {
	_, err := r.client.Collection(r.integrationsCollection()).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "last_triggered_at", Value: nil},
		{Path: "updated_at", Value: time.Now().UTC()},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to mark integration failed", goerr.V("id", id))
	}
	return nil
}

func (r *integrationRepository) SoftDelete(ctx context.Context, id types.IntegrationID) error {
	now := time.Now().UTC()
	_, err := r.client.Collection(r.integrationsCollection()).Doc(id.String()).Update(ctx, []firestore.Update{
		{Path: "deleted_at", Value: now},
		{Path: "updated_at", Value: now},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
		}
		return goerr.Wrap(err, "failed to delete integration", goerr.V("id", id))
	}
	return nil
}
