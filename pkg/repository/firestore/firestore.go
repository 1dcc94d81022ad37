package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
)

type Firestore struct {
	client      *firestore.Client
	group       *groupRepository
	integration *integrationRepository
	event       *eventRepository
	object      *objectRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix namespaces every collection, used by tests to isolate
// runs against a shared project
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.group.collectionPrefix = prefix
		f.integration.collectionPrefix = prefix
		f.event.collectionPrefix = prefix
		f.object.collectionPrefix = prefix
	}
}

func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	var client *firestore.Client
	var err error
	if databaseID == "" {
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client", goerr.V("projectID", projectID))
	}

	f := &Firestore{
		client:      client,
		group:       newGroupRepository(client),
		integration: newIntegrationRepository(client),
		event:       newEventRepository(client),
		object:      newObjectRepository(client),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Group() interfaces.GroupRepository {
	return f.group
}

func (f *Firestore) Integration() interfaces.IntegrationRepository {
	return f.integration
}

func (f *Firestore) Event() interfaces.EventRepository {
	return f.event
}

func (f *Firestore) Object() interfaces.ObjectRepository {
	return f.object
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func collection(prefix, name string) string {
	if prefix != "" {
		return prefix + "_" + name
	}
	return name
}
