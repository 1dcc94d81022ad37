package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

type integrationRepository struct {
	mu           sync.Mutex
	integrations map[types.IntegrationID]*model.Integration
}

func newIntegrationRepository() *integrationRepository {
	return &integrationRepository{
		integrations: make(map[types.IntegrationID]*model.Integration),
	}
}

func copyIntegration(i *model.Integration) *model.Integration {
	cp := *i
	if i.Config.ScheduleTimes != nil {
		cp.Config.ScheduleTimes = append([]string(nil), i.Config.ScheduleTimes...)
	}
	if i.Config.Extra != nil {
		cp.Config.Extra = make(map[string]any, len(i.Config.Extra))
		for k, v := range i.Config.Extra {
			cp.Config.Extra[k] = v
		}
	}
	return &cp
}

func (r *integrationRepository) Create(ctx context.Context, integration *model.Integration) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	created := copyIntegration(integration)
	if created.ID == "" {
		created.ID = types.NewIntegrationID()
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	r.integrations[created.ID] = created
	return copyIntegration(created), nil
}

func (r *integrationRepository) Get(ctx context.Context, id types.IntegrationID) (*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, exists := r.integrations[id]
	if !exists || integration.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
	}

	return copyIntegration(integration), nil
}

func (r *integrationRepository) ListByGroup(ctx context.Context, groupID types.GroupID) ([]*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var integrations []*model.Integration
	for _, integration := range r.integrations {
		if integration.DeletedAt != nil || integration.GroupID != groupID {
			continue
		}
		integrations = append(integrations, copyIntegration(integration))
	}

	return integrations, nil
}

func (r *integrationRepository) ListActive(ctx context.Context) ([]*model.Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var integrations []*model.Integration
	for _, integration := range r.integrations {
		if integration.DeletedAt != nil {
			continue
		}
		integrations = append(integrations, copyIntegration(integration))
	}

	return integrations, nil
}

func (r *integrationRepository) UpdateConfig(ctx context.Context, id types.IntegrationID, config model.SyncConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, exists := r.integrations[id]
	if !exists || integration.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
	}

	integration.Config = config
	integration.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *integrationRepository) ClaimTrigger(ctx context.Context, id types.IntegrationID, now time.Time, inflightWindow time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, exists := r.integrations[id]
	if !exists || integration.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
	}

	if integration.LastTriggeredAt != nil && now.Sub(*integration.LastTriggeredAt) < inflightWindow {
		return goerr.Wrap(types.ErrAlreadyTriggered, "run in flight",
			goerr.V("id", id), goerr.V("last_triggered_at", *integration.LastTriggeredAt))
	}

	triggeredAt := now
	integration.LastTriggeredAt = &triggeredAt
	integration.UpdatedAt = now
	return nil
}

func (r *integrationRepository) MarkSucceeded(ctx context.Context, id types.IntegrationID, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, exists := r.integrations[id]
	if !exists || integration.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
	}

	successAt := now
	integration.LastSuccessfulUpdateAt = &successAt
	integration.LastTriggeredAt = nil
	integration.UpdatedAt = now
	return nil
}

func (r *integrationRepository) MarkFailed(ctx context.Context, id types.IntegrationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, exists := r.integrations[id]
	if !exists || integration.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
	}

	integration.LastTriggeredAt = nil
	integration.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *integrationRepository) SoftDelete(ctx context.Context, id types.IntegrationID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	integration, exists := r.integrations[id]
	if !exists || integration.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration not found", goerr.V("id", id))
	}

	now := time.Now().UTC()
	integration.DeletedAt = &now
	integration.UpdatedAt = now
	return nil
}
