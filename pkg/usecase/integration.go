package usecase

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

// IntegrationUseCase covers manual operations on sync instances: status
// listing, forced triggers, config updates.
type IntegrationUseCase struct {
	parent *UseCases
}

// Status is one integration's sync state as reported by the API
type Status struct {
	ID                     types.IntegrationID `json:"id"`
	Service                types.Service       `json:"service"`
	InstanceType           types.InstanceType  `json:"instance_type"`
	Paused                 bool                `json:"paused"`
	LastTriggeredAt        *time.Time          `json:"last_triggered_at,omitempty"`
	LastSuccessfulUpdateAt *time.Time          `json:"last_successful_update_at,omitempty"`
}

// List returns the sync status of every integration the user owns
func (uc *IntegrationUseCase) List(ctx context.Context, userID types.UserID) ([]*Status, error) {
	groups, err := uc.parent.repo.Group().ListByUser(ctx, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list groups")
	}

	var statuses []*Status
	for _, group := range groups {
		integrations, err := uc.parent.repo.Integration().ListByGroup(ctx, group.ID)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to list integrations", goerr.V("group_id", group.ID))
		}
		for _, integration := range integrations {
			statuses = append(statuses, &Status{
				ID:                     integration.ID,
				Service:                integration.Service,
				InstanceType:           integration.InstanceType,
				Paused:                 integration.Config.Paused,
				LastTriggeredAt:        integration.LastTriggeredAt,
				LastSuccessfulUpdateAt: integration.LastSuccessfulUpdateAt,
			})
		}
	}

	return statuses, nil
}

// Trigger starts a run immediately, bypassing the due check but not the
// in-flight claim. An optional timebox bounds a backfill.
func (uc *IntegrationUseCase) Trigger(ctx context.Context, id types.IntegrationID, timeboxUntil *time.Time) error {
	// surfaces ErrNotFound before the claim is attempted
	if _, err := uc.parent.repo.Integration().Get(ctx, id); err != nil {
		return err
	}
	return uc.parent.engine.Trigger(ctx, id, timeboxUntil)
}

// UpdateConfig validates and stores a new sync configuration
func (uc *IntegrationUseCase) UpdateConfig(ctx context.Context, id types.IntegrationID, config model.SyncConfig) error {
	if err := config.Validate(); err != nil {
		return err
	}
	return uc.parent.repo.Integration().UpdateConfig(ctx, id, config)
}
