package memory

import (
	"context"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

type groupRepository struct {
	mu     sync.RWMutex
	groups map[types.GroupID]*model.IntegrationGroup
}

func newGroupRepository() *groupRepository {
	return &groupRepository{
		groups: make(map[types.GroupID]*model.IntegrationGroup),
	}
}

func copyGroup(g *model.IntegrationGroup) *model.IntegrationGroup {
	cp := *g
	return &cp
}

func (r *groupRepository) Create(ctx context.Context, group *model.IntegrationGroup) (*model.IntegrationGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	created := copyGroup(group)
	if created.ID == "" {
		created.ID = types.NewGroupID()
	}
	created.CreatedAt = now
	created.UpdatedAt = now

	r.groups[created.ID] = created
	return copyGroup(created), nil
}

func (r *groupRepository) Get(ctx context.Context, id types.GroupID) (*model.IntegrationGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	group, exists := r.groups[id]
	if !exists || group.DeletedAt != nil {
		return nil, goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
	}

	return copyGroup(group), nil
}

func (r *groupRepository) GetByAccount(ctx context.Context, userID types.UserID, service types.Service, accountID string) (*model.IntegrationGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, group := range r.groups {
		if group.DeletedAt != nil {
			continue
		}
		if group.UserID == userID && group.Service == service && group.AccountID == accountID {
			return copyGroup(group), nil
		}
	}

	return nil, goerr.Wrap(types.ErrNotFound, "integration group not found",
		goerr.V("user_id", userID), goerr.V("service", service), goerr.V("account_id", accountID))
}

func (r *groupRepository) ListByUser(ctx context.Context, userID types.UserID) ([]*model.IntegrationGroup, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var groups []*model.IntegrationGroup
	for _, group := range r.groups {
		if group.DeletedAt != nil || group.UserID != userID {
			continue
		}
		groups = append(groups, copyGroup(group))
	}

	return groups, nil
}

func (r *groupRepository) UpdateTokens(ctx context.Context, id types.GroupID, accessToken, refreshToken string, expiresAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, exists := r.groups[id]
	if !exists || group.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
	}

	group.AccessToken = accessToken
	if refreshToken != "" {
		group.RefreshToken = refreshToken
	}
	group.TokenExpiresAt = expiresAt
	group.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *groupRepository) SetAccountID(ctx context.Context, id types.GroupID, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, exists := r.groups[id]
	if !exists || group.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
	}

	group.AccountID = accountID
	group.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *groupRepository) SoftDelete(ctx context.Context, id types.GroupID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	group, exists := r.groups[id]
	if !exists || group.DeletedAt != nil {
		return goerr.Wrap(types.ErrNotFound, "integration group not found", goerr.V("id", id))
	}

	now := time.Now().UTC()
	group.DeletedAt = &now
	group.UpdatedAt = now
	return nil
}
