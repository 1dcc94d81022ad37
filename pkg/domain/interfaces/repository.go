package interfaces

import (
	"context"
	"time"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

// Repository defines the interface for data persistence
type Repository interface {
	Group() GroupRepository
	Integration() IntegrationRepository
	Event() EventRepository
	Object() ObjectRepository

	Close() error
}

// GroupRepository persists integration groups and their credentials
type GroupRepository interface {
	Create(ctx context.Context, group *model.IntegrationGroup) (*model.IntegrationGroup, error)
	Get(ctx context.Context, id types.GroupID) (*model.IntegrationGroup, error)
	// GetByAccount finds the non-deleted group for a (user, service, account)
	// tuple, returning types.ErrNotFound when absent. Onboarding uses this to
	// reuse an existing connection instead of duplicating it.
	GetByAccount(ctx context.Context, userID types.UserID, service types.Service, accountID string) (*model.IntegrationGroup, error)
	ListByUser(ctx context.Context, userID types.UserID) ([]*model.IntegrationGroup, error)
	// UpdateTokens persists a refreshed credential set. Store-then-use: the
	// caller must persist before using the new token.
	UpdateTokens(ctx context.Context, id types.GroupID, accessToken, refreshToken string, expiresAt *time.Time) error
	// SetAccountID records the provider account identifier discovered by the
	// post-OAuth profile call
	SetAccountID(ctx context.Context, id types.GroupID, accountID string) error
	SoftDelete(ctx context.Context, id types.GroupID) error
}

// IntegrationRepository persists sync instances and their run bookkeeping
type IntegrationRepository interface {
	Create(ctx context.Context, integration *model.Integration) (*model.Integration, error)
	Get(ctx context.Context, id types.IntegrationID) (*model.Integration, error)
	ListByGroup(ctx context.Context, groupID types.GroupID) ([]*model.Integration, error)
	// ListActive returns all non-deleted integrations for scheduler scans
	ListActive(ctx context.Context) ([]*model.Integration, error)
	UpdateConfig(ctx context.Context, id types.IntegrationID, config model.SyncConfig) error
	// ClaimTrigger conditionally sets LastTriggeredAt to now. It fails with
	// types.ErrAlreadyTriggered when another run claimed the integration
	// within the in-flight window, making the claim race-safe.
	ClaimTrigger(ctx context.Context, id types.IntegrationID, now time.Time, inflightWindow time.Duration) error
	// MarkSucceeded records a clean run termination: LastSuccessfulUpdateAt
	// is advanced and the trigger marker cleared
	MarkSucceeded(ctx context.Context, id types.IntegrationID, now time.Time) error
	// MarkFailed clears the trigger marker, leaving LastSuccessfulUpdateAt
	// untouched so the due-check schedule is unaffected by the failure
	MarkFailed(ctx context.Context, id types.IntegrationID) error
	SoftDelete(ctx context.Context, id types.IntegrationID) error
}

// EventRepository persists normalized events and their child blocks
type EventRepository interface {
	// GetBySourceID looks up the event for an idempotency key, returning
	// types.ErrNotFound when the item has not been ingested
	GetBySourceID(ctx context.Context, integrationID types.IntegrationID, sourceID string) (*model.Event, error)
	// Create inserts the event and its blocks. A concurrent duplicate of the
	// same (integration, source) identity is a no-op, not an error.
	Create(ctx context.Context, event *model.Event, blocks []*model.Block) error
	ListByIntegration(ctx context.Context, integrationID types.IntegrationID, limit int) ([]*model.Event, error)
	ListBlocks(ctx context.Context, eventID types.EventID) ([]*model.Block, error)
	// ReconcileBlocks aligns an existing event's blocks with the drafts:
	// vanished blocks are soft-removed with a removal marker, new ones
	// created, unchanged ones left alone
	ReconcileBlocks(ctx context.Context, eventID types.EventID, userID types.UserID, drafts []model.BlockDraft, now time.Time) error
}

// ObjectRepository persists actor/target entities
type ObjectRepository interface {
	// Upsert creates or updates the object identified by the draft's natural
	// key (user, concept, type, title). Identity fields are never mutated;
	// the rest is last-write-wins. Safe under concurrent execution.
	Upsert(ctx context.Context, userID types.UserID, draft *model.ObjectDraft) (*model.EventObject, error)
	Get(ctx context.Context, id types.ObjectID) (*model.EventObject, error)
}
