package sync

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

// Writer persists normalized drafts idempotently: an event whose
// (integration, source) identity already exists is not written again.
// Object upserts happen before event creation so references are valid, and
// are safe to repeat if the event create fails partway.
type Writer struct {
	repo interfaces.Repository
	now  func() time.Time
}

func NewWriter(repo interfaces.Repository) *Writer {
	return &Writer{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Write persists one draft. Returns true when a new event was created,
// false when the source item had already been ingested.
func (w *Writer) Write(ctx context.Context, integration *model.Integration, draft *model.EventDraft) (bool, error) {
	if err := draft.Validate(); err != nil {
		return false, goerr.Wrap(err, "invalid event draft", goerr.V("source_id", draft.SourceID))
	}

	existing, err := w.repo.Event().GetBySourceID(ctx, integration.ID, draft.SourceID)
	if err == nil {
		// already ingested: the default posture is skip, not overwrite.
		// Living-checklist sources opt into block reconciliation.
		if draft.ReconcileBlocks {
			if err := w.repo.Event().ReconcileBlocks(ctx, existing.ID, integration.UserID, draft.Blocks, w.now()); err != nil {
				return false, goerr.Wrap(err, "failed to reconcile blocks", goerr.V("event_id", existing.ID))
			}
		}
		return false, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return false, goerr.Wrap(err, "failed to check event idempotency", goerr.V("source_id", draft.SourceID))
	}

	actor, err := w.repo.Object().Upsert(ctx, integration.UserID, &draft.Actor)
	if err != nil {
		return false, goerr.Wrap(err, "failed to upsert actor object", goerr.V("source_id", draft.SourceID))
	}

	var targetID types.ObjectID
	if draft.Target != nil {
		target, err := w.repo.Object().Upsert(ctx, integration.UserID, draft.Target)
		if err != nil {
			return false, goerr.Wrap(err, "failed to upsert target object", goerr.V("source_id", draft.SourceID))
		}
		targetID = target.ID
	}

	event := &model.Event{
		SourceID:        draft.SourceID,
		IntegrationID:   integration.ID,
		UserID:          integration.UserID,
		Service:         draft.Service,
		Domain:          draft.Domain,
		Action:          draft.Action,
		Time:            draft.Time,
		ActorID:         actor.ID,
		TargetID:        targetID,
		Value:           draft.Value,
		ValueMultiplier: draft.ValueMultiplier,
		ValueUnit:       draft.ValueUnit,
		Metadata:        draft.Metadata,
	}

	blocks := make([]*model.Block, 0, len(draft.Blocks))
	for _, blockDraft := range draft.Blocks {
		blocks = append(blocks, &model.Block{
			UserID:          integration.UserID,
			BlockType:       blockDraft.BlockType,
			Title:           blockDraft.Title,
			Value:           blockDraft.Value,
			ValueMultiplier: blockDraft.ValueMultiplier,
			ValueUnit:       blockDraft.ValueUnit,
			Metadata:        blockDraft.Metadata,
			Time:            blockDraft.Time,
		})
	}

	if err := w.repo.Event().Create(ctx, event, blocks); err != nil {
		return false, goerr.Wrap(err, "failed to create event", goerr.V("source_id", draft.SourceID))
	}

	return true, nil
}
