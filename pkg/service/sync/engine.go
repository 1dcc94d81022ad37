// Package sync implements the paginator engine: the resumable fetch →
// normalize → write loop every provider shares. One queue task is one page;
// continuations and rate-limit backoffs are deferred re-enqueues, never
// in-process sleeps.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
	"github.com/cronxco/tapestry/pkg/service/httpflow"
	"github.com/cronxco/tapestry/pkg/service/token"
	"github.com/cronxco/tapestry/pkg/utils/errutil"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

const (
	// PageCap bounds the number of fetches in one run. Beyond it the run
	// ends cleanly and the remainder is picked up next cycle.
	PageCap = 10

	// InflightWindow is how long a trigger claim blocks re-triggering. A
	// claim older than this is treated as a crashed run and may be
	// reclaimed.
	InflightWindow = 30 * time.Minute
)

// Engine drives sync runs against the plugin capability interface. It is
// written once against that interface, never against a concrete provider.
type Engine struct {
	repo     interfaces.Repository
	queue    interfaces.Queue
	registry *plugin.Registry
	tokens   *token.Service
	writer   *Writer
	archive  *httpflow.Archive
	clientFn ClientFactory
	now      func() time.Time
}

// ClientFactory builds the provider client for one step. Injectable so
// tests can substitute a fake transport.
type ClientFactory func(p interfaces.Plugin, accessToken string, integrationID types.IntegrationID) interfaces.ProviderClient

type Option func(*Engine)

// WithArchive stores raw provider payloads alongside normal processing
func WithArchive(archive *httpflow.Archive) Option {
	return func(e *Engine) {
		e.archive = archive
	}
}

// WithClientFactory overrides provider client construction, used by tests
func WithClientFactory(factory ClientFactory) Option {
	return func(e *Engine) {
		e.clientFn = factory
	}
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

func New(repo interfaces.Repository, queue interfaces.Queue, registry *plugin.Registry, tokens *token.Service, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		queue:    queue,
		registry: registry,
		tokens:   tokens,
		writer:   NewWriter(repo),
		now:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.clientFn == nil {
		e.clientFn = func(p interfaces.Plugin, accessToken string, integrationID types.IntegrationID) interfaces.ProviderClient {
			var clientOpts []httpflow.Option
			if e.archive != nil {
				clientOpts = append(clientOpts, httpflow.WithArchive(e.archive))
			}
			return httpflow.New(p.BaseURL(), p.AuthScheme(), accessToken, p.Service(), integrationID, clientOpts...)
		}
	}

	return e
}

// Trigger claims the integration and enqueues the first step of a run.
// force skips nothing here: due-ness is the scheduler's concern, but the
// in-flight claim always applies.
func (e *Engine) Trigger(ctx context.Context, integrationID types.IntegrationID, timeboxUntil *time.Time) error {
	now := e.now()
	if err := e.repo.Integration().ClaimTrigger(ctx, integrationID, now, InflightWindow); err != nil {
		if errors.Is(err, types.ErrAlreadyTriggered) {
			logging.From(ctx).Info("sync already in flight, skipping trigger",
				"integration_id", integrationID)
			return nil
		}
		return err
	}

	payload := &StepPayload{
		IntegrationID: integrationID,
		TimeboxUntil:  timeboxUntil,
	}
	data, err := payload.Marshal()
	if err != nil {
		return err
	}

	if err := e.queue.Enqueue(ctx, TaskTypeStep, data, 0); err != nil {
		// release the claim so the next scheduler pass can retry
		if markErr := e.repo.Integration().MarkFailed(ctx, integrationID); markErr != nil {
			logging.From(ctx).Error("failed to release trigger claim",
				"integration_id", integrationID, "error", markErr.Error())
		}
		return goerr.Wrap(err, "failed to enqueue sync step", goerr.V("integration_id", integrationID))
	}

	return nil
}

// HandleStep processes one pagination step. Registered as the queue handler
// for TaskTypeStep.
func (e *Engine) HandleStep(ctx context.Context, data []byte) error {
	step, err := UnmarshalStepPayload(data)
	if err != nil {
		return errutil.Handle(ctx, err, "discarding malformed sync step")
	}

	logger := logging.From(ctx).With("integration_id", step.IntegrationID, "page", step.Page)
	ctx = logging.With(ctx, logger)

	integration, err := e.repo.Integration().Get(ctx, step.IntegrationID)
	if err != nil {
		// integration removed mid-run: nothing to do
		if errors.Is(err, types.ErrNotFound) {
			logger.Info("integration gone, dropping sync step")
			return nil
		}
		return errutil.Handle(ctx, err, "failed to load integration for sync step")
	}

	now := e.now()

	// paused instances finish their current step by not starting it; the
	// claim is released so an unpause can re-trigger immediately
	if integration.Config.Paused {
		logger.Info("integration paused, abandoning run")
		return e.clearClaim(ctx, integration.ID)
	}

	if step.TimeboxUntil != nil && now.After(*step.TimeboxUntil) {
		logger.Info("timebox deadline passed, stopping run", "timebox_until", *step.TimeboxUntil)
		return e.clearClaim(ctx, integration.ID)
	}

	if step.Page >= PageCap {
		// intentional truncation to bound runtime; the backfill continues
		// next cycle from fresh cursors
		logger.Warn("pagination cap reached, ending run with pages remaining", "cap", PageCap)
		return e.finishRun(ctx, integration.ID, now)
	}

	return e.runStep(ctx, integration, step, now)
}

func (e *Engine) runStep(ctx context.Context, integration *model.Integration, step *StepPayload, now time.Time) error {
	logger := logging.From(ctx)

	p, err := e.registry.Get(integration.Service)
	if err != nil {
		return e.failRun(ctx, integration.ID, err, "no plugin for integration service")
	}

	group, err := e.repo.Group().Get(ctx, integration.GroupID)
	if err != nil {
		return e.failRun(ctx, integration.ID, err, "failed to load integration group")
	}

	accessToken, err := e.tokens.EnsureValid(ctx, group, p)
	if err != nil {
		return e.failRun(ctx, integration.ID, err, "credential unusable for sync run")
	}

	cursor := step.Cursor
	if cursor == nil && step.Page == 0 {
		cursor, err = p.InitialCursor(integration, now)
		if err != nil {
			return e.failRun(ctx, integration.ID, err, "failed to build initial cursor")
		}
	}

	client := e.clientFn(p, accessToken, integration.ID)
	page, err := p.FetchPage(ctx, client, integration, cursor)
	if err != nil {
		if rle, ok := model.AsRateLimit(err); ok {
			return e.deferStep(ctx, step, rle.RetryAfter)
		}
		return e.failRun(ctx, integration.ID, err, "page fetch failed")
	}

	var written int
	for _, item := range page.Items {
		drafts, err := p.Normalize(ctx, integration, item)
		if err != nil {
			// item-level: skip and keep the page going
			logger.Warn("skipping malformed provider item", "error", err.Error())
			continue
		}

		for _, draft := range drafts {
			if draft == nil {
				continue
			}
			created, err := e.writer.Write(ctx, integration, draft)
			if err != nil {
				return e.failRun(ctx, integration.ID, err, "event write failed")
			}
			if created {
				written++
			}
		}
	}

	logger.Debug("sync step complete", "items", len(page.Items), "events_created", written)

	// processing before the next fetch keeps memory bounded and leaves a
	// consistent, resumable cursor if we crash here
	if page.Next != nil {
		next := &StepPayload{
			IntegrationID: step.IntegrationID,
			Cursor:        page.Next,
			Page:          step.Page + 1,
			TimeboxUntil:  step.TimeboxUntil,
		}
		data, err := next.Marshal()
		if err != nil {
			return e.failRun(ctx, integration.ID, err, "failed to marshal continuation")
		}
		if err := e.queue.Enqueue(ctx, TaskTypeStep, data, 0); err != nil {
			return e.failRun(ctx, integration.ID, err, "failed to enqueue continuation")
		}
		return nil
	}

	return e.finishRun(ctx, integration.ID, now)
}

// deferStep re-enqueues the same unconsumed cursor after the provider's
// retry-after delay. Expected condition: logged at warning level only.
func (e *Engine) deferStep(ctx context.Context, step *StepPayload, retryAfter time.Duration) error {
	logging.From(ctx).Warn("rate limited, deferring sync step", "retry_after", retryAfter.String())

	data, err := step.Marshal()
	if err != nil {
		return errutil.Handle(ctx, err, "failed to marshal deferred step")
	}
	if err := e.queue.Enqueue(ctx, TaskTypeStep, data, retryAfter); err != nil {
		return errutil.Handle(ctx, err, "failed to enqueue deferred step")
	}
	return nil
}

func (e *Engine) finishRun(ctx context.Context, id types.IntegrationID, now time.Time) error {
	if err := e.repo.Integration().MarkSucceeded(ctx, id, now); err != nil {
		return errutil.Handle(ctx, err, "failed to record sync success")
	}
	logging.From(ctx).Info("sync run completed")
	return nil
}

func (e *Engine) failRun(ctx context.Context, id types.IntegrationID, cause error, msg string) error {
	if err := e.repo.Integration().MarkFailed(ctx, id); err != nil {
		logging.From(ctx).Error("failed to record sync failure",
			"integration_id", id, "error", err.Error())
	}
	return errutil.Handle(ctx, cause, msg)
}

func (e *Engine) clearClaim(ctx context.Context, id types.IntegrationID) error {
	if err := e.repo.Integration().MarkFailed(ctx, id); err != nil {
		return errutil.Handle(ctx, err, "failed to clear trigger claim")
	}
	return nil
}
