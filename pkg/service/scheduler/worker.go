package scheduler

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

const (
	defaultScanInterval = time.Minute
	triggerConcurrency  = 4
)

// Triggerer starts a sync run for one integration. Satisfied by the sync
// engine; the claim race between concurrent triggers is resolved there.
type Triggerer interface {
	Trigger(ctx context.Context, integrationID types.IntegrationID, timeboxUntil *time.Time) error
}

// Worker periodically scans active integrations and triggers the due ones.
//
// Architecture assumptions:
// - Single server instance (no distributed locking); the trigger claim in
//   the repository is what keeps concurrent scans from double-running.
type Worker struct {
	repo     interfaces.Repository
	trigger  Triggerer
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type Option func(*Worker)

// WithInterval overrides the scan interval
func WithInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.interval = interval
	}
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

func NewWorker(repo interfaces.Repository, trigger Triggerer, opts ...Option) *Worker {
	w := &Worker{
		repo:     repo,
		trigger:  trigger,
		interval: defaultScanInterval,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the background scan loop without blocking server startup
func (w *Worker) Start(ctx context.Context) error {
	logging.Default().Info("scheduler worker starting", "interval", w.interval.String())
	go w.run(ctx)
	return nil
}

// Stop signals the worker to stop and waits for the loop to exit
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
	logging.Default().Info("scheduler worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	if err := w.Scan(ctx); err != nil {
		logging.Default().Error("scheduler scan failed (will retry next interval)",
			"error", err.Error())
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.Scan(ctx); err != nil {
				logging.Default().Error("scheduler scan failed (will retry next interval)",
					"error", err.Error())
			}

		case <-w.stopCh:
			return

		case <-ctx.Done():
			logging.Default().Info("scheduler worker context cancelled")
			return
		}
	}
}

// Scan triggers every active integration that is due. One failed trigger
// does not stop the rest of the pass.
func (w *Worker) Scan(ctx context.Context) error {
	integrations, err := w.repo.Integration().ListActive(ctx)
	if err != nil {
		return err
	}

	now := w.now()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(triggerConcurrency)

	for _, integration := range integrations {
		if !Due(integration, now) {
			continue
		}

		id := integration.ID
		eg.Go(func() error {
			if err := w.trigger.Trigger(ctx, id, nil); err != nil {
				logging.From(ctx).Error("failed to trigger due integration",
					"integration_id", id, "error", err.Error())
			}
			return nil
		})
	}

	return eg.Wait()
}
