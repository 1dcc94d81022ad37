package cli

import (
	"context"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/cronxco/tapestry/pkg/cli/config"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/queue/memqueue"
	"github.com/cronxco/tapestry/pkg/service/httpflow"
	syncsvc "github.com/cronxco/tapestry/pkg/service/sync"
	"github.com/cronxco/tapestry/pkg/service/token"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

// cmdSync runs one integration to completion in-process: no broker, no
// server, the pagination chain drains through the in-memory queue
func cmdSync() *cli.Command {
	var integrationID string
	var timebox time.Duration
	var archiveBucket string
	var repoCfg config.Repository
	var providersCfg config.Providers

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "integration",
			Usage:       "Integration ID to sync",
			Required:    true,
			Destination: &integrationID,
		},
		&cli.DurationFlag{
			Name:        "timebox",
			Usage:       "Bound the run to this duration (0 = unbounded)",
			Destination: &timebox,
		},
		&cli.StringFlag{
			Name:        "payload-archive-bucket",
			Usage:       "GCS bucket for raw provider payload archive (disabled when empty)",
			Sources:     cli.EnvVars("TAPESTRY_PAYLOAD_ARCHIVE_BUCKET"),
			Destination: &archiveBucket,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, providersCfg.Flags()...)

	return &cli.Command{
		Name:  "sync",
		Usage: "Run one integration to completion in-process",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logging.Default().Error("failed to close repository", "error", err.Error())
				}
			}()

			registry, err := providersCfg.Registry()
			if err != nil {
				return goerr.Wrap(err, "failed to build provider registry")
			}
			tokens := token.New(repo, providersCfg.Credentials())

			var engineOpts []syncsvc.Option
			if archiveBucket != "" {
				archive, err := httpflow.NewArchive(ctx, archiveBucket)
				if err != nil {
					return goerr.Wrap(err, "failed to initialize payload archive")
				}
				engineOpts = append(engineOpts, syncsvc.WithArchive(archive))
			}

			q := memqueue.New()
			defer q.Stop()

			engine := syncsvc.New(repo, q, registry, tokens, engineOpts...)
			q.Handle(syncsvc.TaskTypeStep, engine.HandleStep)

			var timeboxUntil *time.Time
			if timebox > 0 {
				deadline := time.Now().UTC().Add(timebox)
				timeboxUntil = &deadline
			}

			if err := engine.Trigger(ctx, types.IntegrationID(integrationID), timeboxUntil); err != nil {
				return goerr.Wrap(err, "failed to trigger sync", goerr.V("integration_id", integrationID))
			}

			q.Wait()

			integration, err := repo.Integration().Get(ctx, types.IntegrationID(integrationID))
			if err != nil {
				return goerr.Wrap(err, "failed to reload integration")
			}

			if integration.LastSuccessfulUpdateAt != nil {
				color.Green("sync completed: %s (last success %s)",
					integrationID, integration.LastSuccessfulUpdateAt.Format(time.RFC3339))
			} else {
				color.Yellow("sync finished without a recorded success: %s", integrationID)
			}

			return nil
		},
	}
}
