package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/cronxco/tapestry/pkg/cli/config"
	httpctrl "github.com/cronxco/tapestry/pkg/controller/http"
	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/queue/asynqueue"
	"github.com/cronxco/tapestry/pkg/queue/memqueue"
	"github.com/cronxco/tapestry/pkg/service/httpflow"
	"github.com/cronxco/tapestry/pkg/service/scheduler"
	syncsvc "github.com/cronxco/tapestry/pkg/service/sync"
	"github.com/cronxco/tapestry/pkg/service/token"
	"github.com/cronxco/tapestry/pkg/usecase"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

func cmdServe() *cli.Command {
	var addr string
	var baseURL string
	var userID string
	var archiveBucket string
	var scanInterval time.Duration
	var repoCfg config.Repository
	var queueCfg config.Queue
	var providersCfg config.Providers

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "HTTP server address",
			Value:       ":8080",
			Sources:     cli.EnvVars("TAPESTRY_ADDR"),
			Destination: &addr,
		},
		&cli.StringFlag{
			Name:        "base-url",
			Usage:       "Externally visible base URL (e.g. https://your-domain.com)",
			Value:       "http://localhost:8080",
			Sources:     cli.EnvVars("TAPESTRY_BASE_URL"),
			Destination: &baseURL,
		},
		&cli.StringFlag{
			Name:        "user-id",
			Usage:       "Owner user ID of this deployment",
			Value:       "default",
			Sources:     cli.EnvVars("TAPESTRY_USER_ID"),
			Destination: &userID,
		},
		&cli.StringFlag{
			Name:        "payload-archive-bucket",
			Usage:       "GCS bucket for raw provider payload archive (disabled when empty)",
			Sources:     cli.EnvVars("TAPESTRY_PAYLOAD_ARCHIVE_BUCKET"),
			Destination: &archiveBucket,
		},
		&cli.DurationFlag{
			Name:        "scheduler-interval",
			Usage:       "Interval between scheduler scans",
			Value:       time.Minute,
			Sources:     cli.EnvVars("TAPESTRY_SCHEDULER_INTERVAL"),
			Destination: &scanInterval,
		},
	}

	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, queueCfg.Flags()...)
	flags = append(flags, providersCfg.Flags()...)

	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start HTTP server, scheduler and queue worker",
		Flags:   flags,
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
			signer, err := providersCfg.Signer()
			if err != nil {
				return err
			}
			credentials := providersCfg.Credentials()

			tokens := token.New(repo, credentials)

			var engineOpts []syncsvc.Option
			if archiveBucket != "" {
				archive, err := httpflow.NewArchive(ctx, archiveBucket)
				if err != nil {
					return goerr.Wrap(err, "failed to initialize payload archive")
				}
				engineOpts = append(engineOpts, syncsvc.WithArchive(archive))
				logging.Default().Info("Payload archive enabled", "bucket", archiveBucket)
			}

			// queue wiring: the engine enqueues through the client side and
			// consumes through the worker side
			var queueClient interfaces.Queue
			var startWorker func(*syncsvc.Engine) error
			var stopWorker func()

			if queueCfg.UseMemory() {
				q := memqueue.New()
				queueClient = q
				startWorker = func(engine *syncsvc.Engine) error {
					q.Handle(syncsvc.TaskTypeStep, engine.HandleStep)
					return nil
				}
				stopWorker = q.Stop
				logging.Default().Info("Using in-process queue (development mode)")
			} else {
				client, err := asynqueue.NewClient(ctx, queueCfg.AsynqConfig())
				if err != nil {
					return goerr.Wrap(err, "failed to initialize queue client")
				}
				defer func() {
					if err := client.Close(); err != nil {
						logging.Default().Error("failed to close queue client", "error", err.Error())
					}
				}()

				server := asynqueue.NewServer(queueCfg.AsynqConfig())
				queueClient = client
				startWorker = func(engine *syncsvc.Engine) error {
					server.Handle(syncsvc.TaskTypeStep, engine.HandleStep)
					return server.Start()
				}
				stopWorker = server.Shutdown
			}

			engine := syncsvc.New(repo, queueClient, registry, tokens, engineOpts...)

			if err := startWorker(engine); err != nil {
				return goerr.Wrap(err, "failed to start queue worker")
			}
			defer stopWorker()

			worker := scheduler.NewWorker(repo, engine, scheduler.WithInterval(scanInterval))
			if err := worker.Start(ctx); err != nil {
				return goerr.Wrap(err, "failed to start scheduler worker")
			}
			defer worker.Stop()

			uc := usecase.New(repo, registry, engine, signer, credentials)
			srv := &http.Server{
				Addr:              addr,
				Handler:           httpctrl.New(uc, types.UserID(userID), baseURL),
				ReadHeaderTimeout: 10 * time.Second,
			}

			sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				logging.Default().Info("HTTP server listening", "addr", addr, "base_url", baseURL)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			select {
			case <-sigCtx.Done():
				logging.Default().Info("Shutdown signal received")
			case err := <-errCh:
				return goerr.Wrap(err, "HTTP server failed")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return goerr.Wrap(err, "failed to shut down HTTP server")
			}

			return nil
		},
	}
}
