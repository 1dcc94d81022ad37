package cli

import (
	"context"
	"os"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
	"github.com/urfave/cli/v3"

	"github.com/cronxco/tapestry/pkg/cli/config"
	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/usecase"
)

// seedFile is the TOML layout consumed by the seed command: one user plus
// the API-key providers to register for them. OAuth providers cannot be
// seeded; they need the browser round-trip.
type seedFile struct {
	UserID string      `toml:"user_id"`
	Groups []seedGroup `toml:"group"`
}

type seedGroup struct {
	Service string `toml:"service"`
	APIKey  string `toml:"api_key"`

	// Instances overrides the plugin's default sync configuration per
	// instance type. Types not listed keep their defaults.
	Instances map[string]model.SyncConfig `toml:"instances"`
}

// cmdSeed registers API-key provider connections from a TOML file: each
// entry becomes a credentialed group with the plugin's default instances,
// optionally reconfigured per instance type
func cmdSeed() *cli.Command {
	var seedPath string
	var repoCfg config.Repository
	var providersCfg config.Providers

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "file",
			Usage:       "Seed definition TOML file",
			Required:    true,
			Destination: &seedPath,
		},
	}
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, providersCfg.Flags()...)

	return &cli.Command{
		Name:  "seed",
		Usage: "Register API-key provider connections from a TOML file",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			raw, err := os.ReadFile(seedPath)
			if err != nil {
				return goerr.Wrap(err, "failed to read seed file", goerr.V("path", seedPath))
			}

			var seed seedFile
			if err := toml.Unmarshal(raw, &seed); err != nil {
				return goerr.Wrap(err, "failed to parse seed file", goerr.V("path", seedPath))
			}
			if seed.UserID == "" {
				return goerr.New("seed file must set user_id", goerr.V("path", seedPath))
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer repo.Close()

			registry, err := providersCfg.Registry()
			if err != nil {
				return goerr.Wrap(err, "failed to build provider registry")
			}

			// seeding never triggers a run or an OAuth round-trip, so
			// the engine and state signer stay unset
			uc := usecase.New(repo, registry, nil, nil, providersCfg.Credentials())

			userID := types.UserID(seed.UserID)
			for _, entry := range seed.Groups {
				service := types.Service(entry.Service)
				group, err := uc.Connect.ConnectAPIKey(ctx, userID, service, entry.APIKey)
				if err != nil {
					return goerr.Wrap(err, "failed to seed provider connection",
						goerr.V("service", entry.Service))
				}

				if err := applyInstanceOverrides(ctx, repo, group, entry.Instances); err != nil {
					return err
				}

				color.Green("seeded %s (group %s)", entry.Service, group.ID)
			}

			return nil
		},
	}
}

func applyInstanceOverrides(ctx context.Context, repo interfaces.Repository, group *model.IntegrationGroup, overrides map[string]model.SyncConfig) error {
	if len(overrides) == 0 {
		return nil
	}

	integrations, err := repo.Integration().ListByGroup(ctx, group.ID)
	if err != nil {
		return goerr.Wrap(err, "failed to list seeded instances", goerr.V("group_id", group.ID))
	}

	byType := map[types.InstanceType]types.IntegrationID{}
	for _, integration := range integrations {
		byType[integration.InstanceType] = integration.ID
	}

	for instanceType, cfg := range overrides {
		id, ok := byType[types.InstanceType(instanceType)]
		if !ok {
			return goerr.New("seed file configures an unknown instance type",
				goerr.V("service", group.Service), goerr.V("instance_type", instanceType))
		}
		if err := cfg.Validate(); err != nil {
			return goerr.Wrap(err, "invalid seeded config", goerr.V("instance_type", instanceType))
		}
		if err := repo.Integration().UpdateConfig(ctx, id, cfg); err != nil {
			return goerr.Wrap(err, "failed to apply seeded config",
				goerr.V("instance_type", instanceType))
		}
	}

	return nil
}
