package config

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
	"github.com/cronxco/tapestry/pkg/plugin/github"
	"github.com/cronxco/tapestry/pkg/plugin/monzo"
	"github.com/cronxco/tapestry/pkg/plugin/outline"
	"github.com/cronxco/tapestry/pkg/plugin/oura"
	"github.com/cronxco/tapestry/pkg/service/oauthstate"
)

// Providers holds CLI flags for provider plugins and the OAuth surface
type Providers struct {
	stateSecret       string
	monzoClientID     string
	monzoClientSecret string
	outlineBaseURL    string
}

// Flags returns CLI flags for provider configuration
func (p *Providers) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "oauth-state-secret",
			Usage:       "Secret for signing OAuth state tokens (min 16 bytes)",
			Sources:     cli.EnvVars("TAPESTRY_OAUTH_STATE_SECRET"),
			Destination: &p.stateSecret,
		},
		&cli.StringFlag{
			Name:        "monzo-client-id",
			Usage:       "Monzo OAuth client ID",
			Sources:     cli.EnvVars("TAPESTRY_MONZO_CLIENT_ID"),
			Destination: &p.monzoClientID,
		},
		&cli.StringFlag{
			Name:        "monzo-client-secret",
			Usage:       "Monzo OAuth client secret",
			Sources:     cli.EnvVars("TAPESTRY_MONZO_CLIENT_SECRET"),
			Destination: &p.monzoClientSecret,
		},
		&cli.StringFlag{
			Name:        "outline-base-url",
			Usage:       "Base URL of the Outline instance (defaults to app.getoutline.com)",
			Sources:     cli.EnvVars("TAPESTRY_OUTLINE_BASE_URL"),
			Destination: &p.outlineBaseURL,
		},
	}
}

// Registry builds the provider registration table
func (p *Providers) Registry() (*plugin.Registry, error) {
	return plugin.NewRegistry(
		oura.New(),
		outline.New(p.outlineBaseURL),
		monzo.New(),
		github.New(),
	)
}

// Credentials returns the per-service OAuth client credentials
func (p *Providers) Credentials() map[types.Service]model.OAuthCredentials {
	return map[types.Service]model.OAuthCredentials{
		types.ServiceMonzo: {
			ClientID:     p.monzoClientID,
			ClientSecret: p.monzoClientSecret,
		},
	}
}

// Signer builds the OAuth state signer
func (p *Providers) Signer() (*oauthstate.Signer, error) {
	if p.stateSecret == "" {
		return nil, goerr.New("oauth-state-secret is required")
	}
	return oauthstate.NewSigner([]byte(p.stateSecret))
}
