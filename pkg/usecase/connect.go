package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/service/oauthstate"
	"github.com/cronxco/tapestry/pkg/utils/async"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

// ConnectUseCase handles provider onboarding: the OAuth authorization-code
// round-trip for OAuth providers and direct API-key registration for the
// rest. Both paths end with a credentialed group plus the plugin's default
// sync instances.
type ConnectUseCase struct {
	parent *UseCases
}

// ConnectStart is what the HTTP layer needs to send the user off to the
// provider: the redirect target plus the CSRF token to pin in a cookie.
type ConnectStart struct {
	AuthorizeURL string
	CSRFToken    string
}

// Start begins an OAuth connection. A pending group is created up front so
// the signed state can reference it; the callback fills in credentials or,
// when the provider account turns out to be already connected, discards the
// pending group in favor of the existing one.
func (uc *ConnectUseCase) Start(ctx context.Context, userID types.UserID, service types.Service, redirectURI string) (*ConnectStart, error) {
	oauthPlugin, err := uc.parent.registry.GetOAuth(service)
	if err != nil {
		return nil, err
	}

	creds, ok := uc.parent.credentials[service]
	if !ok || !creds.Configured() {
		return nil, goerr.Wrap(types.ErrMissingCredentials, "no OAuth client credentials configured",
			goerr.V("service", service))
	}

	group, err := uc.parent.repo.Group().Create(ctx, &model.IntegrationGroup{
		ID:      types.NewGroupID(),
		UserID:  userID,
		Service: service,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create pending group")
	}

	csrfToken, err := oauthstate.NewCSRFToken()
	if err != nil {
		return nil, err
	}
	codeVerifier, err := oauthstate.NewCodeVerifier()
	if err != nil {
		return nil, err
	}

	state, err := uc.parent.signer.Sign(&oauthstate.Payload{
		GroupID:      group.ID,
		UserID:       userID,
		Service:      service,
		CSRFToken:    csrfToken,
		CodeVerifier: codeVerifier,
	})
	if err != nil {
		return nil, err
	}

	return &ConnectStart{
		AuthorizeURL: oauthPlugin.AuthorizeURL(creds, redirectURI, state, oauthstate.CodeChallenge(codeVerifier)),
		CSRFToken:    csrfToken,
	}, nil
}

// Complete finishes the OAuth round-trip: verifies the signed state against
// the CSRF cookie, exchanges the code, resolves the provider account, and
// creates the plugin's default sync instances. Reconnecting an account that
// already has a group reuses it.
func (uc *ConnectUseCase) Complete(ctx context.Context, state, csrfCookie, code, redirectURI string) (*model.IntegrationGroup, error) {
	payload, err := uc.parent.signer.Verify(state)
	if err != nil {
		return nil, err
	}
	if csrfCookie == "" || payload.CSRFToken != csrfCookie {
		return nil, goerr.New("OAuth state CSRF mismatch")
	}

	oauthPlugin, err := uc.parent.registry.GetOAuth(payload.Service)
	if err != nil {
		return nil, err
	}
	creds := uc.parent.credentials[payload.Service]

	tokens, err := oauthPlugin.ExchangeCode(ctx, uc.parent.poster(payload.Service), creds, code, payload.CodeVerifier, redirectURI)
	if err != nil {
		return nil, goerr.Wrap(err, "OAuth code exchange failed", goerr.V("service", payload.Service))
	}

	accountID, err := oauthPlugin.Profile(ctx, uc.parent.clientFn(oauthPlugin, tokens.AccessToken))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to resolve provider account", goerr.V("service", payload.Service))
	}

	now := time.Now().UTC()

	// reconnect: the account already has a live group, refresh its
	// credentials and drop the pending one
	existing, err := uc.parent.repo.Group().GetByAccount(ctx, payload.UserID, payload.Service, accountID)
	if err == nil {
		existing.ApplyTokens(tokens, now)
		if err := uc.parent.repo.Group().UpdateTokens(ctx, existing.ID, existing.AccessToken, existing.RefreshToken, existing.TokenExpiresAt); err != nil {
			return nil, goerr.Wrap(err, "failed to update reconnected group tokens")
		}
		if err := uc.parent.repo.Group().SoftDelete(ctx, payload.GroupID); err != nil {
			logging.From(ctx).Warn("failed to discard pending group",
				"group_id", payload.GroupID, "error", err.Error())
		}
		logging.From(ctx).Info("reconnected existing provider account",
			"service", payload.Service, "group_id", existing.ID)
		return existing, nil
	}
	if !errors.Is(err, types.ErrNotFound) {
		return nil, goerr.Wrap(err, "failed to look up existing group")
	}

	group, err := uc.parent.repo.Group().Get(ctx, payload.GroupID)
	if err != nil {
		return nil, goerr.Wrap(err, "pending group missing", goerr.V("group_id", payload.GroupID))
	}
	group.ApplyTokens(tokens, now)
	if err := uc.parent.repo.Group().UpdateTokens(ctx, group.ID, group.AccessToken, group.RefreshToken, group.TokenExpiresAt); err != nil {
		return nil, goerr.Wrap(err, "failed to store group tokens")
	}
	if err := uc.parent.repo.Group().SetAccountID(ctx, group.ID, accountID); err != nil {
		return nil, goerr.Wrap(err, "failed to store provider account id")
	}
	group.AccountID = accountID

	if err := uc.createDefaultInstances(ctx, group); err != nil {
		return nil, err
	}
	uc.triggerInitialSync(ctx, group)

	logging.From(ctx).Info("connected provider account",
		"service", payload.Service, "group_id", group.ID)
	return group, nil
}

// ConnectAPIKey onboards a provider that authenticates with a static key or
// personal access token: no round-trip, the key is the credential.
func (uc *ConnectUseCase) ConnectAPIKey(ctx context.Context, userID types.UserID, service types.Service, apiKey string) (*model.IntegrationGroup, error) {
	if apiKey == "" {
		return nil, goerr.Wrap(types.ErrMissingCredentials, "api key is required", goerr.V("service", service))
	}
	if _, err := uc.parent.registry.Get(service); err != nil {
		return nil, err
	}

	group, err := uc.parent.repo.Group().Create(ctx, &model.IntegrationGroup{
		ID:          types.NewGroupID(),
		UserID:      userID,
		Service:     service,
		AccessToken: apiKey,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create group")
	}

	if err := uc.createDefaultInstances(ctx, group); err != nil {
		return nil, err
	}
	uc.triggerInitialSync(ctx, group)

	return group, nil
}

// triggerInitialSync starts the first run of every instance under a freshly
// connected group. Fire-and-forget: the connect response must not wait on
// provider fetches, and a failed first run is retried by the scheduler.
func (uc *ConnectUseCase) triggerInitialSync(ctx context.Context, group *model.IntegrationGroup) {
	if uc.parent.engine == nil {
		return
	}

	async.Dispatch(ctx, func(ctx context.Context) error {
		integrations, err := uc.parent.repo.Integration().ListByGroup(ctx, group.ID)
		if err != nil {
			return goerr.Wrap(err, "failed to list instances for initial sync",
				goerr.V("group_id", group.ID))
		}
		for _, integration := range integrations {
			if err := uc.parent.engine.Trigger(ctx, integration.ID, nil); err != nil {
				logging.From(ctx).Warn("initial sync trigger failed",
					"integration_id", integration.ID, "error", err.Error())
			}
		}
		return nil
	})
}

func (uc *ConnectUseCase) createDefaultInstances(ctx context.Context, group *model.IntegrationGroup) error {
	p, err := uc.parent.registry.Get(group.Service)
	if err != nil {
		return err
	}

	for _, spec := range p.Instances() {
		_, err := uc.parent.repo.Integration().Create(ctx, &model.Integration{
			ID:           types.NewIntegrationID(),
			GroupID:      group.ID,
			UserID:       group.UserID,
			Service:      group.Service,
			InstanceType: types.InstanceType(spec.Type),
			Config:       spec.DefaultConfig,
		})
		if err != nil {
			return goerr.Wrap(err, "failed to create default instance",
				goerr.V("group_id", group.ID), goerr.V("instance_type", spec.Type))
		}
	}
	return nil
}
