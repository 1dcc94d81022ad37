package usecase

import (
	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
	"github.com/cronxco/tapestry/pkg/service/oauthstate"
	"github.com/cronxco/tapestry/pkg/service/sync"
)

type UseCases struct {
	repo        interfaces.Repository
	registry    *plugin.Registry
	engine      *sync.Engine
	signer      *oauthstate.Signer
	credentials map[types.Service]model.OAuthCredentials
	poster      PosterFactory
	clientFn    ClientFactory

	Connect     *ConnectUseCase
	Integration *IntegrationUseCase
}

// PosterFactory builds the form poster used for OAuth code exchange
type PosterFactory func(service types.Service) interfaces.FormPoster

// ClientFactory builds an authenticated provider client, used for the
// post-OAuth profile call
type ClientFactory func(p interfaces.Plugin, accessToken string) interfaces.ProviderClient

type Option func(*UseCases)

// WithPosterFactory overrides form poster construction, used by tests
func WithPosterFactory(factory PosterFactory) Option {
	return func(uc *UseCases) {
		uc.poster = factory
	}
}

// WithClientFactory overrides provider client construction, used by tests
func WithClientFactory(factory ClientFactory) Option {
	return func(uc *UseCases) {
		uc.clientFn = factory
	}
}

func New(repo interfaces.Repository, registry *plugin.Registry, engine *sync.Engine, signer *oauthstate.Signer, credentials map[types.Service]model.OAuthCredentials, opts ...Option) *UseCases {
	uc := &UseCases{
		repo:        repo,
		registry:    registry,
		engine:      engine,
		signer:      signer,
		credentials: credentials,
	}

	for _, opt := range opts {
		opt(uc)
	}

	if uc.poster == nil {
		uc.poster = defaultPoster
	}
	if uc.clientFn == nil {
		uc.clientFn = defaultClient
	}

	uc.Connect = &ConnectUseCase{parent: uc}
	uc.Integration = &IntegrationUseCase{parent: uc}

	return uc
}
