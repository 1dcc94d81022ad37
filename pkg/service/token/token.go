// Package token manages OAuth access-token lifecycle for integration
// groups: expiry checks and lazy refresh before authenticated calls.
package token

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

// PosterFactory builds the unauthenticated form poster used for a
// provider's token endpoint. Injectable for tests.
type PosterFactory func(service types.Service) interfaces.FormPoster

// Service refreshes expired tokens and persists the result
type Service struct {
	repo        interfaces.Repository
	credentials map[types.Service]model.OAuthCredentials
	posterFor   PosterFactory
	now         func() time.Time
}

type Option func(*Service)

// WithPosterFactory overrides how token-endpoint posters are built
func WithPosterFactory(factory PosterFactory) Option {
	return func(s *Service) {
		s.posterFor = factory
	}
}

// WithClock overrides the time source, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(repo interfaces.Repository, credentials map[types.Service]model.OAuthCredentials, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		credentials: credentials,
		now:         func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// EnsureValid returns a usable access token for the group, refreshing and
// persisting first when the current one is expired. The refreshed token is
// stored before it is returned, so a concurrent run never observes a token
// that was about to be replaced without it being durable.
func (s *Service) EnsureValid(ctx context.Context, group *model.IntegrationGroup, plugin interfaces.Plugin) (string, error) {
	if !group.HasCredentials() {
		return "", goerr.Wrap(types.ErrMissingCredentials, "integration group has no token",
			goerr.V("group_id", group.ID), goerr.V("service", group.Service))
	}

	now := s.now()
	if !group.TokenExpired(now) {
		return group.AccessToken, nil
	}

	oauthPlugin, ok := plugin.(interfaces.OAuthPlugin)
	if !ok {
		return "", goerr.Wrap(types.ErrTokenExpired, "credential expired and provider has no refresh flow",
			goerr.V("group_id", group.ID), goerr.V("service", group.Service))
	}
	if group.RefreshToken == "" {
		return "", goerr.Wrap(types.ErrAuthRefreshFailed, "no refresh token stored",
			goerr.V("group_id", group.ID), goerr.V("service", group.Service))
	}

	logging.From(ctx).Info("refreshing expired access token",
		"group_id", group.ID, "service", group.Service)

	tokens, err := oauthPlugin.RefreshToken(ctx, s.poster(group.Service), s.credentials[group.Service], group.RefreshToken)
	if err != nil {
		return "", goerr.Wrap(types.ErrAuthRefreshFailed, "token refresh failed",
			goerr.V("group_id", group.ID), goerr.V("service", group.Service), goerr.V("cause", err.Error()))
	}

	var expiresAt *time.Time
	if tokens.ExpiresIn > 0 {
		expiry := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		expiresAt = &expiry
	}

	// providers that do not rotate refresh tokens return an empty one;
	// keep what we have
	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = group.RefreshToken
	}

	// store-then-use
	if err := s.repo.Group().UpdateTokens(ctx, group.ID, tokens.AccessToken, refreshToken, expiresAt); err != nil {
		return "", goerr.Wrap(err, "failed to persist refreshed token", goerr.V("group_id", group.ID))
	}

	group.ApplyTokens(tokens, now)
	return tokens.AccessToken, nil
}

func (s *Service) poster(service types.Service) interfaces.FormPoster {
	if s.posterFor != nil {
		return s.posterFor(service)
	}
	return defaultPoster(service)
}
