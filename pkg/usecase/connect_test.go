package usecase_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/plugin"
	"github.com/cronxco/tapestry/pkg/repository/memory"
	"github.com/cronxco/tapestry/pkg/service/oauthstate"
	"github.com/cronxco/tapestry/pkg/usecase"
)

// fakeOAuthPlugin scripts the provider side of the authorization-code flow
type fakeOAuthPlugin struct {
	mu            sync.Mutex
	tokens        *model.TokenSet
	exchangeErr   error
	accountID     string
	profileErr    error
	exchangedCode string
	usedVerifier  string
}

var _ interfaces.OAuthPlugin = &fakeOAuthPlugin{}

func (p *fakeOAuthPlugin) Service() types.Service { return "fakeoauth" }
func (p *fakeOAuthPlugin) BaseURL() string        { return "https://fake.example.com" }

func (p *fakeOAuthPlugin) AuthScheme() types.AuthScheme { return types.AuthSchemeBearer }

func (p *fakeOAuthPlugin) Instances() []model.InstanceSpec {
	return []model.InstanceSpec{
		{Type: "things", DefaultConfig: model.SyncConfig{UpdateFrequencyMinutes: 60}},
		{Type: "stuff", DefaultConfig: model.SyncConfig{UpdateFrequencyMinutes: 1440}},
	}
}

func (p *fakeOAuthPlugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	return nil, nil
}

func (p *fakeOAuthPlugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	return &model.Page{}, nil
}

func (p *fakeOAuthPlugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	return nil, nil
}

func (p *fakeOAuthPlugin) AuthorizeURL(creds model.OAuthCredentials, redirectURI, state, codeChallenge string) string {
	query := url.Values{
		"client_id":      []string{creds.ClientID},
		"redirect_uri":   []string{redirectURI},
		"state":          []string{state},
		"code_challenge": []string{codeChallenge},
	}
	return "https://auth.fake.example.com/?" + query.Encode()
}

func (p *fakeOAuthPlugin) ExchangeCode(ctx context.Context, poster interfaces.FormPoster, creds model.OAuthCredentials, code, codeVerifier, redirectURI string) (*model.TokenSet, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	p.exchangedCode = code
	p.usedVerifier = codeVerifier
	return p.tokens, nil
}

func (p *fakeOAuthPlugin) RefreshToken(ctx context.Context, poster interfaces.FormPoster, creds model.OAuthCredentials, refreshToken string) (*model.TokenSet, error) {
	return nil, errors.New("not used")
}

func (p *fakeOAuthPlugin) Profile(ctx context.Context, client interfaces.ProviderClient) (string, error) {
	if p.profileErr != nil {
		return "", p.profileErr
	}
	return p.accountID, nil
}

// staticPlugin is a minimal API-key provider
type staticPlugin struct{}

var _ interfaces.Plugin = &staticPlugin{}

func (p *staticPlugin) Service() types.Service       { return "static" }
func (p *staticPlugin) BaseURL() string              { return "https://static.example.com" }
func (p *staticPlugin) AuthScheme() types.AuthScheme { return types.AuthSchemeAPIKey }

func (p *staticPlugin) Instances() []model.InstanceSpec {
	return []model.InstanceSpec{
		{Type: "records", DefaultConfig: model.SyncConfig{UpdateFrequencyMinutes: 30}},
	}
}

func (p *staticPlugin) InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error) {
	return nil, nil
}

func (p *staticPlugin) FetchPage(ctx context.Context, client interfaces.ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error) {
	return &model.Page{}, nil
}

func (p *staticPlugin) Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error) {
	return nil, nil
}

type nopPoster struct{}

func (nopPoster) PostForm(ctx context.Context, rawURL string, form url.Values) (*model.ProviderResponse, error) {
	return &model.ProviderResponse{Status: 200}, nil
}

type connectHarness struct {
	repo   interfaces.Repository
	oauth  *fakeOAuthPlugin
	uc     *usecase.UseCases
	tokens []string
}

func newConnectHarness(t *testing.T) *connectHarness {
	t.Helper()

	h := &connectHarness{
		repo: memory.New(),
		oauth: &fakeOAuthPlugin{
			tokens:    &model.TokenSet{AccessToken: "at-1", RefreshToken: "rt-1", ExpiresIn: 3600},
			accountID: "acct-1",
		},
	}

	registry, err := plugin.NewRegistry(h.oauth, &staticPlugin{})
	gt.NoError(t, err).Required()

	signer, err := oauthstate.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	gt.NoError(t, err).Required()

	credentials := map[types.Service]model.OAuthCredentials{
		"fakeoauth": {ClientID: "client-1", ClientSecret: "secret-1"},
	}

	h.uc = usecase.New(h.repo, registry, nil, signer, credentials,
		usecase.WithPosterFactory(func(service types.Service) interfaces.FormPoster {
			return nopPoster{}
		}),
		usecase.WithClientFactory(func(p interfaces.Plugin, accessToken string) interfaces.ProviderClient {
			h.tokens = append(h.tokens, accessToken)
			return nil
		}))

	return h
}

// stateFromAuthorizeURL pulls the signed state back out of the redirect
func stateFromAuthorizeURL(t *testing.T, rawURL string) string {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	gt.NoError(t, err).Required()
	state := parsed.Query().Get("state")
	gt.Value(t, state).NotEqual("")
	return state
}

func TestConnectStart(t *testing.T) {
	ctx := context.Background()

	t.Run("issues a redirect with signed state and a CSRF token", func(t *testing.T) {
		h := newConnectHarness(t)

		start, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()

		gt.Value(t, start.CSRFToken).NotEqual("")
		parsed, err := url.Parse(start.AuthorizeURL)
		gt.NoError(t, err).Required()
		gt.Value(t, parsed.Query().Get("client_id")).Equal("client-1")
		gt.Value(t, parsed.Query().Get("redirect_uri")).Equal("https://app.example.com/callback")
		gt.Value(t, parsed.Query().Get("state")).NotEqual("")
		gt.Value(t, parsed.Query().Get("code_challenge")).NotEqual("")
	})

	t.Run("rejects a service without OAuth support", func(t *testing.T) {
		h := newConnectHarness(t)
		_, err := h.uc.Connect.Start(ctx, "user-1", "static", "https://app.example.com/callback")
		gt.Error(t, err)
	})

	t.Run("rejects a service without client credentials", func(t *testing.T) {
		registry, err := plugin.NewRegistry(&fakeOAuthPlugin{})
		gt.NoError(t, err).Required()
		signer, err := oauthstate.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
		gt.NoError(t, err).Required()

		uc := usecase.New(memory.New(), registry, nil, signer, nil)
		_, err = uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrMissingCredentials)).True()
	})
}

func TestConnectComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("exchanges the code and creates default instances", func(t *testing.T) {
		h := newConnectHarness(t)

		start, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()
		state := stateFromAuthorizeURL(t, start.AuthorizeURL)

		group, err := h.uc.Connect.Complete(ctx, state, start.CSRFToken, "auth-code", "https://app.example.com/callback")
		gt.NoError(t, err).Required()

		gt.Value(t, h.oauth.exchangedCode).Equal("auth-code")
		gt.Value(t, h.oauth.usedVerifier).NotEqual("")

		gt.Value(t, group.AccountID).Equal("acct-1")
		gt.Value(t, group.AccessToken).Equal("at-1")
		gt.Value(t, group.RefreshToken).Equal("rt-1")
		gt.Value(t, group.TokenExpiresAt).NotNil()

		// the profile call used the fresh access token
		gt.Array(t, h.tokens).Length(1)
		gt.Value(t, h.tokens[0]).Equal("at-1")

		integrations, err := h.repo.Integration().ListByGroup(ctx, group.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, integrations).Length(2)
	})

	t.Run("rejects a CSRF cookie mismatch", func(t *testing.T) {
		h := newConnectHarness(t)

		start, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()
		state := stateFromAuthorizeURL(t, start.AuthorizeURL)

		_, err = h.uc.Connect.Complete(ctx, state, "someone-elses-token", "auth-code", "https://app.example.com/callback")
		gt.Error(t, err)

		_, err = h.uc.Connect.Complete(ctx, state, "", "auth-code", "https://app.example.com/callback")
		gt.Error(t, err)
	})

	t.Run("rejects tampered state", func(t *testing.T) {
		h := newConnectHarness(t)

		start, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()
		state := stateFromAuthorizeURL(t, start.AuthorizeURL)

		_, err = h.uc.Connect.Complete(ctx, state+"x", start.CSRFToken, "auth-code", "https://app.example.com/callback")
		gt.Error(t, err)
	})

	t.Run("surfaces a failed code exchange", func(t *testing.T) {
		h := newConnectHarness(t)
		h.oauth.exchangeErr = errors.New("invalid_grant")

		start, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()
		state := stateFromAuthorizeURL(t, start.AuthorizeURL)

		_, err = h.uc.Connect.Complete(ctx, state, start.CSRFToken, "stale-code", "https://app.example.com/callback")
		gt.Error(t, err)
	})

	t.Run("reconnecting an account reuses its group", func(t *testing.T) {
		h := newConnectHarness(t)

		start, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()
		first, err := h.uc.Connect.Complete(ctx, stateFromAuthorizeURL(t, start.AuthorizeURL), start.CSRFToken, "auth-code", "https://app.example.com/callback")
		gt.NoError(t, err).Required()

		// second round-trip for the same provider account
		h.oauth.tokens = &model.TokenSet{AccessToken: "at-2", ExpiresIn: 3600}
		start2, err := h.uc.Connect.Start(ctx, "user-1", "fakeoauth", "https://app.example.com/callback")
		gt.NoError(t, err).Required()
		state2 := stateFromAuthorizeURL(t, start2.AuthorizeURL)

		second, err := h.uc.Connect.Complete(ctx, state2, start2.CSRFToken, "auth-code-2", "https://app.example.com/callback")
		gt.NoError(t, err).Required()

		gt.Value(t, second.ID).Equal(first.ID)
		gt.Value(t, second.AccessToken).Equal("at-2")
		// a non-rotating provider keeps the stored refresh token
		gt.Value(t, second.RefreshToken).Equal("rt-1")

		// the pending group from the second Start was discarded
		groups, err := h.repo.Group().ListByUser(ctx, "user-1")
		gt.NoError(t, err).Required()
		gt.Array(t, groups).Length(1)

		// instances were not duplicated
		integrations, err := h.repo.Integration().ListByGroup(ctx, first.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, integrations).Length(2)
	})
}

func TestConnectAPIKey(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a group and the default instances", func(t *testing.T) {
		h := newConnectHarness(t)

		group, err := h.uc.Connect.ConnectAPIKey(ctx, "user-1", "static", "pat-123")
		gt.NoError(t, err).Required()

		gt.Value(t, group.AccessToken).Equal("pat-123")
		gt.Value(t, group.Service).Equal(types.Service("static"))

		integrations, err := h.repo.Integration().ListByGroup(ctx, group.ID)
		gt.NoError(t, err).Required()
		gt.Array(t, integrations).Length(1)
		gt.Value(t, integrations[0].InstanceType).Equal(types.InstanceType("records"))
		gt.Value(t, integrations[0].Config.UpdateFrequencyMinutes).Equal(30)
	})

	t.Run("rejects an empty key", func(t *testing.T) {
		h := newConnectHarness(t)
		_, err := h.uc.Connect.ConnectAPIKey(ctx, "user-1", "static", "")
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrMissingCredentials)).True()
	})

	t.Run("rejects an unregistered service", func(t *testing.T) {
		h := newConnectHarness(t)
		_, err := h.uc.Connect.ConnectAPIKey(ctx, "user-1", "nobody", "pat-123")
		gt.Error(t, err)
	})
}

func TestIntegrationStatusList(t *testing.T) {
	ctx := context.Background()
	h := newConnectHarness(t)

	_, err := h.uc.Connect.ConnectAPIKey(ctx, "user-1", "static", "pat-123")
	gt.NoError(t, err).Required()

	statuses, err := h.uc.Integration.List(ctx, "user-1")
	gt.NoError(t, err).Required()
	gt.Array(t, statuses).Length(1)

	status := statuses[0]
	gt.Value(t, status.Service).Equal(types.Service("static"))
	gt.Value(t, status.InstanceType).Equal(types.InstanceType("records"))
	gt.Bool(t, status.Paused).False()
	gt.Value(t, status.LastSuccessfulUpdateAt).Nil()

	// another user sees nothing
	other, err := h.uc.Integration.List(ctx, "user-2")
	gt.NoError(t, err).Required()
	gt.Array(t, other).Length(0)
}

func TestIntegrationUpdateConfig(t *testing.T) {
	ctx := context.Background()
	h := newConnectHarness(t)

	group, err := h.uc.Connect.ConnectAPIKey(ctx, "user-1", "static", "pat-123")
	gt.NoError(t, err).Required()

	integrations, err := h.repo.Integration().ListByGroup(ctx, group.ID)
	gt.NoError(t, err).Required()
	id := integrations[0].ID

	t.Run("stores a valid config", func(t *testing.T) {
		cfg := integrations[0].Config
		cfg.UpdateFrequencyMinutes = 120
		cfg.Paused = true

		gt.NoError(t, h.uc.Integration.UpdateConfig(ctx, id, cfg)).Required()

		stored, err := h.repo.Integration().Get(ctx, id)
		gt.NoError(t, err).Required()
		gt.Value(t, stored.Config.UpdateFrequencyMinutes).Equal(120)
		gt.Bool(t, stored.Config.Paused).True()
	})

	t.Run("rejects an invalid config", func(t *testing.T) {
		cfg := integrations[0].Config
		cfg.UpdateFrequencyMinutes = -5

		gt.Error(t, h.uc.Integration.UpdateConfig(ctx, id, cfg))
	})

	t.Run("trigger on an unknown integration is not found", func(t *testing.T) {
		err := h.uc.Integration.Trigger(ctx, "missing", nil)
		gt.Error(t, err)
		gt.Bool(t, errors.Is(err, types.ErrNotFound)).True()
	})
}
