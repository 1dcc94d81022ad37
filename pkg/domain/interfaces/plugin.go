package interfaces

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

// ProviderClient performs authenticated calls against a provider API. The
// implementation attaches the resolved credential, bounds timeouts, retries
// transient network failures and logs sanitized request/response pairs.
type ProviderClient interface {
	Do(ctx context.Context, method, path string, query url.Values, body any) (*model.ProviderResponse, error)
}

// FormPoster performs unauthenticated form-encoded posts, used for OAuth
// code exchange and token refresh
type FormPoster interface {
	PostForm(ctx context.Context, rawURL string, form url.Values) (*model.ProviderResponse, error)
}

// Plugin adapts one provider to the sync engine. The engine is written only
// against this interface; providers are registered in an explicit table at
// startup.
type Plugin interface {
	Service() types.Service
	// Instances lists the sync instance kinds created at onboarding
	Instances() []model.InstanceSpec
	BaseURL() string
	AuthScheme() types.AuthScheme

	// InitialCursor builds the cursor for the first page of a run
	InitialCursor(integration *model.Integration, now time.Time) (json.RawMessage, error)
	// FetchPage retrieves one page for the cursor. A throttled fetch returns
	// *model.RateLimitError; the engine re-enqueues the same cursor.
	FetchPage(ctx context.Context, client ProviderClient, integration *model.Integration, cursor json.RawMessage) (*model.Page, error)
	// Normalize maps one raw provider item to canonical event drafts. Most
	// providers emit one draft per item; an empty slice skips the item.
	// Item-level errors are logged and skipped by the engine; wrap
	// structural failures in types.ErrProviderData to fail the run.
	Normalize(ctx context.Context, integration *model.Integration, item json.RawMessage) ([]*model.EventDraft, error)
}

// OAuthPlugin is implemented by providers using the OAuth authorization-code
// flow. Providers authenticating with static API keys implement only Plugin.
type OAuthPlugin interface {
	Plugin

	AuthorizeURL(creds model.OAuthCredentials, redirectURI, state, codeChallenge string) string
	ExchangeCode(ctx context.Context, poster FormPoster, creds model.OAuthCredentials, code, codeVerifier, redirectURI string) (*model.TokenSet, error)
	RefreshToken(ctx context.Context, poster FormPoster, creds model.OAuthCredentials, refreshToken string) (*model.TokenSet, error)
	// Profile fetches the provider account identifier for the authenticated
	// user, persisted as the group's AccountID
	Profile(ctx context.Context, client ProviderClient) (string, error)
}
