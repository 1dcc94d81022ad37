package monzo

import (
	"context"
	"net/url"

	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/plugin"
)

const (
	authorizeEndpoint = "https://auth.monzo.com/"
	tokenEndpoint     = "https://api.monzo.com/oauth2/token"
)

func (p *Plugin) AuthorizeURL(creds model.OAuthCredentials, redirectURI, state, codeChallenge string) string {
	query := url.Values{
		"client_id":     []string{creds.ClientID},
		"redirect_uri":  []string{redirectURI},
		"response_type": []string{"code"},
		"state":         []string{state},
	}
	if codeChallenge != "" {
		query.Set("code_challenge", codeChallenge)
		query.Set("code_challenge_method", "S256")
	}
	return authorizeEndpoint + "?" + query.Encode()
}

func (p *Plugin) ExchangeCode(ctx context.Context, poster interfaces.FormPoster, creds model.OAuthCredentials, code, codeVerifier, redirectURI string) (*model.TokenSet, error) {
	form := url.Values{
		"grant_type":    []string{"authorization_code"},
		"client_id":     []string{creds.ClientID},
		"client_secret": []string{creds.ClientSecret},
		"redirect_uri":  []string{redirectURI},
		"code":          []string{code},
	}
	if codeVerifier != "" {
		form.Set("code_verifier", codeVerifier)
	}
	return postTokenForm(ctx, poster, form)
}

func (p *Plugin) RefreshToken(ctx context.Context, poster interfaces.FormPoster, creds model.OAuthCredentials, refreshToken string) (*model.TokenSet, error) {
	form := url.Values{
		"grant_type":    []string{"refresh_token"},
		"client_id":     []string{creds.ClientID},
		"client_secret": []string{creds.ClientSecret},
		"refresh_token": []string{refreshToken},
	}
	return postTokenForm(ctx, poster, form)
}

func postTokenForm(ctx context.Context, poster interfaces.FormPoster, form url.Values) (*model.TokenSet, error) {
	resp, err := poster.PostForm(ctx, tokenEndpoint, form)
	if err != nil {
		return nil, err
	}
	if err := plugin.CheckResponse(resp, tokenEndpoint); err != nil {
		return nil, err
	}

	var tokens model.TokenSet
	if err := resp.Decode(&tokens); err != nil {
		return nil, goerr.Wrap(err, "failed to decode monzo token response")
	}
	if tokens.AccessToken == "" {
		return nil, goerr.New("monzo token response missing access token")
	}
	return &tokens, nil
}

type whoamiResponse struct {
	Authenticated bool   `json:"authenticated"`
	UserID        string `json:"user_id"`
}

// Profile resolves the Monzo user ID, stored as the group's account ID so
// reconnecting the same account reuses the group
func (p *Plugin) Profile(ctx context.Context, client interfaces.ProviderClient) (string, error) {
	resp, err := client.Do(ctx, "GET", "/ping/whoami", nil, nil)
	if err != nil {
		return "", err
	}
	if err := plugin.CheckResponse(resp, "/ping/whoami"); err != nil {
		return "", err
	}

	var body whoamiResponse
	if err := resp.Decode(&body); err != nil {
		return "", goerr.Wrap(err, "failed to decode whoami response")
	}
	if !body.Authenticated || body.UserID == "" {
		return "", goerr.New("monzo whoami returned unauthenticated")
	}
	return body.UserID, nil
}
