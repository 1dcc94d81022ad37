package model

import (
	"encoding/json"
	"net/http"
)

// Page is the result of one pagination step: the raw provider items plus the
// cursor for the next page. A nil Next ends the run cleanly.
type Page struct {
	Items []json.RawMessage
	Next  json.RawMessage
}

// ProviderResponse is the outcome of one outbound provider call
type ProviderResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// OK reports whether the response status is 2xx
func (r *ProviderResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// RateLimited reports whether the provider throttled the call
func (r *ProviderResponse) RateLimited() bool {
	return r.Status == http.StatusTooManyRequests
}

// Decode unmarshals the response body into v
func (r *ProviderResponse) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// InstanceSpec describes one sync instance kind a plugin offers, with the
// configuration applied at onboarding
type InstanceSpec struct {
	Type          string
	DefaultConfig SyncConfig
}

// OAuthCredentials holds one provider's OAuth client credentials
type OAuthCredentials struct {
	ClientID     string
	ClientSecret string
}

// Configured reports whether both halves of the credential are present
func (c OAuthCredentials) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}
