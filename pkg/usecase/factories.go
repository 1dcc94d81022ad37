package usecase

import (
	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/service/httpflow"
)

// defaultPoster builds an unauthenticated client for a provider's token
// endpoint; credentials travel in the form body
func defaultPoster(service types.Service) interfaces.FormPoster {
	return httpflow.New("", types.AuthSchemeBearer, "", service, "")
}

// defaultClient builds the authenticated client used for the post-OAuth
// profile call, before any integration exists
func defaultClient(p interfaces.Plugin, accessToken string) interfaces.ProviderClient {
	return httpflow.New(p.BaseURL(), p.AuthScheme(), accessToken, p.Service(), "")
}
