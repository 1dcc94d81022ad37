package token

import (
	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/service/httpflow"
)

// defaultPoster builds an unauthenticated httpflow client for a provider's
// token endpoint. Token exchanges carry their credentials in the form body,
// so no bearer token is attached.
func defaultPoster(service types.Service) interfaces.FormPoster {
	return httpflow.New("", types.AuthSchemeBearer, "", service, "")
}
