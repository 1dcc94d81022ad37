package types

import (
	"regexp"

	"github.com/m-mizutani/goerr/v2"
)

// Service identifies an external provider (e.g. "oura", "monzo")
type Service string

const (
	ServiceOura    Service = "oura"
	ServiceOutline Service = "outline"
	ServiceMonzo   Service = "monzo"
	ServiceGitHub  Service = "github"
)

var serviceIDPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// Validate checks if the service identifier is well-formed
func (s Service) Validate() error {
	if s == "" {
		return goerr.New("service identifier is empty")
	}
	if !serviceIDPattern.MatchString(string(s)) {
		return goerr.New("invalid service identifier", goerr.V("service", string(s)))
	}
	return nil
}

func (s Service) String() string {
	return string(s)
}

// InstanceType identifies one sync task kind under a service
// (e.g. "daily_activity", "transactions")
type InstanceType string

func (t InstanceType) String() string {
	return string(t)
}

// AuthScheme describes how a provider credential is attached to requests
type AuthScheme string

const (
	AuthSchemeBearer AuthScheme = "bearer"
	AuthSchemeAPIKey AuthScheme = "api-key"
)
