// Package plugin holds the provider registration table and helpers shared
// by provider adapters. The registry is constructed explicitly at startup
// and injected; there is no ambient global state.
package plugin

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/interfaces"
	"github.com/cronxco/tapestry/pkg/domain/types"
)

// Registry maps service identifiers to their plugins
type Registry struct {
	plugins map[types.Service]interfaces.Plugin
}

func NewRegistry(plugins ...interfaces.Plugin) (*Registry, error) {
	r := &Registry{
		plugins: make(map[types.Service]interfaces.Plugin, len(plugins)),
	}

	for _, p := range plugins {
		service := p.Service()
		if err := service.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.plugins[service]; exists {
			return nil, goerr.New("duplicate plugin registration", goerr.V("service", service))
		}
		r.plugins[service] = p
	}

	return r, nil
}

// Get returns the plugin for a service
func (r *Registry) Get(service types.Service) (interfaces.Plugin, error) {
	p, ok := r.plugins[service]
	if !ok {
		return nil, goerr.New("no plugin registered for service", goerr.V("service", service))
	}
	return p, nil
}

// GetOAuth returns the plugin for a service if it supports the OAuth
// authorization-code flow
func (r *Registry) GetOAuth(service types.Service) (interfaces.OAuthPlugin, error) {
	p, err := r.Get(service)
	if err != nil {
		return nil, err
	}
	oauthPlugin, ok := p.(interfaces.OAuthPlugin)
	if !ok {
		return nil, goerr.New("service does not support OAuth", goerr.V("service", service))
	}
	return oauthPlugin, nil
}

// Services lists the registered service identifiers
func (r *Registry) Services() []types.Service {
	services := make([]types.Service, 0, len(r.plugins))
	for service := range r.plugins {
		services = append(services, service)
	}
	return services
}
