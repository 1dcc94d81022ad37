package model

import (
	"time"

	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
)

// IntegrationGroup is one external account connection: a single credential
// set shared by every sync instance under it.
type IntegrationGroup struct {
	ID        types.GroupID
	UserID    types.UserID
	Service   types.Service
	AccountID string

	AccessToken    string
	RefreshToken   string
	TokenExpiresAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// HasCredentials reports whether any usable credential exists
func (g *IntegrationGroup) HasCredentials() bool {
	return g.AccessToken != ""
}

// TokenExpired reports whether the access token is past its expiry.
// A token without an expiry never expires (API keys, PATs).
func (g *IntegrationGroup) TokenExpired(now time.Time) bool {
	return g.TokenExpiresAt != nil && now.After(*g.TokenExpiresAt)
}

// ApplyTokens stores a freshly exchanged token set on the group. Providers
// that rotate refresh tokens return a new one; those that do not leave it
// empty and the existing refresh token is kept.
func (g *IntegrationGroup) ApplyTokens(tokens *TokenSet, now time.Time) {
	g.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		g.RefreshToken = tokens.RefreshToken
	}
	if tokens.ExpiresIn > 0 {
		expiry := now.Add(time.Duration(tokens.ExpiresIn) * time.Second)
		g.TokenExpiresAt = &expiry
	} else {
		g.TokenExpiresAt = nil
	}
	g.UpdatedAt = now
}

// TokenSet is the result of an OAuth code exchange or refresh call
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Integration is one sync instance under a group: a specific data kind
// fetched on its own cadence with its own cursor state.
type Integration struct {
	ID           types.IntegrationID
	GroupID      types.GroupID
	UserID       types.UserID
	Service      types.Service
	InstanceType types.InstanceType
	Config       SyncConfig

	// LastTriggeredAt is set when a run claims the integration and cleared
	// on completion (success or failure). A recent value means a run is in
	// flight and blocks re-trigger.
	LastTriggeredAt        *time.Time
	LastSuccessfulUpdateAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// SyncConfig is the per-instance sync configuration. Provider-specific
// settings go in Extra and are validated by the owning plugin.
type SyncConfig struct {
	UpdateFrequencyMinutes int      `json:"update_frequency_minutes" toml:"update_frequency_minutes"`
	DaysBack               int      `json:"days_back" toml:"days_back"`
	Paused                 bool     `json:"paused" toml:"paused"`
	UseSchedule            bool     `json:"use_schedule" toml:"use_schedule"`
	ScheduleTimes          []string `json:"schedule_times,omitempty" toml:"schedule_times"`
	ScheduleTimezone       string   `json:"schedule_timezone,omitempty" toml:"schedule_timezone"`

	Extra map[string]any `json:"extra,omitempty" toml:"extra"`
}

// Validate checks the configuration is internally consistent. Called at load
// time so misconfiguration surfaces before any run is scheduled.
func (c *SyncConfig) Validate() error {
	if c.UpdateFrequencyMinutes < 0 {
		return goerr.New("update_frequency_minutes must not be negative",
			goerr.V("update_frequency_minutes", c.UpdateFrequencyMinutes))
	}
	if c.DaysBack < 0 {
		return goerr.New("days_back must not be negative", goerr.V("days_back", c.DaysBack))
	}

	if c.UseSchedule {
		if len(c.ScheduleTimes) == 0 {
			return goerr.New("use_schedule requires at least one schedule time")
		}
		for _, hhmm := range c.ScheduleTimes {
			if _, err := time.Parse("15:04", hhmm); err != nil {
				return goerr.Wrap(err, "invalid schedule time", goerr.V("time", hhmm))
			}
		}
		if c.ScheduleTimezone != "" {
			if _, err := time.LoadLocation(c.ScheduleTimezone); err != nil {
				return goerr.Wrap(err, "invalid schedule timezone", goerr.V("timezone", c.ScheduleTimezone))
			}
		}
	}

	return nil
}

// ScheduleLocation resolves the configured timezone, defaulting to UTC
func (c *SyncConfig) ScheduleLocation() *time.Location {
	if c.ScheduleTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
