package types

import "github.com/m-mizutani/goerr/v2"

// Sync run error taxonomy. Run-level errors abort the run and mark the
// integration as failed; item-level errors are logged and skipped.
var (
	// ErrMissingCredentials means no usable token or API key exists for the
	// integration group. Fatal for the run; the user must reconnect.
	ErrMissingCredentials = goerr.New("no usable credentials for integration group")

	// ErrAuthRefreshFailed means the refresh token itself was rejected.
	// Fatal for the run; the user must reconnect.
	ErrAuthRefreshFailed = goerr.New("token refresh rejected by provider")

	// ErrTokenExpired means the access token is expired and the provider
	// offers no refresh path for this credential kind.
	ErrTokenExpired = goerr.New("access token expired")

	// ErrProviderData means a provider payload is malformed. Item-level
	// occurrences are skipped; structural occurrences fail the run.
	ErrProviderData = goerr.New("malformed provider payload")

	// ErrNotFound is returned by repositories when an entity does not exist
	ErrNotFound = goerr.New("not found")

	// ErrAlreadyTriggered means another run claimed the integration first
	ErrAlreadyTriggered = goerr.New("integration already triggered")
)
