package oauthstate

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"

	"github.com/m-mizutani/goerr/v2"
)

// NewCodeVerifier generates a PKCE code verifier (RFC 7636)
func NewCodeVerifier() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", goerr.Wrap(err, "failed to generate code verifier")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// CodeChallenge derives the S256 challenge for a verifier
func CodeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewCSRFToken generates the CSRF token bound to both the state token and
// the browser cookie
func NewCSRFToken() (string, error) {
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", goerr.Wrap(err, "failed to generate CSRF token")
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
