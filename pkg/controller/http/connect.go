package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/utils/errutil"
)

const csrfCookieName = "oauth_csrf"

func (s *Server) redirectURI() string {
	return s.baseURL + "/auth/callback"
}

// connectHandler starts the OAuth round-trip for a provider: builds the
// signed state, pins the CSRF token in a cookie, redirects to the provider
func (s *Server) connectHandler(w http.ResponseWriter, r *http.Request) {
	service := types.Service(chi.URLParam(r, "service"))
	if err := service.Validate(); err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
		return
	}

	start, err := s.uc.Connect.Start(r.Context(), s.userID, service, s.redirectURI())
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    start.CSRFToken,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   600,
	})

	http.Redirect(w, r, start.AuthorizeURL, http.StatusTemporaryRedirect)
}

// callbackHandler finishes the OAuth round-trip. The CSRF cookie must match
// the token inside the signed state, so a forged callback cannot attach a
// foreign account.
func (s *Server) callbackHandler(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		errutil.HandleHTTP(r.Context(), w, goerr.New("missing state or code parameter"), http.StatusBadRequest)
		return
	}

	csrfCookie, err := r.Cookie(csrfCookieName)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.New("missing CSRF cookie"), http.StatusBadRequest)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})

	group, err := s.uc.Connect.Complete(r.Context(), state, csrfCookie.Value, code, s.redirectURI())
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"group_id": group.ID,
		"service":  group.Service,
	})
}

// apiKeyHandler registers a provider that authenticates with a static key
func (s *Server) apiKeyHandler(w http.ResponseWriter, r *http.Request) {
	service := types.Service(chi.URLParam(r, "service"))
	if err := service.Validate(); err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
		return
	}

	var body struct {
		APIKey string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}

	group, err := s.uc.Connect.ConnectAPIKey(r.Context(), s.userID, service, body.APIKey)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"group_id": group.ID,
		"service":  group.Service,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // header already committed
}
