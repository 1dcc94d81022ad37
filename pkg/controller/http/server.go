// Package http exposes the service's external surface: provider connection
// flows, integration status and trigger endpoints, and health.
package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/usecase"
	"github.com/cronxco/tapestry/pkg/utils/logging"
)

type Server struct {
	router *chi.Mux
	uc     *usecase.UseCases

	// userID is the owner of this deployment; a single-user system has no
	// login of its own, connections belong to the configured user
	userID types.UserID

	// baseURL is the externally visible origin, used to build the OAuth
	// redirect URI
	baseURL string
}

type Option func(*Server)

func New(uc *usecase.UseCases, userID types.UserID, baseURL string, opts ...Option) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:  r,
		uc:      uc,
		userID:  userID,
		baseURL: baseURL,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(middleware.RequestID)
	r.Use(accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", healthHandler)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/{service}/connect", s.connectHandler)
		r.Post("/{service}/apikey", s.apiKeyHandler)
		r.Get("/callback", s.callbackHandler)
	})

	r.Route("/api/integrations", func(r chi.Router) {
		r.Get("/", s.listIntegrationsHandler)
		r.Post("/{id}/trigger", s.triggerHandler)
		r.Put("/{id}/config", s.updateConfigHandler)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`)) //nolint:errcheck // header already committed
}

// accessLogger is a middleware that logs HTTP requests
func accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			logging.Default().Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote", r.RemoteAddr,
				"user_agent", r.UserAgent(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
