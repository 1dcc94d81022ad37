package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/goerr/v2"

	"github.com/cronxco/tapestry/pkg/domain/model"
	"github.com/cronxco/tapestry/pkg/domain/types"
	"github.com/cronxco/tapestry/pkg/utils/errutil"
)

func (s *Server) listIntegrationsHandler(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.uc.Integration.List(r.Context(), s.userID)
	if err != nil {
		errutil.HandleHTTP(r.Context(), w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"integrations": statuses})
}

// triggerHandler forces a sync run. The due check is bypassed; the in-flight
// claim still applies, so a running sync is not doubled. An optional
// timebox_minutes query bounds the run.
func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	id := types.IntegrationID(chi.URLParam(r, "id"))

	var timeboxUntil *time.Time
	if raw := r.URL.Query().Get("timebox_minutes"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			errutil.HandleHTTP(r.Context(), w, goerr.New("timebox_minutes must be a positive integer"), http.StatusBadRequest)
			return
		}
		deadline := time.Now().UTC().Add(time.Duration(minutes) * time.Minute)
		timeboxUntil = &deadline
	}

	if err := s.uc.Integration.Trigger(r.Context(), id, timeboxUntil); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, types.ErrNotFound) {
			status = http.StatusNotFound
		}
		errutil.HandleHTTP(r.Context(), w, err, status)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"triggered": true})
}

func (s *Server) updateConfigHandler(w http.ResponseWriter, r *http.Request) {
	id := types.IntegrationID(chi.URLParam(r, "id"))

	var config model.SyncConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		errutil.HandleHTTP(r.Context(), w, goerr.Wrap(err, "invalid request body"), http.StatusBadRequest)
		return
	}

	if err := s.uc.Integration.UpdateConfig(r.Context(), id, config); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, types.ErrNotFound) {
			status = http.StatusNotFound
		}
		errutil.HandleHTTP(r.Context(), w, err, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}
