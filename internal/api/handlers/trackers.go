// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/services/trackersync"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

type TrackerSyncService interface {
	RunUpdate(ctx context.Context) (*trackersync.RunResult, error)
	Status() trackersync.Status
	History() []trackersync.RunResult
	CheckAndMaybeStart(ctx context.Context)
}

type TrackerSettingsStore interface {
	Get(ctx context.Context) (*models.TrackerSyncSettings, error)
	Update(ctx context.Context, input *models.TrackerSyncSettingsInput) (*models.TrackerSyncSettings, error)
}

type TrackersHandler struct {
	service  TrackerSyncService
	settings TrackerSettingsStore
}

func NewTrackersHandler(service TrackerSyncService, settings TrackerSettingsStore) *TrackersHandler {
	return &TrackersHandler{
		service:  service,
		settings: settings,
	}
}

type trackerStatusResponse struct {
	trackersync.Status
	Settings *models.TrackerSyncSettings `json:"settings"`
}

// Status returns the update state together with the saved settings.
func (h *TrackersHandler) Status(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load tracker settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load tracker settings")
		return
	}

	RespondJSON(w, http.StatusOK, trackerStatusResponse{
		Status:   h.service.Status(),
		Settings: settings,
	})
}

// TriggerUpdate runs a manual update and waits for it to finish.
func (h *TrackersHandler) TriggerUpdate(w http.ResponseWriter, r *http.Request) {
	run, err := h.service.RunUpdate(r.Context())
	if err != nil {
		status, message := updateErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Msg("manual tracker update failed")
		}
		if run != nil {
			RespondJSON(w, status, struct {
				ErrorResponse
				Run *trackersync.RunResult `json:"run"`
			}{ErrorResponse{Error: message}, run})
			return
		}
		RespondError(w, status, message)
		return
	}

	RespondJSON(w, http.StatusOK, run)
}

func updateErrorStatus(err error) (int, string) {
	var persistErr *trackersync.PersistError
	switch {
	case errors.Is(err, trackersync.ErrAlreadyInProgress):
		return http.StatusConflict, "Tracker update already in progress"
	case errors.Is(err, trackersync.ErrNoSourcesConfigured):
		return http.StatusBadRequest, "No tracker sources configured"
	case errors.Is(err, trackersync.ErrNoTrackersFetched):
		return http.StatusBadGateway, "No trackers could be fetched from any source"
	case errors.As(err, &persistErr):
		return http.StatusBadGateway, "Failed to update the download engine: " + persistErr.Error()
	default:
		return http.StatusInternalServerError, "Tracker update failed"
	}
}

// History returns recent runs, newest first. ?limit=N trims the list.
func (h *TrackersHandler) History(w http.ResponseWriter, r *http.Request) {
	runs := h.service.History()
	if runs == nil {
		runs = []trackersync.RunResult{}
	}

	if limitParam := strings.TrimSpace(r.URL.Query().Get("limit")); limitParam != "" {
		if limit, err := strconv.Atoi(limitParam); err == nil && limit > 0 && limit < len(runs) {
			runs = runs[:limit]
		}
	}

	RespondJSON(w, http.StatusOK, runs)
}

func (h *TrackersHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.Get(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to load tracker settings")
		RespondError(w, http.StatusInternalServerError, "Failed to load tracker settings")
		return
	}

	RespondJSON(w, http.StatusOK, settings)
}

// UpdateSettings stores a partial settings update and reschedules auto updates.
func (h *TrackersHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var input models.TrackerSyncSettingsInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		log.Warn().Err(err).Msg("failed to decode tracker settings request")
		RespondError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if input.Interval != nil && !trackerlist.ParseInterval(*input.Interval).Valid() {
		RespondError(w, http.StatusBadRequest, "Interval must be one of 1d, 1w or 1m")
		return
	}

	if input.Sources != nil {
		for _, source := range *input.Sources {
			source = strings.TrimSpace(source)
			if source != "" && !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
				RespondError(w, http.StatusBadRequest, "Tracker sources must be http or https URLs")
				return
			}
		}
	}

	settings, err := h.settings.Update(r.Context(), &input)
	if err != nil {
		log.Error().Err(err).Msg("failed to update tracker settings")
		RespondError(w, http.StatusInternalServerError, "Failed to update tracker settings")
		return
	}

	h.service.CheckAndMaybeStart(context.WithoutCancel(r.Context()))

	RespondJSON(w, http.StatusOK, settings)
}
