// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/services/trackersync"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

type fakeTrackerSync struct {
	run     *trackersync.RunResult
	err     error
	history []trackersync.RunResult
	checks  int
}

func (f *fakeTrackerSync) RunUpdate(context.Context) (*trackersync.RunResult, error) {
	return f.run, f.err
}

func (f *fakeTrackerSync) Status() trackersync.Status {
	return trackersync.Status{Updating: true}
}

func (f *fakeTrackerSync) History() []trackersync.RunResult {
	return f.history
}

func (f *fakeTrackerSync) CheckAndMaybeStart(context.Context) {
	f.checks++
}

type fakeSettingsStore struct {
	settings models.TrackerSyncSettings
	updates  int
}

func (f *fakeSettingsStore) Get(context.Context) (*models.TrackerSyncSettings, error) {
	s := f.settings
	return &s, nil
}

func (f *fakeSettingsStore) Update(_ context.Context, input *models.TrackerSyncSettingsInput) (*models.TrackerSyncSettings, error) {
	f.updates++
	if input.AutoUpdate != nil {
		f.settings.AutoUpdate = *input.AutoUpdate
	}
	if input.Interval != nil {
		f.settings.Interval = trackerlist.ParseInterval(*input.Interval)
	}
	if input.Sources != nil {
		f.settings.Sources = *input.Sources
	}
	s := f.settings
	return &s, nil
}

func TestTriggerUpdate_StatusCodes(t *testing.T) {
	tests := []struct {
		name       string
		run        *trackersync.RunResult
		err        error
		wantStatus int
		wantRun    bool
	}{
		{
			name:       "success",
			run:        &trackersync.RunResult{ID: "abc", Outcome: trackersync.RunOutcomeSucceeded},
			wantStatus: http.StatusOK,
			wantRun:    true,
		},
		{
			name:       "already running",
			err:        trackersync.ErrAlreadyInProgress,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "no sources",
			err:        trackersync.ErrNoSourcesConfigured,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "nothing fetched",
			run:        &trackersync.RunResult{ID: "abc", Outcome: trackersync.RunOutcomeFailed},
			err:        trackersync.ErrNoTrackersFetched,
			wantStatus: http.StatusBadGateway,
			wantRun:    true,
		},
		{
			name:       "engine write failed",
			run:        &trackersync.RunResult{ID: "abc", Outcome: trackersync.RunOutcomeFailed},
			err:        &trackersync.PersistError{Op: trackersync.PersistOpWrite, Err: errors.New("rpc down")},
			wantStatus: http.StatusBadGateway,
			wantRun:    true,
		},
		{
			name:       "settings unavailable",
			err:        errors.New("database is locked"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewTrackersHandler(&fakeTrackerSync{run: tt.run, err: tt.err}, &fakeSettingsStore{})

			rec := httptest.NewRecorder()
			h.TriggerUpdate(rec, httptest.NewRequest(http.MethodPost, "/api/trackers/update", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)

			var body map[string]any
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, "abc", body["id"])
				return
			}
			assert.NotEmpty(t, body["error"])
			if tt.wantRun {
				assert.NotNil(t, body["run"])
			}
		})
	}
}

func TestUpdateSettings(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantStatus  int
		wantUpdated bool
	}{
		{
			name:        "valid update",
			body:        `{"autoUpdate":true,"interval":"1m"}`,
			wantStatus:  http.StatusOK,
			wantUpdated: true,
		},
		{
			name:       "invalid interval",
			body:       `{"interval":"2h"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "non http source",
			body:       `{"sources":["ftp://lists.example/a.txt"]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed json",
			body:       `{"autoUpdate":`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeTrackerSync{}
			store := &fakeSettingsStore{}
			h := NewTrackersHandler(svc, store)

			rec := httptest.NewRecorder()
			h.UpdateSettings(rec, httptest.NewRequest(http.MethodPut, "/api/trackers/settings", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantUpdated {
				assert.Equal(t, 1, store.updates)
				assert.Equal(t, 1, svc.checks)
				assert.Equal(t, trackerlist.IntervalMonthly, store.settings.Interval)
				return
			}
			assert.Zero(t, store.updates)
			assert.Zero(t, svc.checks)
		})
	}
}

func TestHistoryLimit(t *testing.T) {
	svc := &fakeTrackerSync{history: []trackersync.RunResult{{ID: "3"}, {ID: "2"}, {ID: "1"}}}
	h := NewTrackersHandler(svc, &fakeSettingsStore{})

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/trackers/history?limit=2", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []trackersync.RunResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
	require.Len(t, runs, 2)
	assert.Equal(t, "3", runs[0].ID)
}

func TestHistoryEmpty(t *testing.T) {
	h := NewTrackersHandler(&fakeTrackerSync{}, &fakeSettingsStore{})

	rec := httptest.NewRecorder()
	h.History(rec, httptest.NewRequest(http.MethodGet, "/api/trackers/history", nil))

	assert.JSONEq(t, `[]`, rec.Body.String())
}
