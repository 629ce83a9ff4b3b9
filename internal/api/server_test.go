// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trackersync/internal/config"
	"github.com/autobrr/trackersync/internal/database"
	"github.com/autobrr/trackersync/internal/domain"
	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/services/trackersync"
)

type stubTrackerSync struct {
	checks int
}

func (s *stubTrackerSync) RunUpdate(context.Context) (*trackersync.RunResult, error) {
	return &trackersync.RunResult{ID: "run-1", Outcome: trackersync.RunOutcomeSucceeded}, nil
}

func (s *stubTrackerSync) Status() trackersync.Status {
	return trackersync.Status{}
}

func (s *stubTrackerSync) History() []trackersync.RunResult {
	return nil
}

func (s *stubTrackerSync) CheckAndMaybeStart(context.Context) {
	s.checks++
}

func newTestServer(t *testing.T, baseURL string) (*Server, *stubTrackerSync) {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	svc := &stubTrackerSync{}
	server := NewServer(&Dependencies{
		Config: &config.AppConfig{
			Config: &domain.Config{BaseURL: baseURL},
		},
		Version:         "test",
		TrackerSync:     svc,
		TrackerSettings: models.NewTrackerSyncSettingsStore(db, nil),
		DB:              db,
	})
	return server, svc
}

func TestRoutesRegistered(t *testing.T) {
	server, _ := newTestServer(t, "/")
	router, err := server.Handler()
	require.NoError(t, err)

	var routes []string
	err = chi.Walk(router, func(method string, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+strings.TrimSuffix(route, "/"))
		return nil
	})
	require.NoError(t, err)
	sort.Strings(routes)

	for _, want := range []string{
		"GET /api/trackers/status",
		"POST /api/trackers/update",
		"GET /api/trackers/history",
		"GET /api/trackers/settings",
		"PUT /api/trackers/settings",
		"GET /api/version",
		"GET /health",
		"GET /healthz/readiness",
		"GET /healthz/liveness",
	} {
		assert.Contains(t, routes, want)
	}
}

func TestBaseURLPrefix(t *testing.T) {
	server, _ := newTestServer(t, "/trackersync")
	router, err := server.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/trackersync/api/trackers/settings", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var settings models.TrackerSyncSettings
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&settings))
	assert.Equal(t, models.DefaultTrackerSources, settings.Sources)
}

func TestSettingsRoundTripReschedules(t *testing.T) {
	server, svc := newTestServer(t, "/")
	router, err := server.Handler()
	require.NoError(t, err)

	body := `{"autoUpdate":true,"interval":"weekly","sources":["https://lists.example/a.txt"]}`
	req := httptest.NewRequest(http.MethodPut, "/api/trackers/settings", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, svc.checks)

	req = httptest.NewRequest(http.MethodGet, "/api/trackers/status", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Updating bool                       `json:"updating"`
		Settings models.TrackerSyncSettings `json:"settings"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.False(t, status.Updating)
	assert.True(t, status.Settings.AutoUpdate)
	assert.Equal(t, "1w", string(status.Settings.Interval))
	assert.Equal(t, []string{"https://lists.example/a.txt"}, status.Settings.Sources)
}

func TestReadiness(t *testing.T) {
	server, _ := newTestServer(t, "/")
	router, err := server.Handler()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/healthz/readiness", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}
