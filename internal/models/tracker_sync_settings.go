// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trackersync/internal/dbinterface"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

// DefaultTrackerSources mirrors the lists most users point at.
var DefaultTrackerSources = []string{
	"https://cdn.jsdelivr.net/gh/ngosang/trackerslist/trackers_best.txt",
}

// TrackerSyncSettings holds the auto update configuration for the tracker list.
type TrackerSyncSettings struct {
	AutoUpdate   bool                 `json:"autoUpdate"`
	Interval     trackerlist.Interval `json:"interval"`
	Sources      []string             `json:"sources"`
	LastUpdateAt *time.Time           `json:"lastUpdateAt,omitempty"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

// TrackerSyncSettingsInput is a partial update; nil fields are left unchanged.
type TrackerSyncSettingsInput struct {
	AutoUpdate *bool     `json:"autoUpdate,omitempty"`
	Interval   *string   `json:"interval,omitempty"`
	Sources    *[]string `json:"sources,omitempty"`
}

// TrackerSyncSettingsStore persists the single row of tracker sync settings.
type TrackerSyncSettingsStore struct {
	db       dbinterface.Querier
	defaults *TrackerSyncSettings
}

// NewTrackerSyncSettingsStore creates a store. defaults are returned (and
// written on first update) while no row exists; nil uses the built-in defaults.
func NewTrackerSyncSettingsStore(db dbinterface.Querier, defaults *TrackerSyncSettings) *TrackerSyncSettingsStore {
	if defaults == nil {
		defaults = DefaultTrackerSyncSettings()
	}
	return &TrackerSyncSettingsStore{db: db, defaults: defaults}
}

// DefaultTrackerSyncSettings returns the settings used before anything is saved.
func DefaultTrackerSyncSettings() *TrackerSyncSettings {
	return &TrackerSyncSettings{
		AutoUpdate: false,
		Interval:   trackerlist.IntervalDaily,
		Sources:    copyStringSlice(DefaultTrackerSources),
	}
}

// Get returns the stored settings, falling back to defaults if none exist.
func (s *TrackerSyncSettingsStore) Get(ctx context.Context) (*TrackerSyncSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT auto_update, update_interval, sources_json, last_update_ms, updated_at
		FROM tracker_sync_settings
		WHERE id = 1
	`)

	var settings TrackerSyncSettings
	var interval, sourcesJSON string
	var lastUpdate sql.NullInt64

	err := row.Scan(&settings.AutoUpdate, &interval, &sourcesJSON, &lastUpdate, &settings.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s.copyDefaults(), nil
	}
	if err != nil {
		return nil, err
	}

	settings.Interval = trackerlist.Interval(interval)
	settings.Sources = decodeSources(sourcesJSON)
	if lastUpdate.Valid {
		ts := time.UnixMilli(lastUpdate.Int64)
		settings.LastUpdateAt = &ts
	}

	return &settings, nil
}

// Update applies a partial update and returns the stored result.
func (s *TrackerSyncSettingsStore) Update(ctx context.Context, input *TrackerSyncSettingsInput) (*TrackerSyncSettings, error) {
	if input == nil {
		return nil, errors.New("input is nil")
	}

	existing, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if input.AutoUpdate != nil {
		existing.AutoUpdate = *input.AutoUpdate
	}
	if input.Interval != nil {
		existing.Interval = trackerlist.ParseInterval(*input.Interval)
	}
	if input.Sources != nil {
		existing.Sources = normalizeSources(*input.Sources)
	}

	if err := s.save(ctx, existing); err != nil {
		return nil, err
	}

	return s.Get(ctx)
}

// SetLastUpdateTime records when the tracker list was last synced successfully.
func (s *TrackerSyncSettingsStore) SetLastUpdateTime(ctx context.Context, ts time.Time) error {
	if err := s.ensureRow(ctx); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE tracker_sync_settings SET last_update_ms = ? WHERE id = 1
	`, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to store last update time: %w", err)
	}
	return nil
}

// Seed stores the defaults if no settings row exists yet.
func (s *TrackerSyncSettingsStore) Seed(ctx context.Context) error {
	return s.ensureRow(ctx)
}

func (s *TrackerSyncSettingsStore) ensureRow(ctx context.Context) error {
	sourcesJSON, err := json.Marshal(normalizeSources(s.defaults.Sources))
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO tracker_sync_settings (id, auto_update, update_interval, sources_json)
		VALUES (1, ?, ?, ?)
	`, s.defaults.AutoUpdate, string(s.defaults.Interval), string(sourcesJSON))
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Info().
			Bool("autoUpdate", s.defaults.AutoUpdate).
			Str("interval", string(s.defaults.Interval)).
			Int("sources", len(s.defaults.Sources)).
			Msg("Seeded tracker sync settings")
	}
	return nil
}

func (s *TrackerSyncSettingsStore) save(ctx context.Context, settings *TrackerSyncSettings) error {
	if err := s.ensureRow(ctx); err != nil {
		return err
	}

	sourcesJSON, err := json.Marshal(settings.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE tracker_sync_settings
		SET auto_update = ?,
		    update_interval = ?,
		    sources_json = ?
		WHERE id = 1
	`, settings.AutoUpdate, string(settings.Interval), string(sourcesJSON))
	return err
}

func (s *TrackerSyncSettingsStore) copyDefaults() *TrackerSyncSettings {
	return &TrackerSyncSettings{
		AutoUpdate: s.defaults.AutoUpdate,
		Interval:   s.defaults.Interval,
		Sources:    normalizeSources(s.defaults.Sources),
	}
}

func decodeSources(raw string) []string {
	if raw == "" || raw == "[]" {
		return []string{}
	}
	var sources []string
	if err := json.Unmarshal([]byte(raw), &sources); err != nil {
		log.Warn().Err(err).Msg("Discarding unreadable tracker sources")
		return []string{}
	}
	return sources
}

func normalizeSources(sources []string) []string {
	seen := make(map[string]struct{}, len(sources))
	out := make([]string, 0, len(sources))
	for _, src := range sources {
		trimmed := strings.TrimSpace(src)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func copyStringSlice(src []string) []string {
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}
