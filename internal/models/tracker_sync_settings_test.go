// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trackersync/internal/database"
	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

func setupStore(t *testing.T, defaults *models.TrackerSyncSettings) *models.TrackerSyncSettingsStore {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "trackersync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return models.NewTrackerSyncSettingsStore(db, defaults)
}

func TestTrackerSyncSettingsStore_GetReturnsDefaults(t *testing.T) {
	store := setupStore(t, &models.TrackerSyncSettings{
		AutoUpdate: true,
		Interval:   trackerlist.IntervalWeekly,
		Sources:    []string{" https://lists.example/best.txt ", "", "https://lists.example/best.txt"},
	})

	settings, err := store.Get(context.Background())
	require.NoError(t, err)

	assert.True(t, settings.AutoUpdate)
	assert.Equal(t, trackerlist.IntervalWeekly, settings.Interval)
	assert.Equal(t, []string{"https://lists.example/best.txt"}, settings.Sources)
	assert.Nil(t, settings.LastUpdateAt)
}

func TestTrackerSyncSettingsStore_Update(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, nil)

	enabled := true
	interval := "monthly"
	sources := []string{"https://a.example/list.txt", "https://b.example/list.txt"}

	updated, err := store.Update(ctx, &models.TrackerSyncSettingsInput{
		AutoUpdate: &enabled,
		Interval:   &interval,
		Sources:    &sources,
	})
	require.NoError(t, err)
	assert.True(t, updated.AutoUpdate)
	assert.Equal(t, trackerlist.IntervalMonthly, updated.Interval)
	assert.Equal(t, sources, updated.Sources)

	disabled := false
	partial, err := store.Update(ctx, &models.TrackerSyncSettingsInput{AutoUpdate: &disabled})
	require.NoError(t, err)
	assert.False(t, partial.AutoUpdate)
	assert.Equal(t, trackerlist.IntervalMonthly, partial.Interval)
	assert.Equal(t, sources, partial.Sources)

	_, err = store.Update(ctx, nil)
	require.Error(t, err)
}

func TestTrackerSyncSettingsStore_SetLastUpdateTime(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, nil)

	ts := time.UnixMilli(1_700_000_000_123)
	require.NoError(t, store.SetLastUpdateTime(ctx, ts))

	settings, err := store.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, settings.LastUpdateAt)
	assert.Equal(t, ts.UnixMilli(), settings.LastUpdateAt.UnixMilli())
	assert.Equal(t, models.DefaultTrackerSources, settings.Sources)
}

func TestTrackerSyncSettingsStore_SeedKeepsExistingRow(t *testing.T) {
	ctx := context.Background()
	store := setupStore(t, nil)

	interval := "1w"
	_, err := store.Update(ctx, &models.TrackerSyncSettingsInput{Interval: &interval})
	require.NoError(t, err)

	require.NoError(t, store.Seed(ctx))

	settings, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, trackerlist.IntervalWeekly, settings.Interval)
}
