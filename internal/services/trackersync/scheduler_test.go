// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackersync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

func TestCheckAndMaybeStart(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name      string
		settings  models.TrackerSyncSettings
		wantDelay time.Duration
		wantArmed bool
	}{
		{
			name:      "never updated starts after grace period",
			settings:  models.TrackerSyncSettings{AutoUpdate: true, Interval: trackerlist.IntervalDaily},
			wantDelay: 5 * time.Second,
			wantArmed: true,
		},
		{
			name: "overdue starts after grace period",
			settings: models.TrackerSyncSettings{
				AutoUpdate:   true,
				Interval:     trackerlist.IntervalDaily,
				LastUpdateAt: ago(25 * time.Hour),
			},
			wantDelay: 5 * time.Second,
			wantArmed: true,
		},
		{
			name: "not due arms a full interval",
			settings: models.TrackerSyncSettings{
				AutoUpdate:   true,
				Interval:     trackerlist.IntervalWeekly,
				LastUpdateAt: ago(time.Hour),
			},
			wantDelay: 7 * 24 * time.Hour,
			wantArmed: true,
		},
		{
			name:     "disabled does nothing",
			settings: models.TrackerSyncSettings{AutoUpdate: false, Interval: trackerlist.IntervalDaily},
		},
		{
			name:     "unknown interval does nothing",
			settings: models.TrackerSyncSettings{AutoUpdate: true, Interval: "2h"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := &fakeSettings{settings: tt.settings}
			svc, clock := newTestService(t, settings, &fakeEngine{}, &fakeFetcher{})
			clock.now = now

			svc.CheckAndMaybeStart(context.Background())

			if !tt.wantArmed {
				assert.Empty(t, clock.timers)
				_, ok := svc.NextRunAt()
				assert.False(t, ok)
				return
			}

			require.Len(t, clock.timers, 1)
			assert.Equal(t, tt.wantDelay, clock.last().delay)

			next, ok := svc.NextRunAt()
			require.True(t, ok)
			assert.Equal(t, now.Add(tt.wantDelay), next)
		})
	}
}

func TestCheckAndMaybeStart_DisableCancelsArmedRun(t *testing.T) {
	settings := &fakeSettings{settings: models.TrackerSyncSettings{
		AutoUpdate: true,
		Interval:   trackerlist.IntervalDaily,
	}}
	svc, clock := newTestService(t, settings, &fakeEngine{}, &fakeFetcher{})

	svc.CheckAndMaybeStart(context.Background())
	armed := clock.last()
	require.NotNil(t, armed)

	settings.settings.AutoUpdate = false
	svc.CheckAndMaybeStart(context.Background())

	assert.True(t, armed.stopped)
	_, ok := svc.NextRunAt()
	assert.False(t, ok)
}

func TestArmNext_InvalidIntervalKeepsExistingTimer(t *testing.T) {
	settings := &fakeSettings{settings: models.TrackerSyncSettings{
		AutoUpdate: true,
		Interval:   trackerlist.IntervalMonthly,
	}}
	svc, clock := newTestService(t, settings, &fakeEngine{}, &fakeFetcher{})

	svc.ArmNext(context.Background())
	require.Len(t, clock.timers, 1)
	assert.Equal(t, 30*24*time.Hour, clock.last().delay)

	settings.settings.Interval = "fortnightly"
	svc.ArmNext(context.Background())

	require.Len(t, clock.timers, 1)
	assert.False(t, clock.last().stopped)
}

func TestArmNext_ReplacesPreviousTimer(t *testing.T) {
	settings := &fakeSettings{settings: models.TrackerSyncSettings{Interval: trackerlist.IntervalDaily}}
	svc, clock := newTestService(t, settings, &fakeEngine{}, &fakeFetcher{})

	svc.ArmNext(context.Background())
	svc.ArmNext(context.Background())

	require.Len(t, clock.timers, 2)
	assert.True(t, clock.timers[0].stopped)
	assert.False(t, clock.timers[1].stopped)
}

func TestScheduledFireRunsUpdate(t *testing.T) {
	settings := &fakeSettings{settings: models.TrackerSyncSettings{
		AutoUpdate: true,
		Interval:   trackerlist.IntervalDaily,
		Sources:    []string{srcA},
	}}
	engine := &fakeEngine{}
	fetcher := &fakeFetcher{results: map[string][]string{srcA: {"udp://a:1/announce"}}}
	svc, clock := newTestService(t, settings, engine, fetcher)

	svc.Start(context.Background())
	startup := clock.last()
	require.NotNil(t, startup)
	assert.Equal(t, 5*time.Second, startup.delay)

	startup.fn()

	assert.Equal(t, "udp://a:1/announce", engine.option())
	history := svc.History()
	require.Len(t, history, 1)
	assert.Equal(t, TriggerStartup, history[0].Trigger)

	require.Len(t, clock.timers, 2)
	assert.Equal(t, 24*time.Hour, clock.last().delay)
}

func TestStaleTimerDoesNotRun(t *testing.T) {
	settings := &fakeSettings{settings: models.TrackerSyncSettings{
		AutoUpdate: true,
		Interval:   trackerlist.IntervalDaily,
		Sources:    []string{srcA},
	}}
	engine := &fakeEngine{}
	fetcher := &fakeFetcher{results: map[string][]string{srcA: {"udp://a:1/announce"}}}
	svc, clock := newTestService(t, settings, engine, fetcher)

	svc.CheckAndMaybeStart(context.Background())
	stale := clock.last()
	svc.Stop()

	stale.fn()

	assert.Empty(t, engine.option())
	assert.Empty(t, svc.History())
}
