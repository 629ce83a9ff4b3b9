// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackersync

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes Prometheus instrumentation for tracker updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	SourceFetchTotal     *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	TrackersFetched      prometheus.Gauge
	TrackersConfigured   prometheus.Gauge
	LastSuccessTimestamp prometheus.Gauge
	UpdateInProgress     prometheus.Gauge
}

// NewMetrics registers the tracker sync collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trackersync_runs_total",
			Help: "Tracker update runs by outcome",
		}, []string{"trigger", "outcome"}),
		SourceFetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trackersync_source_fetch_total",
			Help: "Tracker source fetches by result",
		}, []string{"result"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "trackersync_run_duration_seconds",
			Help:    "Duration of tracker update runs",
			Buckets: prometheus.DefBuckets,
		}),
		TrackersFetched: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trackersync_trackers_fetched",
			Help: "Trackers fetched across all sources in the last run",
		}),
		TrackersConfigured: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trackersync_trackers_configured",
			Help: "Trackers in the engine option after the last successful run",
		}),
		LastSuccessTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trackersync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful tracker update",
		}),
		UpdateInProgress: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trackersync_update_in_progress",
			Help: "1 while a tracker update is running",
		}),
	}
}

func (m *Metrics) setInProgress(running bool) {
	if m == nil {
		return
	}
	if running {
		m.UpdateInProgress.Set(1)
		return
	}
	m.UpdateInProgress.Set(0)
}

func (m *Metrics) observeSource(result string) {
	if m == nil {
		return
	}
	m.SourceFetchTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) observeRun(run *RunResult) {
	if m == nil || run == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(run.Trigger), string(run.Outcome)).Inc()
	m.RunDuration.Observe(run.FinishedAt.Sub(run.StartedAt).Seconds())
	m.TrackersFetched.Set(float64(run.TrackersFetched))
	if run.Outcome == RunOutcomeSucceeded {
		m.TrackersConfigured.Set(float64(run.TrackersTotal))
		m.LastSuccessTimestamp.Set(float64(run.FinishedAt.UnixNano()) / float64(time.Second))
	}
}
