// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trackersync keeps a download engine's tracker list in sync with a
// set of remote tracker lists.
package trackersync

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/trackersync/internal/models"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

// BTTrackerOption is the engine option holding the comma separated tracker list.
const BTTrackerOption = "bt-tracker"

// SettingsStore provides the auto update configuration and records completed runs.
type SettingsStore interface {
	Get(ctx context.Context) (*models.TrackerSyncSettings, error)
	SetLastUpdateTime(ctx context.Context, ts time.Time) error
}

// OptionClient reads and writes the download engine's global options.
type OptionClient interface {
	GetGlobalOption(ctx context.Context) (map[string]string, error)
	SetGlobalOption(ctx context.Context, key, value string) error
}

// SourceFetcher retrieves the trackers listed by one source.
type SourceFetcher interface {
	Fetch(ctx context.Context, source string) ([]string, error)
}

// Config controls timing of the update cycle.
type Config struct {
	StartupDelay     time.Duration
	FetchTimeout     time.Duration
	// EngineTimeout bounds each read and write of the engine option.
	EngineTimeout    time.Duration
	FetchConcurrency int
	HistorySize      int
}

const (
	defaultHistorySize      = 20
	defaultEngineTimeout    = 30 * time.Second
	defaultFetchConcurrency = 8
)

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		StartupDelay:     5 * time.Second,
		FetchTimeout:     DefaultFetchTimeout,
		EngineTimeout:    defaultEngineTimeout,
		FetchConcurrency: defaultFetchConcurrency,
		HistorySize:      defaultHistorySize,
	}
}

// Trigger records what started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerStartup   Trigger = "startup"
)

// RunOutcome is the high-level result of a run.
type RunOutcome string

const (
	RunOutcomeSucceeded RunOutcome = "succeeded"
	RunOutcomeFailed    RunOutcome = "failed"
)

// SourceResult describes what a single source contributed to a run.
type SourceResult struct {
	URL       string         `json:"url"`
	Trackers  int            `json:"trackers"`
	Error     string         `json:"error,omitempty"`
	ErrorKind FetchErrorKind `json:"errorKind,omitempty"`
}

// RunResult summarises one update attempt.
type RunResult struct {
	ID              string         `json:"id"`
	Trigger         Trigger        `json:"trigger"`
	Outcome         RunOutcome     `json:"outcome"`
	Error           string         `json:"error,omitempty"`
	StartedAt       time.Time      `json:"startedAt"`
	FinishedAt      time.Time      `json:"finishedAt"`
	Sources         []SourceResult `json:"sources"`
	TrackersFetched int            `json:"trackersFetched"`
	TrackersAdded   int            `json:"trackersAdded"`
	TrackersTotal   int            `json:"trackersTotal"`
	Changed         bool           `json:"changed"`
	Checksum        string         `json:"checksum,omitempty"`
}

// Status is a snapshot of the service state.
type Status struct {
	Updating  bool       `json:"updating"`
	NextRunAt *time.Time `json:"nextRunAt,omitempty"`
	LastRun   *RunResult `json:"lastRun,omitempty"`
}

// Timer is the cancellable handle returned when a deferred run is armed.
type Timer interface {
	Stop() bool
}

// Service fetches tracker lists, merges them into the engine option and
// schedules the next run. At most one update runs at a time.
type Service struct {
	cfg      Config
	settings SettingsStore
	engine   OptionClient
	fetcher  SourceFetcher
	metrics  *Metrics

	updating atomic.Bool

	timerMu   sync.Mutex
	timer     Timer
	timerGen  uint64
	nextRunAt time.Time

	ctxMu   sync.RWMutex
	baseCtx context.Context

	historyMu sync.RWMutex
	history   []RunResult

	now       func() time.Time
	afterFunc func(time.Duration, func()) Timer
}

// Option customises a Service.
type Option func(*Service)

// WithFetcher replaces the HTTP fetcher.
func WithFetcher(f SourceFetcher) Option {
	return func(s *Service) {
		s.fetcher = f
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService constructs a Service.
func NewService(cfg Config, settings SettingsStore, engine OptionClient, opts ...Option) *Service {
	if cfg.StartupDelay <= 0 {
		cfg.StartupDelay = DefaultConfig().StartupDelay
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}
	if cfg.EngineTimeout <= 0 {
		cfg.EngineTimeout = DefaultConfig().EngineTimeout
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultConfig().FetchConcurrency
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultConfig().HistorySize
	}

	s := &Service{
		cfg:      cfg,
		settings: settings,
		engine:   engine,
	}
	s.now = time.Now
	s.afterFunc = func(d time.Duration, fn func()) Timer {
		return time.AfterFunc(d, fn)
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.fetcher == nil {
		s.fetcher = NewFetcher(nil, cfg.FetchTimeout)
	}

	return s
}

// Start remembers ctx for scheduled runs and performs the startup check.
func (s *Service) Start(ctx context.Context) {
	if s == nil {
		return
	}
	s.setBaseContext(ctx)
	s.CheckAndMaybeStart(ctx)
}

// Stop cancels any armed run.
func (s *Service) Stop() {
	if s == nil {
		return
	}
	s.cancelTimer()
}

// IsUpdating reports whether an update is currently running.
func (s *Service) IsUpdating() bool {
	return s.updating.Load()
}

// RunUpdate performs a manual update. Once started it runs to completion even
// if ctx is cancelled.
func (s *Service) RunUpdate(ctx context.Context) (*RunResult, error) {
	return s.runUpdate(ctx, TriggerManual)
}

func (s *Service) runUpdate(ctx context.Context, trigger Trigger) (*RunResult, error) {
	ctx = context.WithoutCancel(ctx)

	if s.updating.Load() {
		log.Warn().Str("trigger", string(trigger)).Msg("trackersync: update already in progress")
		return nil, ErrAlreadyInProgress
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("trackersync: failed to load tracker settings")
		return nil, errors.Wrap(err, "load tracker settings")
	}

	sources := settings.Sources
	if len(sources) == 0 {
		log.Warn().Msg("trackersync: no tracker sources configured")
		return nil, ErrNoSourcesConfigured
	}

	if !s.updating.CompareAndSwap(false, true) {
		log.Warn().Str("trigger", string(trigger)).Msg("trackersync: update already in progress")
		return nil, ErrAlreadyInProgress
	}
	s.metrics.setInProgress(true)
	defer func() {
		s.updating.Store(false)
		s.metrics.setInProgress(false)
	}()

	run := &RunResult{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		StartedAt: s.now(),
	}

	log.Info().
		Str("runID", run.ID).
		Str("trigger", string(trigger)).
		Int("sources", len(sources)).
		Msg("trackersync: starting tracker update")

	err = s.execute(ctx, run, sources)
	s.finish(run, err)

	if err != nil {
		log.Error().Err(err).Str("runID", run.ID).Msg("trackersync: tracker update failed")
		return run, err
	}

	if err := s.settings.SetLastUpdateTime(ctx, run.FinishedAt); err != nil {
		log.Warn().Err(err).Str("runID", run.ID).Msg("trackersync: failed to record last update time")
	}

	log.Info().
		Str("runID", run.ID).
		Int("fetched", run.TrackersFetched).
		Int("added", run.TrackersAdded).
		Int("total", run.TrackersTotal).
		Msg("trackersync: tracker update completed successfully")

	current, err := s.settings.Get(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("trackersync: failed to reload settings, next update not scheduled")
		return run, nil
	}
	if current.AutoUpdate {
		s.armNext(current.Interval)
	}

	return run, nil
}

func (s *Service) execute(ctx context.Context, run *RunResult, sources []string) error {
	batches := s.fetchAll(ctx, run, sources)

	var all []string
	for _, batch := range batches {
		all = append(all, batch...)
	}
	run.TrackersFetched = len(all)

	if len(all) == 0 {
		return ErrNoTrackersFetched
	}

	log.Info().Str("runID", run.ID).Int("count", len(all)).Msg("trackersync: fetched total trackers")

	return s.persist(ctx, run, all)
}

// fetchAll fetches sources concurrently, at most FetchConcurrency at a time.
// Failed sources contribute an empty batch; results keep the order of sources.
func (s *Service) fetchAll(ctx context.Context, run *RunResult, sources []string) [][]string {
	batches := make([][]string, len(sources))
	run.Sources = make([]SourceResult, len(sources))

	var g errgroup.Group
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, source := range sources {
		g.Go(func() error {
			result := SourceResult{URL: source}

			trackers, err := s.fetcher.Fetch(ctx, source)
			if err != nil {
				result.Error = err.Error()
				result.ErrorKind = FetchErrorTransport
				var fetchErr *FetchError
				if errors.As(err, &fetchErr) {
					result.ErrorKind = fetchErr.Kind
				}
				s.metrics.observeSource(string(result.ErrorKind))
				trackers = nil
			} else {
				s.metrics.observeSource("success")
			}

			result.Trackers = len(trackers)
			batches[i] = trackers
			run.Sources[i] = result
			return nil
		})
	}
	// per-source failures are absorbed above, so Wait only joins
	_ = g.Wait()

	return batches
}

func (s *Service) persist(ctx context.Context, run *RunResult, trackers []string) error {
	readCtx, cancel := context.WithTimeout(ctx, s.cfg.EngineTimeout)
	options, err := s.engine.GetGlobalOption(readCtx)
	cancel()
	if err != nil {
		return &PersistError{Op: PersistOpRead, Err: err}
	}

	current := options[BTTrackerOption]
	merged, changed := trackerlist.Merge(current, trackers)

	existing := len(trackerlist.Dedup(trackerlist.Split(current)))
	total := len(trackerlist.Split(merged))

	run.Changed = changed
	run.TrackersTotal = total
	run.TrackersAdded = total - existing
	run.Checksum = strconv.FormatUint(xxhash.Sum64String(merged), 16)

	if !changed {
		log.Info().Str("runID", run.ID).Int("total", total).Msg("trackersync: engine tracker list already up to date")
		return nil
	}

	writeCtx, cancel := context.WithTimeout(ctx, s.cfg.EngineTimeout)
	defer cancel()

	if err := s.engine.SetGlobalOption(writeCtx, BTTrackerOption, merged); err != nil {
		return &PersistError{Op: PersistOpWrite, Err: err}
	}
	return nil
}

func (s *Service) finish(run *RunResult, err error) {
	run.FinishedAt = s.now()
	run.Outcome = RunOutcomeSucceeded
	if err != nil {
		run.Outcome = RunOutcomeFailed
		run.Error = err.Error()
	}

	s.metrics.observeRun(run)
	s.recordRun(*run)
}

func (s *Service) recordRun(run RunResult) {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	s.history = append(s.history, run)
	if overflow := len(s.history) - s.cfg.HistorySize; overflow > 0 {
		s.history = append([]RunResult(nil), s.history[overflow:]...)
	}
}

// History returns recorded runs, newest first.
func (s *Service) History() []RunResult {
	s.historyMu.RLock()
	defer s.historyMu.RUnlock()

	out := make([]RunResult, len(s.history))
	for i, run := range s.history {
		out[len(s.history)-1-i] = run
	}
	return out
}

// Status returns the current update state.
func (s *Service) Status() Status {
	status := Status{Updating: s.IsUpdating()}

	if next, ok := s.NextRunAt(); ok {
		status.NextRunAt = &next
	}

	s.historyMu.RLock()
	if n := len(s.history); n > 0 {
		last := s.history[n-1]
		status.LastRun = &last
	}
	s.historyMu.RUnlock()

	return status
}

func (s *Service) setBaseContext(ctx context.Context) {
	s.ctxMu.Lock()
	defer s.ctxMu.Unlock()
	s.baseCtx = ctx
}

func (s *Service) baseContext() context.Context {
	s.ctxMu.RLock()
	defer s.ctxMu.RUnlock()
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}
