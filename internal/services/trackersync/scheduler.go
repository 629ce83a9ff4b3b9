// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackersync

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/trackersync/internal/trackerlist"
)

// ArmNext schedules the next update one interval from now. Unknown intervals
// leave the current schedule untouched.
func (s *Service) ArmNext(ctx context.Context) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("trackersync: failed to load settings for scheduling")
		return
	}
	s.armNext(settings.Interval)
}

func (s *Service) armNext(interval trackerlist.Interval) {
	delay, ok := interval.Duration()
	if !ok {
		return
	}

	s.arm(delay, TriggerScheduled)
	log.Info().Dur("delay", delay).Str("interval", string(interval)).Msg("trackersync: next update scheduled")
}

// CheckAndMaybeStart decides at startup (or after a settings change) whether
// an update is due now or should wait for the next interval.
func (s *Service) CheckAndMaybeStart(ctx context.Context) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		log.Error().Err(err).Msg("trackersync: failed to load settings for auto update check")
		return
	}

	if !settings.AutoUpdate {
		s.cancelTimer()
		return
	}

	interval, ok := settings.Interval.Duration()
	if !ok {
		log.Warn().Str("interval", string(settings.Interval)).Msg("trackersync: unknown update interval, auto update not scheduled")
		return
	}

	due := settings.LastUpdateAt == nil || s.now().Sub(*settings.LastUpdateAt) >= interval
	if due {
		s.arm(s.cfg.StartupDelay, TriggerStartup)
		log.Info().Dur("delay", s.cfg.StartupDelay).Msg("trackersync: tracker update due, starting shortly")
		return
	}

	s.armNext(settings.Interval)
}

// NextRunAt returns when the armed update fires.
func (s *Service) NextRunAt() (time.Time, bool) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer == nil {
		return time.Time{}, false
	}
	return s.nextRunAt, true
}

// arm replaces any armed run with one firing after delay.
func (s *Service) arm(delay time.Duration, trigger Trigger) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
	}

	s.timerGen++
	gen := s.timerGen
	s.nextRunAt = s.now().Add(delay)
	s.timer = s.afterFunc(delay, func() {
		s.fire(gen, trigger)
	})
}

func (s *Service) fire(gen uint64, trigger Trigger) {
	s.timerMu.Lock()
	if s.timerGen != gen {
		// replaced or cancelled after the timer had already fired
		s.timerMu.Unlock()
		return
	}
	s.timer = nil
	s.nextRunAt = time.Time{}
	s.timerMu.Unlock()

	if _, err := s.runUpdate(s.baseContext(), trigger); err != nil {
		log.Debug().Err(err).Str("trigger", string(trigger)).Msg("trackersync: scheduled update did not complete")
	}
}

func (s *Service) cancelTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		log.Debug().Msg("trackersync: auto update cancelled")
	}
	s.timerGen++
	s.nextRunAt = time.Time{}
}
