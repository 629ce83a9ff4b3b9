// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent exposes qBittorrent's additional-trackers preference
// through the same global option interface aria2 offers.
package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trackersync/internal/trackerlist"
)

// BTTrackerOption mirrors aria2's option name so callers can stay engine agnostic.
const BTTrackerOption = "bt-tracker"

var addTrackersMinVersion = semver.MustParse("2.0.0")

var ErrUnsupportedOption = errors.New("option not supported by qBittorrent")

// api is the subset of the go-qbittorrent client used here.
type api interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetAppPreferencesCtx(ctx context.Context) (qbt.AppPreferences, error)
	SetPreferencesCtx(ctx context.Context, prefs map[string]any) error
}

type Config struct {
	Host          string
	Username      string
	Password      string
	BasicUser     string
	BasicPass     string
	TLSSkipVerify bool
	Timeout       time.Duration
	LoginAttempts uint
	LoginDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.LoginAttempts == 0 {
		c.LoginAttempts = 3
	}
	if c.LoginDelay <= 0 {
		c.LoginDelay = time.Second
	}
	return c
}

type Client struct {
	api  api
	host string

	mu                  sync.RWMutex
	webAPIVersion       string
	supportsAddTrackers bool
}

// NewClient logs in to the WebUI and detects which preferences are available.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		BasicUser:     cfg.BasicUser,
		BasicPass:     cfg.BasicPass,
		Timeout:       int(cfg.Timeout.Seconds()),
		TLSSkipVerify: cfg.TLSSkipVerify,
	})

	return newClient(ctx, qbtClient, cfg)
}

func newClient(ctx context.Context, a api, cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	err := retry.Do(
		func() error { return a.LoginCtx(ctx) },
		retry.Context(ctx),
		retry.Attempts(cfg.LoginAttempts),
		retry.Delay(cfg.LoginDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("host", cfg.Host).Msg("qBittorrent login failed, retrying")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	client := &Client{api: a, host: cfg.Host}

	if err := client.RefreshCapabilities(ctx); err != nil {
		return nil, err
	}

	log.Debug().
		Str("host", cfg.Host).
		Str("webAPIVersion", client.GetWebAPIVersion()).
		Bool("supportsAddTrackers", client.SupportsAddTrackers()).
		Bool("tlsSkipVerify", cfg.TLSSkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

// RefreshCapabilities fetches the WebAPI version and recalculates feature support.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return errors.Wrap(err, "get web API version")
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return errors.New("web API version is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return nil
	}

	c.supportsAddTrackers = !v.LessThan(addTrackersMinVersion)
	return nil
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsAddTrackers() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsAddTrackers
}

// GetGlobalOption reports the additional trackers preference as a comma
// separated bt-tracker value.
func (c *Client) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	prefs, err := c.api.GetAppPreferencesCtx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get app preferences: %w", err)
	}

	var trackers []string
	for _, line := range strings.Split(prefs.AddTrackers, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			trackers = append(trackers, line)
		}
	}

	return map[string]string{BTTrackerOption: strings.Join(trackers, ",")}, nil
}

// SetGlobalOption writes bt-tracker into the additional trackers preference
// and enables it. Other keys are rejected.
func (c *Client) SetGlobalOption(ctx context.Context, key, value string) error {
	if key != BTTrackerOption {
		return errors.Wrap(ErrUnsupportedOption, key)
	}
	if !c.SupportsAddTrackers() {
		return errors.Errorf("qBittorrent WebAPI %s does not support additional trackers", c.GetWebAPIVersion())
	}

	trackers := trackerlist.Split(value)
	prefs := map[string]any{
		"add_trackers":         strings.Join(trackers, "\n"),
		"add_trackers_enabled": true,
	}
	if err := c.api.SetPreferencesCtx(ctx, prefs); err != nil {
		return fmt.Errorf("failed to set preferences: %w", err)
	}

	log.Debug().Str("host", c.host).Int("trackers", len(trackers)).Msg("Updated qBittorrent additional trackers")
	return nil
}
