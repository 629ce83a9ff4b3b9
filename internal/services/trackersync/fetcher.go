// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackersync

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trackersync/internal/buildinfo"
	"github.com/autobrr/trackersync/internal/trackerlist"
)

const (
	DefaultFetchTimeout = 10 * time.Second

	maxTrackerListBytes int64 = 4 << 20
)

// Fetcher downloads and parses remote tracker lists.
type Fetcher struct {
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// NewFetcher creates a Fetcher. A nil client uses a fresh http.Client and a
// non-positive timeout falls back to DefaultFetchTimeout.
func NewFetcher(httpClient *http.Client, timeout time.Duration) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &Fetcher{
		httpClient: httpClient,
		timeout:    timeout,
		userAgent:  buildinfo.UserAgent,
	}
}

// Fetch retrieves a single source and returns the trackers it lists.
func (f *Fetcher) Fetch(ctx context.Context, source string) ([]string, error) {
	log.Info().Str("source", source).Msg("trackersync: fetching tracker list")

	trackers, err := f.fetch(ctx, source)
	if err != nil {
		log.Warn().Err(err).Str("source", source).Msg("trackersync: failed to fetch tracker list")
		return nil, err
	}

	log.Info().Str("source", source).Int("count", len(trackers)).Msg("trackersync: fetched trackers")
	return trackers, nil
}

func (f *Fetcher) fetch(ctx context.Context, source string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, &FetchError{Source: source, Kind: FetchErrorTransport, Err: err}
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, transportError(source, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &FetchError{Source: source, Kind: FetchErrorTransport, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxTrackerListBytes+1))
	if err != nil {
		return nil, transportError(source, errors.Wrap(err, "read body"))
	}
	if int64(len(data)) > maxTrackerListBytes {
		return nil, &FetchError{
			Source: source,
			Kind:   FetchErrorTransport,
			Err:    errors.Errorf("response exceeded %d bytes", maxTrackerListBytes),
		}
	}
	if len(data) == 0 {
		return nil, &FetchError{Source: source, Kind: FetchErrorEmptyResponse}
	}

	return trackerlist.Parse(string(data)), nil
}

func transportError(source string, err error) *FetchError {
	kind := FetchErrorTransport
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = FetchErrorTimeout
	}
	return &FetchError{Source: source, Kind: kind, Err: err}
}
