// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackersync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_Fetch(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		want       []string
		wantKind   FetchErrorKind
		wantStatus int
	}{
		{
			name:   "parses trackers",
			status: http.StatusOK,
			body:   "udp://a:1/announce\n\n# comment\nhttps://b/announce\r\nmagnet:?xt=1\n",
			want:   []string{"udp://a:1/announce", "https://b/announce"},
		},
		{
			name:   "whitespace only body yields empty list",
			status: http.StatusOK,
			body:   "  \n\n",
			want:   []string{},
		},
		{
			name:     "empty body",
			status:   http.StatusOK,
			body:     "",
			wantKind: FetchErrorEmptyResponse,
		},
		{
			name:       "server error",
			status:     http.StatusInternalServerError,
			body:       "boom",
			wantKind:   FetchErrorTransport,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "text/plain", r.Header.Get("Accept"))
				assert.NotEmpty(t, r.Header.Get("User-Agent"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			f := NewFetcher(srv.Client(), time.Second)
			got, err := f.Fetch(context.Background(), srv.URL)

			if tt.wantKind != "" {
				require.Error(t, err)
				var fetchErr *FetchError
				require.True(t, errors.As(err, &fetchErr))
				assert.Equal(t, tt.wantKind, fetchErr.Kind)
				assert.Equal(t, tt.wantStatus, fetchErr.StatusCode)
				assert.Equal(t, srv.URL, fetchErr.Source)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetcher_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(srv.Client(), 50*time.Millisecond)
	_, err := f.Fetch(context.Background(), srv.URL)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, FetchErrorTimeout, fetchErr.Kind)
}

func TestFetcher_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := NewFetcher(nil, time.Second)
	_, err := f.Fetch(context.Background(), url)

	var fetchErr *FetchError
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, FetchErrorTransport, fetchErr.Kind)
	assert.False(t, errors.Is(err, &FetchError{Source: url, Kind: FetchErrorTimeout}))
}

func TestFetchError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *FetchError
		wantMsg string
	}{
		{
			name:    "status code",
			err:     &FetchError{Source: "https://x/list", Kind: FetchErrorTransport, StatusCode: 404},
			wantMsg: "tracker source https://x/list returned status 404",
		},
		{
			name:    "empty response",
			err:     &FetchError{Source: "https://x/list", Kind: FetchErrorEmptyResponse},
			wantMsg: "tracker source https://x/list returned an empty response",
		},
		{
			name:    "wrapped error",
			err:     &FetchError{Source: "https://x/list", Kind: FetchErrorTimeout, Err: context.DeadlineExceeded},
			wantMsg: "tracker source https://x/list: timeout: context deadline exceeded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}
