// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackersync

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrAlreadyInProgress   = errors.New("tracker update already in progress")
	ErrNoSourcesConfigured = errors.New("no tracker sources configured")
	ErrNoTrackersFetched   = errors.New("no trackers fetched from any source")
)

// FetchErrorKind classifies why a single source could not be used.
type FetchErrorKind string

const (
	FetchErrorTransport     FetchErrorKind = "transport"
	FetchErrorTimeout       FetchErrorKind = "timeout"
	FetchErrorEmptyResponse FetchErrorKind = "empty-response"
)

// FetchError is returned by the fetcher for a single source. The orchestrator
// always absorbs it into an empty result for that source.
type FetchError struct {
	Source     string
	Kind       FetchErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.Kind == FetchErrorEmptyResponse:
		return fmt.Sprintf("tracker source %s returned an empty response", e.Source)
	case e.StatusCode != 0:
		return fmt.Sprintf("tracker source %s returned status %d", e.Source, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("tracker source %s: %s: %v", e.Source, e.Kind, e.Err)
	default:
		return fmt.Sprintf("tracker source %s: %s", e.Source, e.Kind)
	}
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// PersistOp names the engine option call that failed.
type PersistOp string

const (
	PersistOpRead  PersistOp = "read"
	PersistOpWrite PersistOp = "write"
)

// PersistError reports a failed read or write of the engine's tracker option.
type PersistError struct {
	Op  PersistOp
	Err error
}

func (e *PersistError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("failed to %s bt-tracker option", e.Op)
	}
	return fmt.Sprintf("failed to %s bt-tracker option: %v", e.Op, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
