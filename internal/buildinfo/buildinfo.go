// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import "fmt"

// Set via ldflags: -X github.com/autobrr/trackersync/internal/buildinfo.Version=v1.2.3
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

// UserAgent is sent with every tracker list request.
var UserAgent = fmt.Sprintf("trackersync/%s", Version)
