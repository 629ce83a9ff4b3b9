// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trackerlist parses remote tracker lists and merges them into an
// engine's comma separated tracker option.
package trackerlist

import (
	"regexp"
	"strings"
)

// acceptedSchemes lists the announce URL prefixes kept by Parse.
var acceptedSchemes = []string{"http://", "https://", "udp://"}

var lineBreak = regexp.MustCompile(`\r?\n`)

// IsTracker reports whether a trimmed line is an announce URL worth keeping.
func IsTracker(line string) bool {
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	for _, scheme := range acceptedSchemes {
		if strings.HasPrefix(line, scheme) {
			return true
		}
	}
	return false
}

// Parse extracts tracker URLs from a newline separated document, dropping
// blank lines, comments and anything without an accepted scheme.
func Parse(text string) []string {
	trackers := []string{}
	if text == "" {
		return trackers
	}

	for _, line := range lineBreak.Split(text, -1) {
		line = strings.TrimSpace(line)
		if IsTracker(line) {
			trackers = append(trackers, line)
		}
	}

	return trackers
}

// Split turns a comma separated option value into its trimmed, non-empty entries.
func Split(value string) []string {
	if value == "" {
		return nil
	}

	var out []string
	for _, entry := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(entry); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Dedup removes repeated entries keeping the first occurrence of each.
func Dedup(trackers []string) []string {
	seen := make(map[string]struct{}, len(trackers))
	out := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		tracker = strings.TrimSpace(tracker)
		if tracker == "" {
			continue
		}
		if _, exists := seen[tracker]; exists {
			continue
		}
		seen[tracker] = struct{}{}
		out = append(out, tracker)
	}
	return out
}

// Merge appends incoming trackers to the current comma separated list,
// deduplicating while keeping first-seen order. changed is false when
// incoming adds nothing the current list does not already contain, in which
// case the merged value must not be persisted.
func Merge(current string, incoming []string) (merged string, changed bool) {
	existing := Dedup(Split(current))
	if len(incoming) == 0 {
		return strings.Join(existing, ","), false
	}

	all := make([]string, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	unique := Dedup(all)

	return strings.Join(unique, ","), len(unique) > len(existing)
}
