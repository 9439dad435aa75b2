// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package events

import (
	"regexp"
	"strings"
)

// ExtractedCommand is a single command token pulled out of a chat message.
type ExtractedCommand struct {
	// Name is the command without its prefix, lowercased.
	Name string

	// Raw is the token as typed, prefix included.
	Raw string
}

// compileCommandPattern builds the extraction regexp for the given prefixes.
// A command is a prefix at the start of the message or after whitespace,
// followed by one or more [a-zA-Z0-9_-] characters.
func compileCommandPattern(prefixes []string) *regexp.Regexp {
	if len(prefixes) == 0 {
		prefixes = []string{"!"}
	}
	quoted := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p == "" {
			continue
		}
		quoted = append(quoted, regexp.QuoteMeta(p))
	}
	if len(quoted) == 0 {
		quoted = []string{regexp.QuoteMeta("!")}
	}
	pattern := `(?:^|\s)((?:` + strings.Join(quoted, "|") + `)([a-zA-Z0-9_-]+))`
	return regexp.MustCompile(pattern)
}

// extractCommands returns up to max commands found in message, in order of
// appearance. Duplicate tokens are kept; each occurrence counts against the
// cap.
func extractCommands(pattern *regexp.Regexp, message string, max int) []ExtractedCommand {
	if message == "" || max < 1 {
		return nil
	}
	matches := pattern.FindAllStringSubmatch(message, max)
	if len(matches) == 0 {
		return nil
	}
	out := make([]ExtractedCommand, 0, len(matches))
	for _, m := range matches {
		out = append(out, ExtractedCommand{
			Name: strings.ToLower(m[2]),
			Raw:  m[1],
		})
	}
	return out
}
