// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package rules implements the automation rule engine: persistent rules
// that match canonical events and fire compositor or automation-host
// actions.
package rules

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Action types. The closed set mirrors what the compositor and automation
// adapters can execute.
const (
	ActionSwitchScene  = "switchScene"
	ActionShowSource   = "showSource"
	ActionHideSource   = "hideSource"
	ActionToggleSource = "toggleSource"
	ActionToggleFilter = "toggleFilter"
	ActionPlayMedia    = "playMedia"
	ActionStreamerbot  = "streamerbotAction"
)

// MatchLikeTotal is the pseudo event type for threshold rules on a user's
// accumulated like total.
const MatchLikeTotal = "like_total"

// Match describes which events a rule applies to.
type Match struct {
	// Type is a canonical event type, or "like_total" for threshold rules.
	Type string `json:"type"`

	// Field optionally narrows the match to a specific event field. When
	// empty, gift rules narrow on gift_name and command rules on command.
	Field string `json:"field,omitempty"`

	// Value is compared case-insensitively against the selected field.
	// Empty means any event of the matching type. For like_total rules it
	// holds the positive integer threshold; the rule fires once per
	// threshold crossing per user.
	Value string `json:"value,omitempty"`
}

// LikeThreshold parses the like-total threshold carried in Value. It
// returns 0 when Value is not a positive integer.
func (m Match) LikeThreshold() int {
	n, err := strconv.Atoi(strings.TrimSpace(m.Value))
	if err != nil || n < 1 {
		return 0
	}
	return n
}

// Action describes what a rule does when it fires.
type Action struct {
	Type string `json:"type"`

	// Compositor parameters.
	Scene  string `json:"scene,omitempty"`
	Source string `json:"source,omitempty"`
	Filter string `json:"filter,omitempty"`
	Input  string `json:"input,omitempty"`

	// Automation host parameters.
	ActionID   string         `json:"action_id,omitempty"`
	ActionName string         `json:"action_name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

// Rule binds a match to an action.
type Rule struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Match   Match  `json:"match"`
	Action  Action `json:"action"`

	// Seq preserves creation order for listing.
	Seq       uint64    `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks that the rule is well formed.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Match.Type == "" {
		return fmt.Errorf("rule %q: match type is required", r.Name)
	}
	if r.Match.Type == MatchLikeTotal && r.Match.LikeThreshold() < 1 {
		return fmt.Errorf("rule %q: like_total match requires a positive integer value", r.Name)
	}

	switch r.Action.Type {
	case ActionSwitchScene:
		if r.Action.Scene == "" {
			return fmt.Errorf("rule %q: switchScene requires a scene", r.Name)
		}
	case ActionShowSource, ActionHideSource, ActionToggleSource:
		if r.Action.Source == "" {
			return fmt.Errorf("rule %q: %s requires a source", r.Name, r.Action.Type)
		}
	case ActionToggleFilter:
		if r.Action.Source == "" || r.Action.Filter == "" {
			return fmt.Errorf("rule %q: toggleFilter requires a source and a filter", r.Name)
		}
	case ActionPlayMedia:
		if r.Action.Input == "" {
			return fmt.Errorf("rule %q: playMedia requires an input", r.Name)
		}
	case ActionStreamerbot:
		if r.Action.ActionID == "" && r.Action.ActionName == "" {
			return fmt.Errorf("rule %q: streamerbotAction requires an action id or name", r.Name)
		}
	default:
		return fmt.Errorf("rule %q: unknown action type %q", r.Name, r.Action.Type)
	}
	return nil
}
