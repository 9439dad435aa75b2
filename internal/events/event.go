// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

// Package events defines the canonical event model and the canonicalizer
// that converts raw platform payloads into it.
//
// Every downstream consumer (delivery queue, broadcast hub, rule engine,
// event log) works exclusively with the canonical form. Raw payload
// variance stays contained in this package.
package events

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

// Canonical event types.
const (
	TypeChat        = "chat"
	TypeCommand     = "command"
	TypeGift        = "gift"
	TypeGiftStreak  = "gift_streak"
	TypeLike        = "like"
	TypeFollow      = "follow"
	TypeShare       = "share"
	TypeSubscribe   = "subscribe"
	TypeMember      = "member"
	TypeViewerCount = "viewer_count"
	TypeStreamEnd   = "stream_end"
)

// Platform identifiers.
const (
	PlatformTikTok = "tiktok"
)

// User identifies the platform user behind an event. Fields are best
// effort; payload shapes differ between platform library versions.
type User struct {
	UserID       string `json:"user_id,omitempty"`
	Username     string `json:"username,omitempty"`
	Nickname     string `json:"nickname,omitempty"`
	ProfileURL   string `json:"profile_url,omitempty"`
	FollowRole   int    `json:"follow_role,omitempty"`
	IsModerator  bool   `json:"is_moderator,omitempty"`
	IsSubscriber bool   `json:"is_subscriber,omitempty"`
}

// Event is the canonical representation of a live broadcast event.
//
// Type-specific fields are populated only for the matching EventType and
// omitted from JSON otherwise. SkipForward marks events that must never be
// delivered to the backend regardless of the forward filter; it never
// leaves the process.
type Event struct {
	ID          string    `json:"id"`
	Sequence    uint64    `json:"seq"`
	Platform    string    `json:"platform"`
	EventType   string    `json:"event_type"`
	SourceEvent string    `json:"source_event,omitempty"`
	StreamerID  string    `json:"streamer_id,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`

	User *User `json:"user,omitempty"`

	// Gift fields.
	GiftID           int64  `json:"gift_id,omitempty"`
	GiftName         string `json:"gift_name,omitempty"`
	GiftType         int    `json:"gift_type,omitempty"`
	RepeatCount      int    `json:"repeat_count,omitempty"`
	RepeatEnd        bool   `json:"repeat_end,omitempty"`
	StreakInProgress bool   `json:"streak_in_progress,omitempty"`
	Coins            int64  `json:"coins,omitempty"`

	// Chat fields.
	Message  string   `json:"message,omitempty"`
	Commands []string `json:"commands,omitempty"`

	// Command fields, set on derived command events.
	Command       string `json:"command,omitempty"`
	CommandRaw    string `json:"command_raw,omitempty"`
	ParentEventID string `json:"parent_event_id,omitempty"`

	// Like fields. Pointers so that a genuine zero survives serialization
	// while absent values are omitted.
	LikeCount      *int `json:"like_count,omitempty"`
	TotalLikeCount *int `json:"total_like_count,omitempty"`

	// Room stats.
	ViewerCount *int `json:"viewer_count,omitempty"`

	Raw json.RawMessage `json:"raw,omitempty"`

	SkipForward bool `json:"-"`
}

// Validate checks the invariants every canonical event must satisfy.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("event missing id")
	}
	if e.EventType == "" {
		return fmt.Errorf("event %s missing event_type", e.ID)
	}
	if e.Platform == "" {
		return fmt.Errorf("event %s missing platform", e.ID)
	}
	if e.ReceivedAt.IsZero() {
		return fmt.Errorf("event %s missing received_at", e.ID)
	}
	return nil
}

// Clone returns a shallow copy with its own User pointer, safe to mutate
// independently of the original (Raw still aliases the source bytes).
func (e *Event) Clone() *Event {
	c := *e
	if e.User != nil {
		u := *e.User
		c.User = &u
	}
	return &c
}
