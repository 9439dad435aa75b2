// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package events

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Options configures a Canonicalizer.
type Options struct {
	// Platform tags every produced event. Default "tiktok".
	Platform string

	// StreamerID tags every produced event with the local streamer identity.
	StreamerID string

	// CommandPrefixes are the chat command markers. Default ["!"].
	CommandPrefixes []string

	// CommandMaxPerMessage caps derived command events per chat message.
	// Values below 1 are treated as 1.
	CommandMaxPerMessage int

	// EmitCommandEvents enables synthesis of derived command events.
	EmitCommandEvents bool
}

// Canonicalizer converts raw platform payloads into canonical events.
//
// It owns the process-wide event sequence and the per-user like counters,
// so a single instance must serve every ingestion source. Canonicalize is
// safe for concurrent use.
type Canonicalizer struct {
	opts    Options
	pattern *regexp.Regexp

	seq atomic.Uint64

	mu         sync.Mutex
	likeTotals map[string]int
}

// NewCanonicalizer creates a Canonicalizer with the given options.
func NewCanonicalizer(opts Options) *Canonicalizer {
	if opts.Platform == "" {
		opts.Platform = PlatformTikTok
	}
	if opts.CommandMaxPerMessage < 1 {
		opts.CommandMaxPerMessage = 1
	}
	return &Canonicalizer{
		opts:       opts,
		pattern:    compileCommandPattern(opts.CommandPrefixes),
		likeTotals: make(map[string]int),
	}
}

// Canonicalize converts one raw payload into canonical events. The first
// event is always the primary event for the payload; for chat messages
// containing commands it is followed by the derived command events.
//
// A payload that is not a JSON object is an error; the caller logs and
// drops it.
func (c *Canonicalizer) Canonicalize(sourceEvent string, raw json.RawMessage) ([]*Event, error) {
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("malformed payload for %q: %w", sourceEvent, err)
	}

	ev := c.newEvent(sourceEvent, raw)
	ev.User = extractUser(data)

	switch canonicalType(sourceEvent, data) {
	case TypeChat:
		return c.canonicalizeChat(ev, data), nil
	case TypeGift:
		c.canonicalizeGift(ev, data)
	case TypeLike:
		c.canonicalizeLike(ev, data)
	case TypeViewerCount:
		ev.EventType = TypeViewerCount
		ev.User = nil
		if n, ok := pickInt(data, "viewerCount", "viewer_count", "viewers"); ok {
			count := int(n)
			ev.ViewerCount = &count
		}
	case TypeStreamEnd:
		ev.EventType = TypeStreamEnd
		ev.User = nil
	default:
		ev.EventType = canonicalType(sourceEvent, data)
	}

	return []*Event{ev}, nil
}

// StreamEnd produces the control event marking the end of the broadcast
// and resets the per-stream counters.
func (c *Canonicalizer) StreamEnd() *Event {
	ev := c.newEvent("streamEnd", nil)
	ev.EventType = TypeStreamEnd
	c.ResetCounters()
	return ev
}

// ResetCounters clears the per-user like totals. Called when a broadcast
// ends so the next stream starts from zero.
func (c *Canonicalizer) ResetCounters() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.likeTotals = make(map[string]int)
}

// Sequence returns the last assigned sequence number.
func (c *Canonicalizer) Sequence() uint64 {
	return c.seq.Load()
}

func (c *Canonicalizer) newEvent(sourceEvent string, raw json.RawMessage) *Event {
	return &Event{
		ID:          uuid.New().String(),
		Sequence:    c.seq.Add(1),
		Platform:    c.opts.Platform,
		SourceEvent: sourceEvent,
		StreamerID:  c.opts.StreamerID,
		ReceivedAt:  time.Now().UTC(),
		Raw:         raw,
	}
}

func (c *Canonicalizer) canonicalizeChat(ev *Event, data map[string]any) []*Event {
	ev.EventType = TypeChat
	ev.Message = pickString(data, "comment", "message", "text", "content")

	out := []*Event{ev}
	if ev.Message == "" {
		return out
	}

	cmds := extractCommands(c.pattern, ev.Message, c.opts.CommandMaxPerMessage)
	if len(cmds) == 0 {
		return out
	}

	for _, cmd := range cmds {
		ev.Commands = append(ev.Commands, cmd.Name)
	}
	if !c.opts.EmitCommandEvents {
		return out
	}

	for _, cmd := range cmds {
		derived := c.newEvent(ev.SourceEvent, nil)
		derived.EventType = TypeCommand
		derived.Command = cmd.Name
		derived.CommandRaw = cmd.Raw
		derived.Message = ev.Message
		derived.ParentEventID = ev.ID
		if ev.User != nil {
			u := *ev.User
			derived.User = &u
		}
		out = append(out, derived)
	}
	return out
}

// canonicalizeGift applies the streak-collapsing rule. Streakable gifts
// (giftType 1) emit interim gift_streak events while the streak runs and a
// single gift event when it ends; only the final event is forwardable and
// carries the full coin total.
func (c *Canonicalizer) canonicalizeGift(ev *Event, data map[string]any) {
	giftID, _ := pickInt(data, "giftId", "gift_id")
	giftType, _ := pickInt(data, "giftType", "gift_type")
	diamonds := resolveGiftCoins(data)
	repeat, hasRepeat := pickInt(data, "repeatCount", "repeat_count")
	if !hasRepeat || repeat < 1 {
		repeat = 1
	}
	repeatEnd := pickBool(data, "repeatEnd", "repeat_end")

	ev.GiftID = giftID
	ev.GiftName = pickString(data, "giftName", "gift_name")
	if ev.GiftName == "" {
		if gift := pickMap(data, "giftDetails", "gift", "extendedGiftInfo"); gift != nil {
			ev.GiftName = pickString(gift, "giftName", "gift_name", "name")
		}
	}
	ev.GiftType = int(giftType)
	ev.RepeatCount = int(repeat)
	ev.RepeatEnd = repeatEnd

	if giftType == 1 && !repeatEnd {
		ev.EventType = TypeGiftStreak
		ev.StreakInProgress = true
		ev.SkipForward = true
		return
	}

	ev.EventType = TypeGift
	ev.Coins = diamonds * repeat
	if ev.Coins == 0 {
		ev.SkipForward = true
	}
}

func (c *Canonicalizer) canonicalizeLike(ev *Event, data map[string]any) {
	ev.EventType = TypeLike

	count := 1
	if n, ok := pickInt(data, "likeCount", "like_count", "count"); ok && n > 0 {
		count = int(n)
	}
	ev.LikeCount = &count

	// Without a user key there is no per-user total to maintain; the
	// running total is omitted rather than pooled under a shared bucket.
	var key string
	if ev.User != nil {
		if ev.User.UserID != "" {
			key = ev.User.UserID
		} else if ev.User.Username != "" {
			key = ev.User.Username
		}
	}
	if key == "" {
		return
	}

	c.mu.Lock()
	c.likeTotals[key] += count
	total := c.likeTotals[key]
	c.mu.Unlock()

	ev.TotalLikeCount = &total
}

// resolveGiftCoins finds the per-gift diamond price. Depending on the
// platform library version it arrives at top level or nested under
// giftDetails, gift, or extendedGiftInfo; every location is consulted.
func resolveGiftCoins(data map[string]any) int64 {
	if n, ok := pickInt(data, "diamondCount", "diamond_count"); ok {
		return n
	}
	for _, key := range []string{"giftDetails", "gift", "extendedGiftInfo"} {
		if nested, ok := data[key].(map[string]any); ok {
			if n, ok := pickInt(nested, "diamondCount", "diamond_count"); ok {
				return n
			}
		}
	}
	return 0
}

// canonicalType maps a source event name to a canonical event type.
// Unknown names pass through in snake_case so nothing is silently lost.
func canonicalType(source string, data map[string]any) string {
	switch strings.ToLower(source) {
	case "chat", "comment":
		return TypeChat
	case "gift":
		return TypeGift
	case "like":
		return TypeLike
	case "follow":
		return TypeFollow
	case "share":
		return TypeShare
	case "social":
		// Social events carry the concrete action in their display type.
		display := strings.ToLower(pickString(data, "displayType", "display_type", "label", "socialType", "type"))
		if strings.Contains(display, "follow") {
			return TypeFollow
		}
		if strings.Contains(display, "share") {
			return TypeShare
		}
		if strings.Contains(display, "subscribe") {
			return TypeSubscribe
		}
		return snakeCase(source)
	case "subscribe", "subscription":
		return TypeSubscribe
	case "member", "join":
		return TypeMember
	case "roomuser", "room_user":
		return TypeViewerCount
	case "streamend", "stream_end":
		return TypeStreamEnd
	default:
		return snakeCase(source)
	}
}

func extractUser(data map[string]any) *User {
	src := data
	if nested := pickMap(data, "user"); nested != nil {
		src = nested
	}

	u := &User{
		UserID:     pickString(src, "userId", "user_id", "userID", "id"),
		Username:   pickString(src, "uniqueId", "unique_id", "username"),
		Nickname:   pickString(src, "nickname", "nickName", "displayName"),
		ProfileURL: pickString(src, "profilePictureUrl", "profile_picture_url", "avatarUrl"),
	}
	if n, ok := pickInt(src, "followRole", "follow_role"); ok {
		u.FollowRole = int(n)
	}
	u.IsModerator = pickBool(src, "isModerator", "is_moderator")
	u.IsSubscriber = pickBool(src, "isSubscriber", "is_subscriber")

	if u.UserID == "" && u.Username == "" && u.Nickname == "" {
		return nil
	}
	return u
}

func snakeCase(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
