// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package events

import (
	"testing"

	"github.com/goccy/go-json"
)

func newTestCanonicalizer() *Canonicalizer {
	return NewCanonicalizer(Options{
		StreamerID:           "streamer-1",
		CommandPrefixes:      []string{"!"},
		CommandMaxPerMessage: 5,
		EmitCommandEvents:    true,
	})
}

func mustCanonicalize(t *testing.T, c *Canonicalizer, source, payload string) []*Event {
	t.Helper()
	evs, err := c.Canonicalize(source, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("Canonicalize(%s) error: %v", source, err)
	}
	if len(evs) == 0 {
		t.Fatalf("Canonicalize(%s) produced no events", source)
	}
	return evs
}

func TestGiftStreakCollapsing(t *testing.T) {
	c := newTestCanonicalizer()

	// Interim event while a streakable gift repeats.
	interim := mustCanonicalize(t, c, "gift",
		`{"giftId":5655,"giftName":"Rose","giftType":1,"diamondCount":1,"repeatCount":3,"repeatEnd":false,"userId":"u1","uniqueId":"alice"}`)[0]

	if interim.EventType != TypeGiftStreak {
		t.Errorf("interim EventType = %q, want %q", interim.EventType, TypeGiftStreak)
	}
	if !interim.StreakInProgress {
		t.Error("interim StreakInProgress = false, want true")
	}
	if !interim.SkipForward {
		t.Error("interim SkipForward = false, want true")
	}
	if interim.Coins != 0 {
		t.Errorf("interim Coins = %d, want 0", interim.Coins)
	}

	// Final event when the streak ends carries the full total.
	final := mustCanonicalize(t, c, "gift",
		`{"giftId":5655,"giftName":"Rose","giftType":1,"diamondCount":1,"repeatCount":7,"repeatEnd":true,"userId":"u1","uniqueId":"alice"}`)[0]

	if final.EventType != TypeGift {
		t.Errorf("final EventType = %q, want %q", final.EventType, TypeGift)
	}
	if final.SkipForward {
		t.Error("final SkipForward = true, want false")
	}
	if final.Coins != 7 {
		t.Errorf("final Coins = %d, want 7", final.Coins)
	}
	if final.RepeatCount != 7 {
		t.Errorf("final RepeatCount = %d, want 7", final.RepeatCount)
	}
}

func TestGiftNonStreakable(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "gift",
		`{"giftId":1,"giftName":"Galaxy","giftType":2,"diamondCount":1000,"repeatCount":1,"repeatEnd":false}`)[0]

	if ev.EventType != TypeGift {
		t.Errorf("EventType = %q, want %q", ev.EventType, TypeGift)
	}
	if ev.Coins != 1000 {
		t.Errorf("Coins = %d, want 1000", ev.Coins)
	}
	if ev.SkipForward {
		t.Error("SkipForward = true, want false")
	}
}

func TestGiftZeroCoinsNotForwardable(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "gift",
		`{"giftId":9,"giftName":"Mystery","giftType":2,"diamondCount":0,"repeatCount":1,"repeatEnd":true}`)[0]

	if ev.EventType != TypeGift {
		t.Errorf("EventType = %q, want %q", ev.EventType, TypeGift)
	}
	if !ev.SkipForward {
		t.Error("SkipForward = false, want true for zero-coin gift")
	}
}

func TestGiftMissingRepeatCountDefaultsToOne(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "gift",
		`{"giftId":2,"giftName":"Heart","giftType":2,"diamondCount":5}`)[0]

	if ev.Coins != 5 {
		t.Errorf("Coins = %d, want 5", ev.Coins)
	}
	if ev.RepeatCount != 1 {
		t.Errorf("RepeatCount = %d, want 1", ev.RepeatCount)
	}
}

func TestGiftCoinsFromNestedDetails(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		coins   int64
	}{
		{
			"extendedGiftInfo",
			`{"giftId":3,"giftName":"Universe","giftType":2,"repeatCount":1,"repeatEnd":true,"extendedGiftInfo":{"diamondCount":50}}`,
			50,
		},
		{
			"giftDetails",
			`{"giftId":4,"giftName":"Lion","giftType":2,"repeatCount":2,"repeatEnd":true,"giftDetails":{"diamondCount":30}}`,
			60,
		},
		{
			"gift object",
			`{"giftId":6,"giftType":2,"repeatCount":1,"repeatEnd":true,"gift":{"name":"Swan","diamond_count":25}}`,
			25,
		},
		{
			"top level wins over nested",
			`{"giftId":7,"giftName":"Rose","giftType":2,"diamondCount":1,"repeatCount":1,"repeatEnd":true,"extendedGiftInfo":{"diamondCount":99}}`,
			1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCanonicalizer()
			ev := mustCanonicalize(t, c, "gift", tt.payload)[0]

			if ev.Coins != tt.coins {
				t.Errorf("Coins = %d, want %d", ev.Coins, tt.coins)
			}
			if ev.SkipForward {
				t.Error("SkipForward = true, want false for a priced gift")
			}
		})
	}
}

func TestGiftNameFromNestedDetails(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "gift",
		`{"giftId":8,"giftType":2,"repeatCount":1,"repeatEnd":true,"giftDetails":{"giftName":"Galaxy","diamondCount":1000}}`)[0]

	if ev.GiftName != "Galaxy" {
		t.Errorf("GiftName = %q, want Galaxy", ev.GiftName)
	}
}

func TestChatCommandExtraction(t *testing.T) {
	c := newTestCanonicalizer()

	evs := mustCanonicalize(t, c, "chat",
		`{"comment":"!hello world !scene2","userId":"u2","uniqueId":"bob"}`)

	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3 (chat + 2 commands)", len(evs))
	}

	chat := evs[0]
	if chat.EventType != TypeChat {
		t.Errorf("EventType = %q, want %q", chat.EventType, TypeChat)
	}
	if chat.Message != "!hello world !scene2" {
		t.Errorf("Message = %q", chat.Message)
	}
	if len(chat.Commands) != 2 || chat.Commands[0] != "hello" || chat.Commands[1] != "scene2" {
		t.Errorf("Commands = %v, want [hello scene2]", chat.Commands)
	}

	for i, want := range []string{"hello", "scene2"} {
		cmd := evs[i+1]
		if cmd.EventType != TypeCommand {
			t.Errorf("derived[%d] EventType = %q, want %q", i, cmd.EventType, TypeCommand)
		}
		if cmd.Command != want {
			t.Errorf("derived[%d] Command = %q, want %q", i, cmd.Command, want)
		}
		if cmd.ParentEventID != chat.ID {
			t.Errorf("derived[%d] ParentEventID = %q, want %q", i, cmd.ParentEventID, chat.ID)
		}
		if cmd.User == nil || cmd.User.Username != "bob" {
			t.Errorf("derived[%d] user not carried over: %+v", i, cmd.User)
		}
	}
}

func TestChatCommandCap(t *testing.T) {
	c := NewCanonicalizer(Options{
		CommandPrefixes:      []string{"!"},
		CommandMaxPerMessage: 2,
		EmitCommandEvents:    true,
	})

	evs := mustCanonicalize(t, c, "chat",
		`{"comment":"!a !b !c !d"}`)

	if len(evs) != 3 {
		t.Fatalf("got %d events, want 3 (chat + 2 capped commands)", len(evs))
	}
}

func TestChatMidWordPrefixIgnored(t *testing.T) {
	c := newTestCanonicalizer()

	evs := mustCanonicalize(t, c, "chat", `{"comment":"hey!there"}`)

	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1 (no command in mid-word prefix)", len(evs))
	}
	if len(evs[0].Commands) != 0 {
		t.Errorf("Commands = %v, want none", evs[0].Commands)
	}
}

func TestChatCommandsDisabled(t *testing.T) {
	c := NewCanonicalizer(Options{
		CommandPrefixes:      []string{"!"},
		CommandMaxPerMessage: 5,
		EmitCommandEvents:    false,
	})

	evs := mustCanonicalize(t, c, "chat", `{"comment":"!hello"}`)

	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1 when command emission is off", len(evs))
	}
	if len(evs[0].Commands) != 1 || evs[0].Commands[0] != "hello" {
		t.Errorf("Commands = %v, want [hello] recorded on the chat event", evs[0].Commands)
	}
}

func TestLikeTotalsAccumulate(t *testing.T) {
	c := newTestCanonicalizer()

	first := mustCanonicalize(t, c, "like", `{"likeCount":10,"userId":"u1"}`)[0]
	if first.LikeCount == nil || *first.LikeCount != 10 {
		t.Fatalf("LikeCount = %v, want 10", first.LikeCount)
	}
	if first.TotalLikeCount == nil || *first.TotalLikeCount != 10 {
		t.Fatalf("TotalLikeCount = %v, want 10", first.TotalLikeCount)
	}

	second := mustCanonicalize(t, c, "like", `{"likeCount":15,"userId":"u1"}`)[0]
	if *second.TotalLikeCount != 25 {
		t.Errorf("TotalLikeCount = %d, want 25", *second.TotalLikeCount)
	}

	// Totals are per user.
	other := mustCanonicalize(t, c, "like", `{"likeCount":3,"userId":"u2"}`)[0]
	if *other.TotalLikeCount != 3 {
		t.Errorf("other user TotalLikeCount = %d, want 3", *other.TotalLikeCount)
	}
}

func TestLikeWithoutUserOmitsTotal(t *testing.T) {
	c := newTestCanonicalizer()

	for i := 0; i < 3; i++ {
		ev := mustCanonicalize(t, c, "like", `{"likeCount":5}`)[0]
		if ev.LikeCount == nil || *ev.LikeCount != 5 {
			t.Fatalf("LikeCount = %v, want 5", ev.LikeCount)
		}
		if ev.TotalLikeCount != nil {
			t.Fatalf("TotalLikeCount = %d, want omitted without a user key", *ev.TotalLikeCount)
		}
	}

	// Keyed users are unaffected by keyless traffic.
	keyed := mustCanonicalize(t, c, "like", `{"likeCount":4,"userId":"u1"}`)[0]
	if keyed.TotalLikeCount == nil || *keyed.TotalLikeCount != 4 {
		t.Errorf("TotalLikeCount = %v, want 4", keyed.TotalLikeCount)
	}
}

func TestLikeCountDefaultsToOne(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "like", `{"userId":"u1"}`)[0]
	if ev.LikeCount == nil || *ev.LikeCount != 1 {
		t.Errorf("LikeCount = %v, want 1", ev.LikeCount)
	}
}

func TestResetCountersClearsLikeTotals(t *testing.T) {
	c := newTestCanonicalizer()

	mustCanonicalize(t, c, "like", `{"likeCount":50,"userId":"u1"}`)
	c.ResetCounters()

	ev := mustCanonicalize(t, c, "like", `{"likeCount":5,"userId":"u1"}`)[0]
	if *ev.TotalLikeCount != 5 {
		t.Errorf("TotalLikeCount after reset = %d, want 5", *ev.TotalLikeCount)
	}
}

func TestViewerCount(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "roomUser", `{"viewerCount":1234}`)[0]
	if ev.EventType != TypeViewerCount {
		t.Errorf("EventType = %q, want %q", ev.EventType, TypeViewerCount)
	}
	if ev.ViewerCount == nil || *ev.ViewerCount != 1234 {
		t.Errorf("ViewerCount = %v, want 1234", ev.ViewerCount)
	}
}

func TestSocialEventResolution(t *testing.T) {
	c := newTestCanonicalizer()

	follow := mustCanonicalize(t, c, "social",
		`{"displayType":"pm_main_follow_message_viewer_2","userId":"u1"}`)[0]
	if follow.EventType != TypeFollow {
		t.Errorf("EventType = %q, want %q", follow.EventType, TypeFollow)
	}

	share := mustCanonicalize(t, c, "social",
		`{"displayType":"pm_mt_guidance_share","userId":"u1"}`)[0]
	if share.EventType != TypeShare {
		t.Errorf("EventType = %q, want %q", share.EventType, TypeShare)
	}

	sub := mustCanonicalize(t, c, "social",
		`{"displayType":"subscribe_message","userId":"u1"}`)[0]
	if sub.EventType != TypeSubscribe {
		t.Errorf("EventType = %q, want %q", sub.EventType, TypeSubscribe)
	}

	typed := mustCanonicalize(t, c, "social",
		`{"socialType":"share","userId":"u1"}`)[0]
	if typed.EventType != TypeShare {
		t.Errorf("EventType = %q, want %q", typed.EventType, TypeShare)
	}
}

func TestChatMessageFieldFallbacks(t *testing.T) {
	c := newTestCanonicalizer()

	for _, payload := range []string{
		`{"comment":"hi"}`,
		`{"message":"hi"}`,
		`{"text":"hi"}`,
		`{"content":"hi"}`,
	} {
		ev := mustCanonicalize(t, c, "chat", payload)[0]
		if ev.Message != "hi" {
			t.Errorf("payload %s: Message = %q, want hi", payload, ev.Message)
		}
	}
}

func TestUnknownEventPassesThrough(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "linkMicBattle", `{"battleId":7}`)[0]
	if ev.EventType != "link_mic_battle" {
		t.Errorf("EventType = %q, want link_mic_battle", ev.EventType)
	}
}

func TestSequenceMonotonic(t *testing.T) {
	c := newTestCanonicalizer()

	var last uint64
	for i := 0; i < 10; i++ {
		ev := mustCanonicalize(t, c, "like", `{"userId":"u1"}`)[0]
		if ev.Sequence <= last {
			t.Fatalf("sequence not increasing: %d after %d", ev.Sequence, last)
		}
		last = ev.Sequence
	}
}

func TestMalformedPayloadRejected(t *testing.T) {
	c := newTestCanonicalizer()

	if _, err := c.Canonicalize("gift", json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := c.Canonicalize("gift", json.RawMessage(`[1,2,3]`)); err == nil {
		t.Error("expected error for non-object payload")
	}
}

func TestNestedUserExtraction(t *testing.T) {
	c := newTestCanonicalizer()

	ev := mustCanonicalize(t, c, "follow",
		`{"user":{"userId":"u9","uniqueId":"carol","nickname":"Carol"}}`)[0]

	if ev.User == nil {
		t.Fatal("User = nil")
	}
	if ev.User.UserID != "u9" || ev.User.Username != "carol" || ev.User.Nickname != "Carol" {
		t.Errorf("User = %+v", ev.User)
	}
}

func TestStreamEndResetsAndEmitsControl(t *testing.T) {
	c := newTestCanonicalizer()
	mustCanonicalize(t, c, "like", `{"likeCount":10,"userId":"u1"}`)

	end := c.StreamEnd()
	if end.EventType != TypeStreamEnd {
		t.Errorf("EventType = %q, want %q", end.EventType, TypeStreamEnd)
	}
	if err := end.Validate(); err != nil {
		t.Errorf("stream end event invalid: %v", err)
	}

	ev := mustCanonicalize(t, c, "like", `{"likeCount":2,"userId":"u1"}`)[0]
	if *ev.TotalLikeCount != 2 {
		t.Errorf("TotalLikeCount after stream end = %d, want 2", *ev.TotalLikeCount)
	}
}
