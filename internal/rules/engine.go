// Streamrelay - Live Broadcast Event Relay and Automation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamrelay

package rules

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/streamrelay/internal/events"
	"github.com/tomtom215/streamrelay/internal/metrics"
)

// Compositor executes scene and source actions on the video compositor.
type Compositor interface {
	SwitchScene(ctx context.Context, scene string) error
	SetSourceVisible(ctx context.Context, scene, source string, visible bool) error
	ToggleSource(ctx context.Context, scene, source string) error
	ToggleFilter(ctx context.Context, source, filter string) error
	PlayMedia(ctx context.Context, input string) error
}

// Automation triggers actions on the automation host.
type Automation interface {
	DoAction(ctx context.Context, id, name string, args map[string]any) error
}

// Engine evaluates every enabled rule against each canonical event and
// dispatches the matching rules' actions.
//
// The engine keeps an in-memory snapshot of the rule set so the hot path
// never touches the store; mutations go through the engine and refresh the
// snapshot.
type Engine struct {
	store  *Store
	comp   Compositor
	auto   Automation
	logger zerolog.Logger

	mu    sync.RWMutex
	rules []*Rule

	// lastFired tracks the like total at which a like_total rule last
	// fired, keyed by rule id and user.
	firedMu   sync.Mutex
	lastFired map[string]int
}

// NewEngine creates an Engine over the given store and adapters. The rule
// snapshot is loaded from the store.
func NewEngine(store *Store, comp Compositor, auto Automation, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		store:     store,
		comp:      comp,
		auto:      auto,
		logger:    logger,
		lastFired: make(map[string]int),
	}
	if err := e.reload(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) reload() error {
	rules, err := e.store.List()
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	e.mu.Lock()
	e.rules = rules
	e.mu.Unlock()
	return nil
}

// List returns the current rule set in creation order.
func (e *Engine) List() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*Rule(nil), e.rules...)
}

// Get returns a rule by id from the snapshot.
func (e *Engine) Get(id string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, r := range e.rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrNotFound
}

// Save persists a rule and refreshes the snapshot.
func (e *Engine) Save(r *Rule) error {
	if err := e.store.Save(r); err != nil {
		return err
	}
	return e.reload()
}

// Delete removes a rule and refreshes the snapshot.
func (e *Engine) Delete(id string) error {
	if err := e.store.Delete(id); err != nil {
		return err
	}
	return e.reload()
}

// Apply evaluates all enabled rules against the event. Each matching rule
// fires independently; a failing dispatch is logged and does not stop the
// remaining rules.
func (e *Engine) Apply(ctx context.Context, ev *events.Event) {
	if ev.EventType == events.TypeStreamEnd {
		e.ResetCounters()
		return
	}

	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		fires := e.matchCount(rule, ev)
		for i := 0; i < fires; i++ {
			if err := e.dispatch(ctx, rule, ev); err != nil {
				metrics.RuleDispatchFailures.Inc()
				e.logger.Error().Err(err).
					Str("rule_id", rule.ID).
					Str("rule_name", rule.Name).
					Str("event_id", ev.ID).
					Msg("rule dispatch failed")
			}
		}
	}
}

// Fire dispatches a rule's action unconditionally with a synthesized
// event. Used by the manual test endpoint.
func (e *Engine) Fire(ctx context.Context, id string) error {
	rule, err := e.Get(id)
	if err != nil {
		return err
	}

	ev := &events.Event{
		ID:          uuid.New().String(),
		Platform:    events.PlatformTikTok,
		EventType:   rule.Match.Type,
		SourceEvent: "manual",
		ReceivedAt:  time.Now().UTC(),
	}
	return e.dispatch(ctx, rule, ev)
}

// ResetCounters clears the like_total firing state. Called when a
// broadcast ends.
func (e *Engine) ResetCounters() {
	e.firedMu.Lock()
	defer e.firedMu.Unlock()
	e.lastFired = make(map[string]int)
}

// matchCount returns how many times the rule fires for this event. For
// ordinary matches the answer is 0 or 1; like_total rules can fire once
// per threshold crossed by a single like burst.
func (e *Engine) matchCount(rule *Rule, ev *events.Event) int {
	if rule.Match.Type == MatchLikeTotal {
		return e.likeTotalCrossings(rule, ev)
	}
	if !strings.EqualFold(rule.Match.Type, ev.EventType) {
		return 0
	}
	if rule.Match.Value == "" {
		return 1
	}
	if fieldMatches(rule.Match, ev) {
		return 1
	}
	return 0
}

// likeTotalCrossings counts threshold crossings since the rule last fired
// for this user. A burst from 0 to 250 with threshold 100 fires exactly
// twice; the firing floor advances to 200.
func (e *Engine) likeTotalCrossings(rule *Rule, ev *events.Event) int {
	threshold := rule.Match.LikeThreshold()
	if ev.EventType != events.TypeLike || ev.TotalLikeCount == nil || threshold < 1 {
		return 0
	}

	key := rule.ID + "|" + likeUserKey(ev)
	total := *ev.TotalLikeCount

	e.firedMu.Lock()
	defer e.firedMu.Unlock()

	last := e.lastFired[key]
	fires := total/threshold - last/threshold
	if fires <= 0 {
		return 0
	}
	e.lastFired[key] = (total / threshold) * threshold
	return fires
}

func likeUserKey(ev *events.Event) string {
	if ev.User == nil {
		return "anonymous"
	}
	if ev.User.UserID != "" {
		return ev.User.UserID
	}
	if ev.User.Username != "" {
		return ev.User.Username
	}
	return "anonymous"
}

// fieldMatches compares the rule's value against the selected event field,
// case-insensitively. Without an explicit field, gift rules narrow on the
// gift name and command rules on the command.
func fieldMatches(m Match, ev *events.Event) bool {
	field := strings.ToLower(m.Field)
	if field == "" {
		switch ev.EventType {
		case events.TypeGift, events.TypeGiftStreak:
			field = "gift_name"
		case events.TypeCommand:
			field = "command"
		default:
			field = "message"
		}
	}

	var got string
	switch field {
	case "gift_name":
		got = ev.GiftName
	case "command":
		got = ev.Command
	case "message":
		return containsFold(ev.Message, m.Value)
	case "username":
		if ev.User != nil {
			got = ev.User.Username
		}
	case "event_type":
		got = ev.EventType
	default:
		return false
	}
	return strings.EqualFold(got, m.Value)
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func (e *Engine) dispatch(ctx context.Context, rule *Rule, ev *events.Event) error {
	act := rule.Action

	var err error
	switch act.Type {
	case ActionSwitchScene:
		err = e.comp.SwitchScene(ctx, act.Scene)
	case ActionShowSource:
		err = e.comp.SetSourceVisible(ctx, act.Scene, act.Source, true)
	case ActionHideSource:
		err = e.comp.SetSourceVisible(ctx, act.Scene, act.Source, false)
	case ActionToggleSource:
		err = e.comp.ToggleSource(ctx, act.Scene, act.Source)
	case ActionToggleFilter:
		err = e.comp.ToggleFilter(ctx, act.Source, act.Filter)
	case ActionPlayMedia:
		err = e.comp.PlayMedia(ctx, act.Input)
	case ActionStreamerbot:
		err = e.auto.DoAction(ctx, act.ActionID, act.ActionName, act.Args)
	default:
		return fmt.Errorf("unknown action type %q", act.Type)
	}
	if err != nil {
		return err
	}

	metrics.RulesFired.WithLabelValues(act.Type).Inc()
	e.logger.Info().
		Str("rule_id", rule.ID).
		Str("rule_name", rule.Name).
		Str("action", act.Type).
		Str("event_type", ev.EventType).
		Msg("rule fired")
	return nil
}
