// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
)

// PresenceTracker publishes whether this participant has the app focused
// and watches whether their partner does.
type PresenceTracker struct {
	actx *Context
	user models.Participant
	sub  *gateway.Subscription

	mu       sync.Mutex
	partner  bool
	listener func(bool)
}

// OpenPresence joins the presence topic as user with the given focus
// state. Close leaves it.
func OpenPresence(ctx context.Context, actx *Context, user models.Participant, focused bool) (*PresenceTracker, error) {
	if !user.Valid() {
		return nil, models.ErrInvalidParticipant
	}
	t := &PresenceTracker{actx: actx, user: user}
	sub, err := actx.Presence.WatchPresence(ctx, models.TopicPresence, t.onState)
	if err != nil {
		return nil, fmt.Errorf("watch presence: %w", err)
	}
	t.sub = sub
	if err := t.SetFocused(ctx, focused); err != nil {
		sub.Unsubscribe()
		return nil, err
	}
	return t, nil
}

// SetFocused re-tracks this participant with a fresh timestamp
func (t *PresenceTracker) SetFocused(ctx context.Context, focused bool) error {
	return t.actx.Presence.Track(ctx, models.TopicPresence, models.Presence{
		User:      t.user,
		OnlineAt:  models.FormatTimestamp(t.actx.now()),
		IsFocused: focused,
	})
}

// PartnerOnline reports whether the partner is connected with the app in
// focus.
func (t *PresenceTracker) PartnerOnline() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.partner
}

// OnPartnerChange sets the function called when PartnerOnline changes
func (t *PresenceTracker) OnPartnerChange(fn func(online bool)) {
	t.mu.Lock()
	t.listener = fn
	t.mu.Unlock()
}

func (t *PresenceTracker) onState(state gateway.PresenceState) {
	online := PartnerFocused(state, t.user)

	t.mu.Lock()
	changed := online != t.partner
	t.partner = online
	fn := t.listener
	t.mu.Unlock()

	if changed {
		slog.Debug("partner presence changed", "online", online)
		if fn != nil {
			fn(online)
		}
	}
}

// PartnerFocused reports whether any connection in state tracks user's
// partner with focus.
func PartnerFocused(state gateway.PresenceState, user models.Participant) bool {
	partner := user.Partner()
	for _, presences := range state {
		for _, p := range presences {
			if p.User == partner && p.IsFocused {
				return true
			}
		}
	}
	return false
}

func (t *PresenceTracker) Close(ctx context.Context) {
	if err := t.actx.Presence.Untrack(ctx, models.TopicPresence); err != nil {
		slog.Warn("failed to untrack presence", "error", err)
	}
	t.sub.Unsubscribe()
}
