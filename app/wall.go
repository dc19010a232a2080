// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielhkuo/daystogether/danmaku"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
)

// PublicWall holds the short messages visitors leave. They scroll across
// the page through a danmaku scheduler.
type PublicWall struct {
	session *Session
	ctl     *optimistic.Controller[models.PublicMessage]
	sub     *gateway.Subscription

	posting  optimistic.Guard
	deleting optimistic.Guard
}

// OpenPublicWall loads the wall and follows it until Close
func OpenPublicWall(ctx context.Context, actx *Context, session *Session) (*PublicWall, error) {
	table := gateway.NewTable[models.PublicMessage](actx.Service, models.TablePublicMessages)
	mirror := reconcile.NewRecordMirror(func(a, b models.PublicMessage) bool { return a.CreatedAt < b.CreatedAt })
	sub, err := reconcile.Follow(ctx, table, mirror, gateway.Query{})
	if err != nil {
		return nil, fmt.Errorf("open public wall: %w", err)
	}
	return &PublicWall{session: session, ctl: optimistic.NewController(table, mirror), sub: sub}, nil
}

// Post leaves a message of at most 50 characters. Anyone may post.
func (w *PublicWall) Post(ctx context.Context, text string) (models.PublicMessage, error) {
	text = strings.TrimSpace(text)
	if err := models.CheckText(text, models.MaxPublicMessageLength); err != nil {
		return models.PublicMessage{}, err
	}
	var posted models.PublicMessage
	err := w.posting.Do(func() error {
		var err error
		posted, err = w.ctl.Create(ctx, models.PublicMessage{Text: text})
		return err
	})
	return posted, err
}

// Delete removes a message. Only a logged-in participant may delete.
func (w *PublicWall) Delete(ctx context.Context, id string) error {
	if _, err := w.session.requireParticipant(); err != nil {
		return err
	}
	return w.deleting.Do(func() error {
		return w.ctl.Delete(ctx, id)
	})
}

// Messages returns the wall oldest first
func (w *PublicWall) Messages() []models.PublicMessage { return w.ctl.Mirror().Items() }

func (w *PublicWall) Len() int { return w.ctl.Mirror().Len() }

func (w *PublicWall) OnChange(fn func()) (cancel func()) {
	return w.ctl.Mirror().OnChange(fn)
}

// Danmaku returns a scheduler that cycles through the wall's confirmed
// messages.
func (w *PublicWall) Danmaku(opts ...danmaku.Option) *danmaku.Scheduler[models.PublicMessage] {
	return danmaku.New(func() []models.PublicMessage {
		entries := w.ctl.Mirror().Entries()
		items := make([]models.PublicMessage, 0, len(entries))
		for _, e := range entries {
			if !e.Provisional {
				items = append(items, e.Item)
			}
		}
		return items
	}, opts...)
}

func (w *PublicWall) Close() { w.sub.Unsubscribe() }
