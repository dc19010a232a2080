// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
)

// MessageBoard is the couple's private board. Nothing is fetched until a
// participant unlocks it with their password.
type MessageBoard struct {
	actx    *Context
	session *Session
	table   *gateway.Table[models.Message]
	ctl     *optimistic.Controller[models.Message]

	mu     sync.Mutex
	sender models.Participant
	sub    *gateway.Subscription

	sending optimistic.Guard
}

func NewMessageBoard(actx *Context, session *Session) *MessageBoard {
	table := gateway.NewTable[models.Message](actx.Service, models.TableMessages)
	mirror := reconcile.NewRecordMirror(func(a, b models.Message) bool { return a.Date < b.Date })
	return &MessageBoard{
		actx:    actx,
		session: session,
		table:   table,
		ctl:     optimistic.NewController(table, mirror),
	}
}

// Unlock checks password against both participants and, on a match, loads
// the board and follows it until Close.
func (m *MessageBoard) Unlock(ctx context.Context, password string) (models.Participant, error) {
	p, err := auth.MatchParticipant(m.session.Settings(), password)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	following := m.sub != nil
	m.mu.Unlock()
	if !following {
		sub, err := reconcile.Follow(ctx, m.table, m.ctl.Mirror(), gateway.Query{OrderBy: "date"})
		if err != nil {
			return "", fmt.Errorf("open messages: %w", err)
		}
		m.mu.Lock()
		if m.sub != nil {
			sub.Unsubscribe()
		} else {
			m.sub = sub
		}
		m.mu.Unlock()
	}

	m.mu.Lock()
	m.sender = p
	m.mu.Unlock()
	return p, nil
}

func (m *MessageBoard) Unlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sub != nil
}

// Send posts text as the unlocking participant. Empty and over-long text
// is rejected before anything is sent.
func (m *MessageBoard) Send(ctx context.Context, text string) (models.Message, error) {
	if err := models.CheckText(text, models.MaxMessageLength); err != nil {
		return models.Message{}, err
	}
	m.mu.Lock()
	sender, unlocked := m.sender, m.sub != nil
	m.mu.Unlock()
	if !unlocked {
		return models.Message{}, ErrLocked
	}

	var sent models.Message
	err := m.sending.Do(func() error {
		msg := models.Message{
			Text:   text,
			Date:   models.FormatTimestamp(m.actx.now()),
			Sender: sender,
		}
		var err error
		sent, err = m.ctl.Create(ctx, msg)
		return err
	})
	if err != nil {
		slog.Warn("message not sent", "error", err)
	}
	return sent, err
}

// Messages returns the board oldest first
func (m *MessageBoard) Messages() []models.Message { return m.ctl.Mirror().Items() }

// Entries exposes which messages are still being sent
func (m *MessageBoard) Entries() []reconcile.Entry[models.Message] {
	return m.ctl.Mirror().Entries()
}

func (m *MessageBoard) OnChange(fn func()) (cancel func()) {
	return m.ctl.Mirror().OnChange(fn)
}

func (m *MessageBoard) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sub.Unsubscribe()
	m.sub = nil
}
