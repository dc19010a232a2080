// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
)

// DefaultIcon is preselected in the add form
const DefaultIcon = "🏆"

type IconCategory struct {
	Name  string
	Icons []string
}

// IconCategories is the glyph picker offered for achievements
var IconCategories = []IconCategory{
	{"Popular", []string{"🏆", "❤️", "✨", "🎉", "📅", "🌟", "🍀", "🌈", "💎", "🔥", "💯", "🎈"}},
	{"Love", []string{"💌", "🌹", "💍", "💒", "💏", "💑", "💋", "🧸", "🏩", "💓", "💘", "👫"}},
	{"Home", []string{"🏠", "🔑", "🚗", "🍳", "🎁", "🛒", "🧹", "🛋️", "🛌", "🛁", "🪴", "📱", "💻", "💸"}},
	{"Fun", []string{"🎬", "🎵", "🎮", "✈️", "🎢", "🎤", "🎧", "🎟️", "🎨", "🎹", "🎸", "🎲", "🎳", "🎪"}},
	{"Food", []string{"🍽️", "🥂", "🎂", "🍦", "☕", "🍔", "🍕", "🍣", "🍎", "🍓", "🍒", "🍞", "🍖", "🍜", "🍩", "🍪", "🍹", "🍺"}},
	{"Travel", []string{"✈️", "🗺️", "🏖️", "🏔️", "🚂", "⛺", "🗽", "🗼", "🛳️", "🚲", "🚕", "🚌", "🏨", "🌉"}},
	{"Growth", []string{"🎓", "📚", "✏️", "💼", "📝", "🥇", "🥈", "🥉", "🚀", "💡", "📈", "🤝"}},
	{"Mood", []string{"😀", "😂", "🥺", "😭", "😡", "😴", "😷", "🥳", "😎", "🤔", "🥰", "🤪"}},
	{"Nature", []string{"🌻", "🌲", "🌊", "☀️", "🌙", "⭐", "🌧️", "❄️", "☁️", "⚡", "🌵", "🌴", "🍁"}},
	{"Animals", []string{"🐱", "🐶", "🐰", "🐼", "🦊", "🦁", "🦄", "🦋", "🐯", "🐮", "🐷", "🐸", "🐙", "🐬"}},
	{"Sports", []string{"⚽", "🏀", "🎾", "🏊", "🚴", "🧘", "🏋️", "🏃", "🏸", "🏓", "🥊", "⛳", "⛸️"}},
}

// Milestones lists the couple's achievements, newest first.
type Milestones struct {
	ctl *optimistic.Controller[models.Achievement]
	sub *gateway.Subscription

	adding   optimistic.Guard
	deleting optimistic.Guard
}

// OpenMilestones loads the achievements and follows them until Close
func OpenMilestones(ctx context.Context, actx *Context) (*Milestones, error) {
	table := gateway.NewTable[models.Achievement](actx.Service, models.TableAchievements)
	mirror := reconcile.NewRecordMirror(func(a, b models.Achievement) bool { return a.Date > b.Date })
	sub, err := reconcile.Follow(ctx, table, mirror, gateway.Query{OrderBy: "date", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("open milestones: %w", err)
	}
	return &Milestones{ctl: optimistic.NewController(table, mirror), sub: sub}, nil
}

// Add records an achievement. The title is trimmed and must not be empty;
// date is YYYY-MM-DD. An empty icon gets DefaultIcon.
func (m *Milestones) Add(ctx context.Context, title, date, icon string) (models.Achievement, error) {
	title = strings.TrimSpace(title)
	if err := models.CheckText(title, models.MaxTitleLength); err != nil {
		return models.Achievement{}, err
	}
	if _, err := models.ParseDate(date); err != nil {
		return models.Achievement{}, err
	}
	if icon == "" {
		icon = DefaultIcon
	}

	var added models.Achievement
	err := m.adding.Do(func() error {
		var err error
		added, err = m.ctl.Create(ctx, models.Achievement{Title: title, Date: date, Icon: icon})
		return err
	})
	return added, err
}

// Delete hides the achievement at once and restores it if the service
// refuses.
func (m *Milestones) Delete(ctx context.Context, id string) error {
	return m.deleting.Do(func() error {
		return m.ctl.Delete(ctx, id)
	})
}

func (m *Milestones) Achievements() []models.Achievement { return m.ctl.Mirror().Items() }

func (m *Milestones) OnChange(fn func()) (cancel func()) {
	return m.ctl.Mirror().OnChange(fn)
}

func (m *Milestones) Close() { m.sub.Unsubscribe() }
