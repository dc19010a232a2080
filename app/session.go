// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/storage"
)

// Passwords used until the couple saves their own
const (
	DefaultPassword1 = "123"
	DefaultPassword2 = "456"
)

// DefaultSettings is what the app shows before any settings row exists
func DefaultSettings(now time.Time, adminPassword string) models.Settings {
	return models.Settings{
		Name1:         "Name1",
		Password1:     DefaultPassword1,
		Name2:         "Name2",
		Password2:     DefaultPassword2,
		StartDate:     now.Format(models.DateLayout),
		AdminPassword: adminPassword,
	}
}

// Session holds the settings row and who is logged in on this client.
type Session struct {
	actx  *Context
	table *gateway.Table[models.Settings]

	mu       sync.RWMutex
	settings models.Settings
	user     models.Participant
	unlocked bool

	saving optimistic.Guard
}

func NewSession(actx *Context) *Session {
	return &Session{
		actx:     actx,
		table:    gateway.NewTable[models.Settings](actx.Service, models.TableSettings),
		settings: DefaultSettings(actx.now(), actx.Config.AdminPassword),
	}
}

// LoadSettings fetches the settings row. Without one the defaults stay in
// place. On a fetch error the current settings are kept and the error is
// returned.
func (s *Session) LoadSettings(ctx context.Context) (models.Settings, error) {
	row, err := s.table.FetchOne(ctx, gateway.Query{})
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		slog.Info("no settings row yet, using defaults")
		return s.Settings(), nil
	case err != nil:
		return s.Settings(), fmt.Errorf("load settings: %w", err)
	}

	if row.AdminPassword == "" {
		row.AdminPassword = s.actx.Config.AdminPassword
	}
	s.mu.Lock()
	s.settings = row
	s.mu.Unlock()
	return row, nil
}

func (s *Session) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// UnlockSettings opens the settings form for editing
func (s *Session) UnlockSettings(password string) error {
	if err := auth.CheckAdminPassword(s.Settings(), s.actx.Config.AdminPassword, password); err != nil {
		return err
	}
	s.mu.Lock()
	s.unlocked = true
	s.mu.Unlock()
	return nil
}

func (s *Session) SettingsUnlocked() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocked
}

// SaveSettings uploads any new avatars, then writes next. The row is
// updated when its id is known and inserted otherwise, in which case the
// new id is kept so later saves update the same row.
func (s *Session) SaveSettings(ctx context.Context, next models.Settings, avatar1, avatar2 *File) (models.Settings, error) {
	if !s.SettingsUnlocked() {
		return models.Settings{}, ErrLocked
	}
	if err := next.Validate(); err != nil {
		return models.Settings{}, err
	}

	var saved models.Settings
	err := s.saving.Do(func() error {
		var err error
		if next.Avatar1, err = s.uploadAvatar(ctx, avatar1, next.Avatar1); err != nil {
			return err
		}
		if next.Avatar2, err = s.uploadAvatar(ctx, avatar2, next.Avatar2); err != nil {
			return err
		}

		next.ID = s.Settings().ID
		if next.ID != "" {
			patch := next
			patch.ID = ""
			if err := s.table.Update(ctx, next.ID, patch); err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			saved = next
		} else {
			created, err := s.table.Insert(ctx, next)
			if err != nil {
				return fmt.Errorf("save settings: %w", err)
			}
			saved = created
			slog.Info("settings created", "id", created.ID)
		}

		s.mu.Lock()
		s.settings = saved
		s.mu.Unlock()
		return nil
	})
	return saved, err
}

func (s *Session) uploadAvatar(ctx context.Context, f *File, current string) (string, error) {
	if f == nil {
		return current, nil
	}
	key := storage.ObjectKey("avatar-" + f.Name)
	u, err := s.actx.Storage.Upload(ctx, models.BucketAvatars, key, f.Body)
	if err != nil {
		return "", fmt.Errorf("upload avatar %s: %w", f.Name, err)
	}
	return u, nil
}

// Login identifies the participant whose password matches and remembers
// them in the cookie jar.
func (s *Session) Login(password string) (models.Participant, error) {
	p, err := auth.MatchParticipant(s.Settings(), password)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.user = p
	s.mu.Unlock()
	if s.actx.Cookies != nil {
		s.actx.Cookies.SetCookie(auth.ParticipantCookie(p, s.actx.now()))
	}
	slog.Info("participant logged in", "participant", p)
	return p, nil
}

func (s *Session) Logout() {
	s.mu.Lock()
	s.user = ""
	s.mu.Unlock()
	if s.actx.Cookies != nil {
		s.actx.Cookies.SetCookie(auth.ExpiredParticipantCookie())
	}
}

// RestoreFromCookie logs in whoever the cookie jar remembers
func (s *Session) RestoreFromCookie() (models.Participant, bool) {
	if s.actx.Cookies == nil {
		return "", false
	}
	p, ok := auth.ParticipantFromCookie(s.actx.Cookies.Cookie(auth.ParticipantCookieName), s.actx.now())
	if !ok {
		return "", false
	}
	s.mu.Lock()
	s.user = p
	s.mu.Unlock()
	return p, true
}

// Participant returns who is logged in
func (s *Session) Participant() (models.Participant, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user != ""
}

func (s *Session) requireParticipant() (models.Participant, error) {
	p, ok := s.Participant()
	if !ok {
		return "", ErrNotLoggedIn
	}
	return p, nil
}
