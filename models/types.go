// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

// Collection names
const (
	TableSettings       = "settings"
	TableMessages       = "messages"
	TableBlessings      = "blessings"
	TableBlessingStats  = "blessing_stats"
	TablePublicMessages = "public_messages"
	TablePhotos         = "photos"
	TableSongs          = "songs"
	TableVisitedPlaces  = "visited_places"
	TableAchievements   = "achievements"
)

// Bucket names
const (
	BucketPhotos  = "photos"
	BucketAvatars = "avatars"
	BucketMusic   = "music"
)

// Realtime topics that are not collections
const (
	TopicPresence = "online_users"
)

// Change event kinds
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
)

// Input limits
const (
	MaxMessageLength       = 500
	MaxPublicMessageLength = 50
	MaxTitleLength         = 100
)

var (
	ErrInvalidParticipant = errors.New("invalid participant tag")
	ErrMissingID          = errors.New("row has no id")
	ErrEmptyText          = errors.New("text is empty")
	ErrTextTooLong        = errors.New("text is too long")
	ErrNoImages           = errors.New("photo post has no images")
	ErrInvalidDate        = errors.New("invalid date")
)

// Participant identifies one of the two people using the app.
type Participant string

const (
	Name1 Participant = "name1"
	Name2 Participant = "name2"
)

func (p Participant) Valid() bool {
	return p == Name1 || p == Name2
}

// Partner returns the other participant
func (p Participant) Partner() Participant {
	if p == Name1 {
		return Name2
	}
	return Name1
}

// Record is implemented by every collection row type.
type Record interface {
	Key() string
	Validate() error
}

// Domain types

type Settings struct {
	ID            string `json:"id,omitempty"`
	Name1         string `json:"name1"`
	Avatar1       string `json:"avatar1"`
	Password1     string `json:"password1_hash"`
	Name2         string `json:"name2"`
	Avatar2       string `json:"avatar2"`
	Password2     string `json:"password2_hash"`
	StartDate     string `json:"start_date"` // YYYY-MM-DD
	AdminPassword string `json:"admin_password,omitempty"`
}

func (s Settings) Key() string { return s.ID }

func (s Settings) Validate() error {
	if s.StartDate != "" {
		if _, err := ParseDate(s.StartDate); err != nil {
			return err
		}
	}
	return nil
}

// DisplayName returns the configured name for a participant
func (s Settings) DisplayName(p Participant) string {
	switch p {
	case Name1:
		return s.Name1
	case Name2:
		return s.Name2
	}
	return "Unknown"
}

// Avatar returns the avatar URI for a participant
func (s Settings) Avatar(p Participant) string {
	switch p {
	case Name1:
		return s.Avatar1
	case Name2:
		return s.Avatar2
	}
	return ""
}

type Message struct {
	ID     string      `json:"id,omitempty"`
	Text   string      `json:"text"`
	Date   string      `json:"date"` // RFC 3339 timestamp
	Sender Participant `json:"sender,omitempty"`
}

func (m Message) Key() string { return m.ID }

func (m Message) Validate() error {
	if m.Sender != "" && !m.Sender.Valid() {
		return fmt.Errorf("message %s: %w", m.ID, ErrInvalidParticipant)
	}
	return nil
}

type Blessing struct {
	ID        string `json:"id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (b Blessing) Key() string { return b.ID }

func (b Blessing) Validate() error { return nil }

// BlessingStats is the single read-only row of blessing_stats
type BlessingStats struct {
	ID    string `json:"id"`
	Count int    `json:"count"`
}

func (b BlessingStats) Key() string { return b.ID }

func (b BlessingStats) Validate() error { return nil }

type PublicMessage struct {
	ID        string `json:"id,omitempty"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

func (m PublicMessage) Key() string { return m.ID }

func (m PublicMessage) Validate() error {
	if strings.TrimSpace(m.Text) == "" {
		return fmt.Errorf("public message %s: %w", m.ID, ErrEmptyText)
	}
	return nil
}

type PhotoPost struct {
	ID          string      `json:"id,omitempty"`
	ImageURLs   []string    `json:"image_urls"`
	Description string      `json:"description"`
	Date        string      `json:"date"`
	Uploader    Participant `json:"uploader,omitempty"`
}

func (p PhotoPost) Key() string { return p.ID }

func (p PhotoPost) Validate() error {
	if len(p.ImageURLs) == 0 {
		return fmt.Errorf("photo post %s: %w", p.ID, ErrNoImages)
	}
	if p.Uploader != "" && !p.Uploader.Valid() {
		return fmt.Errorf("photo post %s: %w", p.ID, ErrInvalidParticipant)
	}
	return nil
}

type Song struct {
	ID        string      `json:"id,omitempty"`
	Title     string      `json:"title"`
	Artist    string      `json:"artist"`
	URL       string      `json:"url"`
	Uploader  Participant `json:"uploader,omitempty"`
	CreatedAt string      `json:"created_at,omitempty"`
}

func (s Song) Key() string { return s.ID }

func (s Song) Validate() error {
	if s.URL == "" {
		return fmt.Errorf("song %s: missing url", s.ID)
	}
	if s.Uploader != "" && !s.Uploader.Valid() {
		return fmt.Errorf("song %s: %w", s.ID, ErrInvalidParticipant)
	}
	return nil
}

// ObjectKey extracts the storage key from the public audio URL.
// URL format: .../music/<key>
func (s Song) ObjectKey() string {
	return ObjectKeyFromURL(s.URL)
}

type VisitedPlace struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

func (v VisitedPlace) Key() string { return v.ID }

func (v VisitedPlace) Validate() error {
	if v.Name == "" {
		return errors.New("visited place has no name")
	}
	return nil
}

type Achievement struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title"`
	Date  string `json:"date"` // YYYY-MM-DD
	Icon  string `json:"icon"`
}

func (a Achievement) Key() string { return a.ID }

func (a Achievement) Validate() error {
	if _, err := ParseDate(a.Date); err != nil {
		return fmt.Errorf("achievement %s: %w", a.ID, err)
	}
	return nil
}

// Presence is the ephemeral state a participant tracks on the presence topic.
type Presence struct {
	User      Participant `json:"user"`
	OnlineAt  string      `json:"online_at"`
	IsFocused bool        `json:"is_focused"`
}

// Wire types

// ChangeEvent is one notification from a collection's change feed.
// Old carries only the primary key for DELETE events.
type ChangeEvent struct {
	Topic string          `json:"topic"`
	Event string          `json:"event"`
	New   json.RawMessage `json:"new,omitempty"`
	Old   json.RawMessage `json:"old,omitempty"`
}

// Realtime frame types
const (
	FrameSubscribe     = "subscribe"
	FrameSubscribed    = "subscribed"
	FrameUnsubscribe   = "unsubscribe"
	FrameTrack         = "track"
	FrameUntrack       = "untrack"
	FrameChange        = "change"
	FramePresenceState = "presence_state"
	FrameError         = "error"
)

// Frame is the envelope for every websocket message in both directions.
type Frame struct {
	Type      string                `json:"type"`
	Topic     string                `json:"topic,omitempty"`
	Change    *ChangeEvent          `json:"change,omitempty"`
	Presence  *Presence             `json:"presence,omitempty"`
	Presences map[string][]Presence `json:"presences,omitempty"`
	Message   string                `json:"message,omitempty"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type RemoveObjectsRequest struct {
	Prefixes []string `json:"prefixes"`
}

type RemoveObjectsResponse struct {
	Removed []string `json:"removed"`
}

type ListObjectsResponse struct {
	Objects []ObjectInfo `json:"objects"`
}

type ObjectInfo struct {
	Name string    `json:"name"`
	Size int64     `json:"size"`
	Time time.Time `json:"updated_at"`
}

type UploadResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// Helpers

// DateLayout is the layout of calendar dates (start date, achievements).
const DateLayout = "2006-01-02"

// TimestampLayout is fixed width so timestamps sort lexically.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return t, nil
}

// ObjectKeyFromURL returns the last path segment of a public object URL,
// which is the object's key in its bucket.
func ObjectKeyFromURL(u string) string {
	seg := u[strings.LastIndex(u, "/")+1:]
	if key, err := url.PathUnescape(seg); err == nil {
		return key
	}
	return seg
}

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// CheckText validates user-entered text against a rune limit.
func CheckText(text string, limit int) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if utf8.RuneCountInString(text) > limit {
		return fmt.Errorf("%w: limit is %d characters", ErrTextTooLong, limit)
	}
	return nil
}
