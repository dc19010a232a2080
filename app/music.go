// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
	"github.com/danielhkuo/daystogether/storage"
)

// UnknownArtist is stored when the uploader leaves the artist blank
const UnknownArtist = "Unknown"

// MusicPlayer is the shared playlist, newest upload first. The current
// song is tracked by id so feed inserts do not shift it.
type MusicPlayer struct {
	actx    *Context
	session *Session
	table   *gateway.Table[models.Song]
	mirror  *reconcile.Mirror[models.Song]
	sub     *gateway.Subscription

	mu      sync.Mutex
	current string

	uploading optimistic.Guard
	deleting  optimistic.Guard
}

// OpenMusicPlayer loads the playlist and follows it until Close. The first
// song is selected when there is one.
func OpenMusicPlayer(ctx context.Context, actx *Context, session *Session) (*MusicPlayer, error) {
	p := &MusicPlayer{
		actx:    actx,
		session: session,
		table:   gateway.NewTable[models.Song](actx.Service, models.TableSongs),
		mirror:  reconcile.NewRecordMirror(func(a, b models.Song) bool { return a.CreatedAt > b.CreatedAt }),
	}
	sub, err := reconcile.Follow(ctx, p.table, p.mirror, gateway.Query{OrderBy: "created_at", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("open music: %w", err)
	}
	p.sub = sub
	if songs := p.mirror.Items(); len(songs) > 0 {
		p.current = songs[0].ID
	}
	return p, nil
}

// Upload stores the audio file and then adds the song. The title defaults
// to the file name without its extension.
func (p *MusicPlayer) Upload(ctx context.Context, f *File, title, artist string) (models.Song, error) {
	if f == nil || f.Body == nil {
		return models.Song{}, ErrNoFile
	}
	uploader, err := p.session.requireParticipant()
	if err != nil {
		return models.Song{}, err
	}
	if title = strings.TrimSpace(title); title == "" {
		title = songTitle(f.Name)
	}
	if artist = strings.TrimSpace(artist); artist == "" {
		artist = UnknownArtist
	}

	var song models.Song
	err = p.uploading.Do(func() error {
		key := storage.ObjectKey(f.Name)
		u, err := p.actx.Storage.Upload(ctx, models.BucketMusic, key, f.Body)
		if err != nil {
			return fmt.Errorf("upload %s: %w", f.Name, err)
		}
		song, err = p.table.Insert(ctx, models.Song{Title: title, Artist: artist, URL: u, Uploader: uploader})
		if err != nil {
			if rmErr := p.actx.Storage.Remove(ctx, models.BucketMusic, key); rmErr != nil {
				slog.Warn("failed to remove orphaned song file", "key", key, "error", rmErr)
			}
			return fmt.Errorf("add song: %w", err)
		}
		p.mirror.Insert(song)
		slog.Info("song uploaded", "id", song.ID, "title", song.Title)
		return nil
	})
	return song, err
}

// Delete removes the song's row and then its audio file. When the row
// delete fails the file is left alone; when the file removal fails the
// song is gone but the error is still returned. Deleting the current song
// stops playback.
func (p *MusicPlayer) Delete(ctx context.Context, id string) error {
	if _, err := p.session.requireParticipant(); err != nil {
		return err
	}
	return p.deleting.Do(func() error {
		song, ok := p.mirror.Get(id)
		if !ok {
			return fmt.Errorf("song %s: %w", id, gateway.ErrNotFound)
		}
		if err := p.table.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete song: %w", err)
		}
		p.mirror.Remove(id)

		p.mu.Lock()
		if p.current == id {
			p.current = ""
		}
		p.mu.Unlock()

		if err := p.actx.Storage.Remove(ctx, models.BucketMusic, song.ObjectKey()); err != nil {
			return fmt.Errorf("delete song file: %w", err)
		}
		return nil
	})
}

// Songs returns the playlist newest first
func (p *MusicPlayer) Songs() []models.Song { return p.mirror.Items() }

// Current returns the selected song, if any
func (p *MusicPlayer) Current() (models.Song, bool) {
	p.mu.Lock()
	id := p.current
	p.mu.Unlock()
	if id == "" {
		return models.Song{}, false
	}
	return p.mirror.Get(id)
}

// Index returns the playlist position of the current song, or -1
func (p *MusicPlayer) Index() int {
	p.mu.Lock()
	id := p.current
	p.mu.Unlock()
	return indexOf(p.mirror.Items(), id)
}

// Select makes the song with id current
func (p *MusicPlayer) Select(id string) error {
	if !p.mirror.Contains(id) {
		return fmt.Errorf("song %s: %w", id, gateway.ErrNotFound)
	}
	p.mu.Lock()
	p.current = id
	p.mu.Unlock()
	return nil
}

// Next moves to the following song, wrapping at the end
func (p *MusicPlayer) Next() (models.Song, bool) { return p.step(1) }

// Prev moves to the previous song, wrapping at the start
func (p *MusicPlayer) Prev() (models.Song, bool) { return p.step(-1) }

func (p *MusicPlayer) step(delta int) (models.Song, bool) {
	songs := p.mirror.Items()
	if len(songs) == 0 {
		return models.Song{}, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	i := indexOf(songs, p.current)
	switch {
	case i < 0 && delta > 0:
		i = 0
	case i < 0:
		i = len(songs) - 1
	default:
		i = (i + delta + len(songs)) % len(songs)
	}
	p.current = songs[i].ID
	return songs[i], true
}

func (p *MusicPlayer) OnChange(fn func()) (cancel func()) {
	return p.mirror.OnChange(fn)
}

func (p *MusicPlayer) Close() { p.sub.Unsubscribe() }

func indexOf(songs []models.Song, id string) int {
	if id == "" {
		return -1
	}
	for i, s := range songs {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func songTitle(name string) string {
	if t := strings.TrimSuffix(name, filepath.Ext(name)); t != "" {
		return t
	}
	return name
}
