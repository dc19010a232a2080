// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/danielhkuo/daystogether/auth"
	"github.com/danielhkuo/daystogether/gateway"
	"github.com/danielhkuo/daystogether/models"
	"github.com/danielhkuo/daystogether/optimistic"
	"github.com/danielhkuo/daystogether/reconcile"
	"github.com/danielhkuo/daystogether/storage"
)

// PhotoWall is the shared timeline of photo posts, newest first. Viewing
// is open; posting and editing need either participant's password.
type PhotoWall struct {
	actx    *Context
	session *Session
	ctl     *optimistic.Controller[models.PhotoPost]
	sub     *gateway.Subscription

	mu       sync.Mutex
	unlocked bool

	busy optimistic.Guard
}

// OpenPhotoWall loads the posts and follows them until Close
func OpenPhotoWall(ctx context.Context, actx *Context, session *Session) (*PhotoWall, error) {
	table := gateway.NewTable[models.PhotoPost](actx.Service, models.TablePhotos)
	mirror := reconcile.NewRecordMirror(func(a, b models.PhotoPost) bool { return a.Date > b.Date })
	sub, err := reconcile.Follow(ctx, table, mirror, gateway.Query{OrderBy: "date", Desc: true})
	if err != nil {
		return nil, fmt.Errorf("open photos: %w", err)
	}
	return &PhotoWall{
		actx:    actx,
		session: session,
		ctl:     optimistic.NewController(table, mirror),
		sub:     sub,
	}, nil
}

// Unlock enables editing when password belongs to either participant
func (w *PhotoWall) Unlock(password string) error {
	if _, err := auth.MatchParticipant(w.session.Settings(), password); err != nil {
		return err
	}
	w.mu.Lock()
	w.unlocked = true
	w.mu.Unlock()
	return nil
}

func (w *PhotoWall) checkUnlocked() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.unlocked {
		return ErrLocked
	}
	return nil
}

// Post uploads files to the photos bucket and then creates the post. If
// any upload fails, the files already stored are removed again.
func (w *PhotoWall) Post(ctx context.Context, files []File, description string) (models.PhotoPost, error) {
	if len(files) == 0 {
		return models.PhotoPost{}, models.ErrNoImages
	}
	if err := w.checkUnlocked(); err != nil {
		return models.PhotoPost{}, err
	}

	var posted models.PhotoPost
	err := w.busy.Do(func() error {
		urls, err := w.upload(ctx, files)
		if err != nil {
			return err
		}
		uploader, _ := w.session.Participant()
		posted, err = w.ctl.Create(ctx, models.PhotoPost{
			ImageURLs:   urls,
			Description: description,
			Date:        models.FormatTimestamp(w.actx.now()),
			Uploader:    uploader,
		})
		if err != nil {
			w.removeObjects(ctx, urls)
		}
		return err
	})
	return posted, err
}

// EditDescription replaces a post's description
func (w *PhotoWall) EditDescription(ctx context.Context, id, description string) error {
	if err := w.checkUnlocked(); err != nil {
		return err
	}
	return w.busy.Do(func() error {
		return w.ctl.Update(ctx, id, map[string]any{"description": description}, func(p models.PhotoPost) models.PhotoPost {
			p.Description = description
			return p
		})
	})
}

// AddImages uploads files and appends them to a post
func (w *PhotoWall) AddImages(ctx context.Context, id string, files []File) error {
	if len(files) == 0 {
		return ErrNoFile
	}
	if err := w.checkUnlocked(); err != nil {
		return err
	}
	return w.busy.Do(func() error {
		post, ok := w.ctl.Mirror().Get(id)
		if !ok {
			return fmt.Errorf("photo post %s: %w", id, gateway.ErrNotFound)
		}
		added, err := w.upload(ctx, files)
		if err != nil {
			return err
		}
		urls := append(slices.Clone(post.ImageURLs), added...)
		err = w.ctl.Update(ctx, id, map[string]any{"image_urls": urls}, func(p models.PhotoPost) models.PhotoPost {
			p.ImageURLs = urls
			return p
		})
		if err != nil {
			w.removeObjects(ctx, added)
		}
		return err
	})
}

// RemoveImage drops the image at index from a post and deletes the stored
// file. The last image of a post cannot be removed; delete the post instead.
func (w *PhotoWall) RemoveImage(ctx context.Context, id string, index int) error {
	if err := w.checkUnlocked(); err != nil {
		return err
	}
	post, ok := w.ctl.Mirror().Get(id)
	if !ok {
		return fmt.Errorf("photo post %s: %w", id, gateway.ErrNotFound)
	}
	if index < 0 || index >= len(post.ImageURLs) {
		return ErrImageOutOfRange
	}
	if len(post.ImageURLs) == 1 {
		return ErrLastImage
	}

	return w.busy.Do(func() error {
		removed := post.ImageURLs[index]
		urls := slices.Delete(slices.Clone(post.ImageURLs), index, index+1)
		err := w.ctl.Update(ctx, id, map[string]any{"image_urls": urls}, func(p models.PhotoPost) models.PhotoPost {
			p.ImageURLs = urls
			return p
		})
		if err != nil {
			return err
		}
		return w.actx.Storage.Remove(ctx, models.BucketPhotos, models.ObjectKeyFromURL(removed))
	})
}

// Delete removes a post and then its stored images. Both failures are
// reported; a failed row delete leaves the images in place.
func (w *PhotoWall) Delete(ctx context.Context, id string) error {
	if err := w.checkUnlocked(); err != nil {
		return err
	}
	post, _ := w.ctl.Mirror().Get(id)
	return w.busy.Do(func() error {
		if err := w.ctl.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete photo post: %w", err)
		}
		keys := objectKeys(post.ImageURLs)
		if len(keys) == 0 {
			return nil
		}
		if err := w.actx.Storage.Remove(ctx, models.BucketPhotos, keys...); err != nil {
			return fmt.Errorf("delete photo files: %w", err)
		}
		return nil
	})
}

// Posts returns the wall newest first
func (w *PhotoWall) Posts() []models.PhotoPost { return w.ctl.Mirror().Items() }

func (w *PhotoWall) OnChange(fn func()) (cancel func()) {
	return w.ctl.Mirror().OnChange(fn)
}

func (w *PhotoWall) Close() { w.sub.Unsubscribe() }

func (w *PhotoWall) upload(ctx context.Context, files []File) ([]string, error) {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		u, err := w.actx.Storage.Upload(ctx, models.BucketPhotos, storage.ObjectKey(f.Name), f.Body)
		if err != nil {
			w.removeObjects(ctx, urls)
			return nil, fmt.Errorf("upload %s: %w", f.Name, err)
		}
		urls = append(urls, u)
	}
	return urls, nil
}

// removeObjects cleans up after a failed write. Errors are logged, not
// returned.
func (w *PhotoWall) removeObjects(ctx context.Context, urls []string) {
	keys := objectKeys(urls)
	if len(keys) == 0 {
		return
	}
	if err := w.actx.Storage.Remove(ctx, models.BucketPhotos, keys...); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("failed to remove orphaned photos", "count", len(keys), "error", err)
	}
}

func objectKeys(urls []string) []string {
	keys := make([]string, 0, len(urls))
	for _, u := range urls {
		if k := models.ObjectKeyFromURL(u); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
