// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/oklog/ulid/v2"

	"github.com/danielhkuo/daystogether/models"
)

var (
	ErrUnknownBucket = errors.New("unknown bucket")
	ErrInvalidKey    = errors.New("invalid object key")
	ErrObjectExists  = errors.New("object already exists")
	ErrNotFound      = errors.New("object not found")
	ErrTooLarge      = errors.New("object too large")
	ErrInvalidImage  = errors.New("unsupported or corrupt image")
)

// PlaceholderObject is left behind by some tools to keep empty buckets around
const PlaceholderObject = ".emptyFolderPlaceholder"

// Upload size limits per bucket
var MaxObjectSize = map[string]int64{
	models.BucketPhotos:  20 << 20,
	models.BucketAvatars: 5 << 20,
	models.BucketMusic:   50 << 20,
}

// DefaultBuckets are the buckets the application uses
var DefaultBuckets = []string{models.BucketPhotos, models.BucketAvatars, models.BucketMusic}

// Buckets stores objects as files under dir/<bucket>/<key>.
type Buckets struct {
	dir     string
	baseURL string
	names   map[string]bool
}

// NewBuckets creates the bucket directories if needed. baseURL is the public
// address of the service and prefixes every public object URL.
func NewBuckets(dir, baseURL string, names ...string) (*Buckets, error) {
	if len(names) == 0 {
		names = DefaultBuckets
	}
	b := &Buckets{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
		names:   make(map[string]bool, len(names)),
	}
	for _, name := range names {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", name, err)
		}
		b.names[name] = true
	}
	return b, nil
}

// Names returns the bucket names in sorted order
func (b *Buckets) Names() []string {
	names := make([]string, 0, len(b.names))
	for n := range b.names {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Upload writes r as bucket/key. Existing objects are never overwritten.
func (b *Buckets) Upload(ctx context.Context, bucket, key string, r io.Reader) (int64, error) {
	path, err := b.path(bucket, key)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("%w: %s/%s", ErrObjectExists, bucket, key)
	}

	limit, ok := MaxObjectSize[bucket]
	if !ok {
		limit = 20 << 20
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, limit+1))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write object: %w", err)
	}
	if n > limit {
		return 0, fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(limit)))
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("failed to store object: %w", err)
	}

	slog.Info("object stored", "bucket", bucket, "key", key, "size", humanize.Bytes(uint64(n)))
	return n, nil
}

// Open returns the object for reading
func (b *Buckets) Open(bucket, key string) (*os.File, error) {
	path, err := b.path(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, bucket, key)
	}
	return f, err
}

// Remove deletes the given keys and returns those that existed.
// Missing keys are skipped, like the hosted service does.
func (b *Buckets) Remove(ctx context.Context, bucket string, keys ...string) ([]string, error) {
	var removed []string
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		path, err := b.path(bucket, key)
		if err != nil {
			return removed, err
		}
		err = os.Remove(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("failed to remove %s/%s: %w", bucket, key, err)
		}
		removed = append(removed, key)
	}
	if len(removed) > 0 {
		slog.Info("objects removed", "bucket", bucket, "count", len(removed))
	}
	return removed, nil
}

// List returns the objects in bucket sorted by name
func (b *Buckets) List(ctx context.Context, bucket string) ([]models.ObjectInfo, error) {
	if !b.names[bucket] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	entries, err := os.ReadDir(filepath.Join(b.dir, bucket))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", bucket, err)
	}

	objects := []models.ObjectInfo{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		objects = append(objects, models.ObjectInfo{Name: e.Name(), Size: info.Size(), Time: info.ModTime()})
	}
	return objects, ctx.Err()
}

// PublicURL is the address the object is served from without a service key
func (b *Buckets) PublicURL(bucket, key string) string {
	return PublicURL(b.baseURL, bucket, key)
}

// PublicURL builds a public object URL for a service at baseURL
func PublicURL(baseURL, bucket, key string) string {
	return strings.TrimRight(baseURL, "/") + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + url.PathEscape(key)
}

func (b *Buckets) path(bucket, key string) (string, error) {
	if !b.names[bucket] {
		return "", fmt.Errorf("%w: %s", ErrUnknownBucket, bucket)
	}
	if !ValidKey(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(b.dir, bucket, key), nil
}

// ValidKey reports whether key is a single safe path segment
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." || len(key) > 255 {
		return false
	}
	return !strings.ContainsAny(key, "/\\\x00")
}

// ObjectKey builds a unique, time-ordered key that keeps a readable
// form of the original file name.
func ObjectKey(name string) string {
	return ulid.Make().String() + "-" + sanitize(name)
}

func sanitize(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	s := strings.Trim(b.String(), ".")
	if s == "" {
		return "file"
	}
	if len(s) > 120 {
		s = s[len(s)-120:]
	}
	return s
}
